package app

import (
	"errors"
	"net"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/provider"
	"github.com/dujiao-next/flashsale/internal/router"
	"github.com/dujiao-next/flashsale/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, err
	}

	var services []Service

	// 初始化 HTTP 服务
	if runsAPI(mode) {
		engine := router.SetupRouter(cfg, container)
		addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
		services = append(services, NewHTTPService(addr, engine))
	}

	// 初始化 Worker 服务
	// 队列关闭时事件由进程内分发器处理，任何模式下都必须运行，否则已发布的阶段任务无人消费
	consumer := worker.NewConsumer(container)
	switch {
	case !cfg.Queue.Enabled:
		localService, err := worker.NewLocalService(container.Dispatcher, consumer)
		if err != nil {
			container.Close()
			return nil, err
		}
		services = append(services, localService)
	case runsWorker(mode):
		workerService, err := worker.NewService(cfg.Queue, consumer)
		if err != nil {
			container.Close()
			return nil, err
		}
		services = append(services, workerService)
	}

	if len(services) == 0 {
		container.Close()
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...).WithCleanup(container.Close), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return err
	}
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(opts.Config.Server.Host, opts.Config.Server.Port)
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode, "queue_enabled", opts.Config.Queue.Enabled)
	return RunWithOptions(runner, opts)
}
