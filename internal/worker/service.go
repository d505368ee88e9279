package worker

import (
	"context"
	"errors"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/queue"

	"github.com/hibiken/asynq"
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg config.QueueConfig, consumer *Consumer) (*Service, error) {
	if !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      consumer.NewServeMux(),
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动消费并阻塞到 ctx 结束，信号由 app.Runner 统一处理
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// LocalService 进程内分发服务（队列关闭时使用）
type LocalService struct {
	name       string
	dispatcher *queue.LocalDispatcher
}

// NewLocalService 创建进程内分发服务，并把消费者挂到分发器上
func NewLocalService(dispatcher *queue.LocalDispatcher, consumer *Consumer) (*LocalService, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	dispatcher.SetHandler(consumer.NewServeMux())
	return &LocalService{name: "local_worker", dispatcher: dispatcher}, nil
}

// Name 服务名称
func (s *LocalService) Name() string {
	if s == nil || s.name == "" {
		return "local_worker"
	}
	return s.name
}

// Start 启动工作协程并阻塞到 ctx 结束
func (s *LocalService) Start(ctx context.Context) error {
	if s == nil || s.dispatcher == nil {
		return errors.New("local worker not initialized")
	}
	s.dispatcher.Start()
	<-ctx.Done()
	return nil
}

// Stop 等待在途任务处理完毕后停止
func (s *LocalService) Stop(ctx context.Context) error {
	if s == nil || s.dispatcher == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.dispatcher.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warnw("local_worker_stop_timeout", "error", ctx.Err())
		return ctx.Err()
	}
}
