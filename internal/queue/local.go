package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/logger"

	"github.com/hibiken/asynq"
)

// ErrDispatcherClosed 分发器已关闭
var ErrDispatcherClosed = errors.New("dispatcher closed")

const localTaskTimeout = 30 * time.Second

// LocalDispatcher 进程内任务分发器
// 与 asynq 共用同一个 Handler（ServeMux），用于测试及未启用 Redis 队列的部署。
type LocalDispatcher struct {
	handler  asynq.Handler
	workers  int
	maxRetry int
	backoff  time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*asynq.Task
	closed  bool

	inflight sync.WaitGroup
	stopped  sync.WaitGroup
}

// NewLocalDispatcher 创建进程内分发器
func NewLocalDispatcher(handler asynq.Handler, cfg config.DispatcherConfig, maxRetry int) *LocalDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	d := &LocalDispatcher{
		handler:  handler,
		workers:  workers,
		maxRetry: maxRetry,
		backoff:  20 * time.Millisecond,
		pending:  make([]*asynq.Task, 0, cfg.Buffer),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SetHandler 替换处理器（需在 Start 之前调用）
func (d *LocalDispatcher) SetHandler(handler asynq.Handler) {
	d.handler = handler
}

// Start 启动 worker
func (d *LocalDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.stopped.Add(1)
		go d.loop()
	}
}

// Publish 入队任务
// 队列无界：处理器内部继续发布事件时不会因缓冲区已满而阻塞 worker。
func (d *LocalDispatcher) Publish(ctx context.Context, taskType string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := NewTask(taskType, payload)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.inflight.Add(1)
	d.pending = append(d.pending, task)
	d.cond.Signal()
	return nil
}

// Wait 等待所有已发布任务（含处理中派生的任务）处理完毕
func (d *LocalDispatcher) Wait() {
	d.inflight.Wait()
}

// Close 处理完剩余任务后停止 worker
func (d *LocalDispatcher) Close() {
	d.inflight.Wait()
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.stopped.Wait()
}

func (d *LocalDispatcher) loop() {
	defer d.stopped.Done()
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		task := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.process(task)
		d.inflight.Done()
	}
}

func (d *LocalDispatcher) process(task *asynq.Task) {
	for attempt := 0; ; attempt++ {
		err := d.run(task, attempt)
		if err == nil {
			return
		}
		if errors.Is(err, asynq.SkipRetry) || attempt >= d.maxRetry {
			logger.Errorw("local_task_dropped",
				"task_type", task.Type(),
				"attempt", attempt+1,
				"error", err,
			)
			return
		}
		logger.Warnw("local_task_retry",
			"task_type", task.Type(),
			"attempt", attempt+1,
			"error", err,
		)
		time.Sleep(d.backoff * time.Duration(attempt+1))
	}
}

func (d *LocalDispatcher) run(task *asynq.Task, attempt int) (err error) {
	ctx, cancel := context.WithTimeout(WithAttempt(context.Background(), attempt, d.maxRetry), localTaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("local_task_panic", "task_type", task.Type(), "panic", r)
			err = asynq.SkipRetry
		}
	}()
	return d.handler.ProcessTask(ctx, task)
}
