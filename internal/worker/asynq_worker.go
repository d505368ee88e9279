package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/provider"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
// 同一个 ServeMux 同时挂在 asynq 服务端和进程内分发器上。
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskCouponIssued, c.handleCouponIssued)
	mux.HandleFunc(queue.TaskCouponIssueFailed, c.handleCouponIssueFailed)
	mux.HandleFunc(queue.TaskCouponQuantityIncrease, c.handleCouponQuantityIncrease)
	mux.HandleFunc(queue.TaskOrderValidationRequested, c.handleOrderValidation)
	mux.HandleFunc(queue.TaskStockDeductionRequested, c.handleStockDeduction)
	mux.HandleFunc(queue.TaskOrderCreationRequested, c.handleOrderCreation)
	mux.HandleFunc(queue.TaskOrderCompleted, c.handleOrderCompleted)
	mux.HandleFunc(queue.TaskOrderValidationFailed, c.handleValidationFailed)
	mux.HandleFunc(queue.TaskOrderStockDeductionFailed, c.handleStockDeductionFailed)
	mux.HandleFunc(queue.TaskOrderCreationFailed, c.handleCreationFailed)
	mux.HandleFunc(queue.TaskOrderCancel, c.handleOrderCancel)
	mux.HandleFunc(queue.TaskPaymentFailed, c.handlePaymentFailed)
}

// NewServeMux 创建已注册全部任务的 ServeMux
func (c *Consumer) NewServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	c.Register(mux)
	return mux
}

func (c *Consumer) handleCouponIssued(ctx context.Context, task *asynq.Task) error {
	var payload queue.CouponIssuedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	if payload.UserID == 0 || payload.CouponID == 0 {
		logger.Debugw("worker_coupon_issued_skip_invalid_payload", "user_id", payload.UserID, "coupon_id", payload.CouponID)
		return nil
	}
	return c.finish(task, c.CouponService.HandleIssued(ctx, payload),
		"coupon_id", payload.CouponID,
		"user_id", payload.UserID,
	)
}

func (c *Consumer) handleCouponIssueFailed(ctx context.Context, task *asynq.Task) error {
	var payload queue.CouponIssueFailedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.CouponService.HandleIssueFailed(ctx, payload),
		"coupon_id", payload.CouponID,
		"user_id", payload.UserID,
		"reason", payload.Reason,
	)
}

func (c *Consumer) handleCouponQuantityIncrease(ctx context.Context, task *asynq.Task) error {
	var payload queue.CouponQuantityIncreasePayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.CouponService.HandleQuantityIncrease(ctx, payload), "coupon_id", payload.CouponID)
}

func (c *Consumer) handleOrderValidation(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderValidationRequestedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.Command.SagaID) == "" {
		logger.Debugw("worker_order_validation_skip_invalid_payload")
		return nil
	}
	return c.finish(task, c.OrderSagaService.HandleValidation(ctx, payload), "saga_id", payload.Command.SagaID)
}

func (c *Consumer) handleStockDeduction(ctx context.Context, task *asynq.Task) error {
	var payload queue.StockDeductionRequestedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.OrderSagaService.HandleStockDeduction(ctx, payload), "saga_id", payload.Command.SagaID)
}

func (c *Consumer) handleOrderCreation(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderCreationRequestedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.OrderSagaService.HandleOrderCreation(ctx, payload), "saga_id", payload.Command.SagaID)
}

func (c *Consumer) handleOrderCompleted(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderCompletedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.OrderSagaService.HandleCompleted(ctx, payload),
		"saga_id", payload.SagaID,
		"order_id", payload.OrderID,
	)
}

func (c *Consumer) handleValidationFailed(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReservationReleasePayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.CompensationService.ReleaseReservation(ctx, service.TriggerValidationFailed, payload), "saga_id", payload.SagaID)
}

func (c *Consumer) handleStockDeductionFailed(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReservationReleasePayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.CompensationService.ReleaseReservation(ctx, service.TriggerStockFailed, payload), "saga_id", payload.SagaID)
}

func (c *Consumer) handleCreationFailed(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderCreationFailedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	return c.finish(task, c.CompensationService.CompensateCreationFailure(ctx, payload), "saga_id", payload.SagaID)
}

func (c *Consumer) handleOrderCancel(ctx context.Context, task *asynq.Task) error {
	var payload queue.OrderCancelPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_order_cancel_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	err := c.CompensationService.CompensateOrder(ctx, service.TriggerOrderCancel, payload.OrderID, "order canceled")
	return c.finish(task, err, "order_id", payload.OrderID)
}

func (c *Consumer) handlePaymentFailed(ctx context.Context, task *asynq.Task) error {
	var payload queue.PaymentFailedPayload
	if err := c.decode(task, &payload); err != nil {
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_payment_failed_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "payment failed"
	}
	err := c.CompensationService.CompensateOrder(ctx, service.TriggerPaymentFailed, payload.OrderID, reason)
	return c.finish(task, err, "order_id", payload.OrderID)
}

// decode 解析任务负载，格式错误的任务重试也无法成功，直接丢弃
func (c *Consumer) decode(task *asynq.Task, dest interface{}) error {
	if task == nil {
		return fmt.Errorf("nil task: %w", asynq.SkipRetry)
	}
	if err := queue.Decode(task, dest); err != nil {
		logger.Warnw("worker_task_unmarshal_failed", "task_type", task.Type(), "error", err)
		c.taskMetrics().TaskProcessed(task.Type(), metrics.ResultFailure)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// finish 记录任务结果；返回错误交给队列重试
func (c *Consumer) finish(task *asynq.Task, err error, kv ...interface{}) error {
	if err == nil {
		c.taskMetrics().TaskProcessed(task.Type(), metrics.ResultSuccess)
		return nil
	}
	c.taskMetrics().TaskProcessed(task.Type(), metrics.ResultFailure)
	fields := append([]interface{}{"task_type", task.Type(), "error", err}, kv...)
	if errors.Is(err, asynq.SkipRetry) {
		logger.Errorw("worker_task_dropped", fields...)
	} else {
		logger.Warnw("worker_task_failed", fields...)
	}
	return err
}

func (c *Consumer) taskMetrics() *metrics.Metrics {
	if c == nil || c.Container == nil {
		return nil
	}
	return c.Metrics
}
