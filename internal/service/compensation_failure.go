package service

import (
	"context"
	"fmt"

	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/repository"
)

// CompensationFailure 一次未完成的补偿
type CompensationFailure struct {
	SagaID     string
	OrderID    uint
	Resource   string
	ResourceID uint
	Amount     string
	Reason     string
	Err        error
}

// CompensationFailureHandler 补偿失败处理扩展点
// 默认实现只记录待人工处理，不做自动重试；需要重试或死信队列时替换实现。
type CompensationFailureHandler interface {
	HandleCompensationFailure(ctx context.Context, failure CompensationFailure)
}

// RecordingFailureHandler 记录日志、落库并计数
type RecordingFailureHandler struct {
	repo    repository.CompensationFailureRepository
	metrics *metrics.Metrics
}

// NewRecordingFailureHandler 创建默认补偿失败处理器
func NewRecordingFailureHandler(repo repository.CompensationFailureRepository, m *metrics.Metrics) *RecordingFailureHandler {
	return &RecordingFailureHandler{repo: repo, metrics: m}
}

// HandleCompensationFailure 记录补偿失败
func (h *RecordingFailureHandler) HandleCompensationFailure(ctx context.Context, failure CompensationFailure) {
	errText := ""
	if failure.Err != nil {
		errText = failure.Err.Error()
	}
	logger.Errorw("compensation_failed",
		"saga_id", failure.SagaID,
		"order_id", failure.OrderID,
		"resource", failure.Resource,
		"resource_id", failure.ResourceID,
		"amount", failure.Amount,
		"reason", failure.Reason,
		"error", errText,
	)
	h.metrics.CompensationFailure(failure.Resource)
	if h.repo == nil {
		return
	}
	row := &models.CompensationFailure{
		SagaID:     failure.SagaID,
		OrderID:    failure.OrderID,
		Resource:   failure.Resource,
		ResourceID: failure.ResourceID,
		Amount:     failure.Amount,
		Reason:     failure.Reason,
		Error:      errText,
	}
	if err := h.repo.Create(row); err != nil {
		logger.Errorw("compensation_failure_record_failed",
			"saga_id", failure.SagaID,
			"order_id", failure.OrderID,
			"resource", failure.Resource,
			"error", err,
		)
	}
}

// ErrCompensationFailureNotFound 补偿失败记录不存在或已处理
var ErrCompensationFailureNotFound = fmt.Errorf("%w: compensation failure", ErrNotFound)

// ListCompensationFailures 分页查询补偿失败记录
func (s *CompensationService) ListCompensationFailures(filter repository.CompensationFailureFilter) ([]models.CompensationFailure, int64, error) {
	return s.repos.CompensationFailure.List(filter)
}

// ResolveCompensationFailure 人工处理后标记记录
func (s *CompensationService) ResolveCompensationFailure(id uint) error {
	if id == 0 {
		return ErrInvalidArgument
	}
	affected, err := s.repos.CompensationFailure.MarkResolved(id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCompensationFailureNotFound
	}
	logger.Infow("compensation_failure_resolved", "id", id)
	return nil
}
