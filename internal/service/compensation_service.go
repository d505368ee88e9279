package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"

	"gorm.io/gorm"
)

// 补偿触发来源（指标标签）
const (
	TriggerValidationFailed = "validation_failed"
	TriggerStockFailed      = "stock_deduction_failed"
	TriggerCreationFailed   = "creation_failed"
	TriggerOrderCancel      = "order_cancel"
	TriggerPaymentFailed    = "payment_failed"
)

// CompensationService 补偿执行器
// 所有回补以持久化记录为准（saga 状态、订单 compensated_at、积分流水 canceled），重复执行无额外效果。
// 单项回补失败直接交给 CompensationFailureHandler；整体出错先由队列重试，最后一次投递仍失败时逐项交给处理器。
type CompensationService struct {
	db       *gorm.DB
	repos    Repositories
	stock    *StockManager
	usage    *CouponUsageManager
	points   *PointManager
	locker   lock.Locker
	locks    config.LockConfig
	failures CompensationFailureHandler
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCompensationService 创建补偿执行器
func NewCompensationService(db *gorm.DB, repos Repositories, stock *StockManager, usage *CouponUsageManager, points *PointManager, locker lock.Locker, locks config.LockConfig, failures CompensationFailureHandler, m *metrics.Metrics) *CompensationService {
	return &CompensationService{
		db:       db,
		repos:    repos,
		stock:    stock,
		usage:    usage,
		points:   points,
		locker:   locker,
		locks:    locks,
		failures: failures,
		metrics:  m,
		now:      time.Now,
	}
}

// ReleaseReservation 校验或库存扣减失败：只回补缓存预占
func (s *CompensationService) ReleaseReservation(ctx context.Context, trigger string, payload queue.ReservationReleasePayload) error {
	release := false
	err := lock.WithLock(ctx, s.locker, lock.SagaKey(payload.SagaID), lockOptions(s.locks.Compensation()), func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			release, err = s.finishSaga(tx, payload.SagaID, payload.UserID, payload.Reason)
			return err
		})
	})
	if err != nil {
		s.metrics.Compensation(trigger, metrics.ResultFailure)
		s.giveUpIfLast(ctx, trigger, err, reservationFailures(payload.SagaID, 0, constants.CompensationResourceCacheStock, payload.Reservations, payload.Reason))
		return err
	}
	if !release {
		s.metrics.Compensation(trigger, metrics.ResultSkipped)
		logger.Infow("compensation_skipped", "trigger", trigger, "saga_id", payload.SagaID)
		return nil
	}
	s.releaseCache(ctx, payload.SagaID, 0, payload.Reservations, payload.Reason)
	s.metrics.Compensation(trigger, metrics.ResultSuccess)
	logger.Infow("compensation_completed",
		"trigger", trigger,
		"saga_id", payload.SagaID,
		"reason", payload.Reason,
	)
	return nil
}

// CompensateCreationFailure 订单创建失败：回补数据库库存与缓存预占
func (s *CompensationService) CompensateCreationFailure(ctx context.Context, payload queue.OrderCreationFailedPayload) error {
	var (
		release bool
		failed  []CompensationFailure
	)
	err := lock.WithLock(ctx, s.locker, lock.SagaKey(payload.SagaID), lockOptions(s.locks.Compensation()), func(ctx context.Context) error {
		return s.stock.WithLocks(ctx, payload.Reservations, func(ctx context.Context) error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				failed = nil
				saga, err := s.repos.Saga.WithTx(tx).GetBySagaIDForUpdate(payload.SagaID)
				if err != nil {
					return err
				}
				if saga != nil && saga.State == constants.SagaStateCompensating && payload.NeedsDurableRecovery {
					failed, err = s.restoreStockTx(tx, payload.SagaID, 0, payload.Reservations, payload.Reason)
					if err != nil {
						return err
					}
				}
				release, err = s.finishSaga(tx, payload.SagaID, payload.UserID, payload.Reason)
				return err
			})
		})
	})
	if err != nil {
		s.metrics.Compensation(TriggerCreationFailed, metrics.ResultFailure)
		var pending []CompensationFailure
		if payload.NeedsDurableRecovery {
			pending = reservationFailures(payload.SagaID, 0, constants.CompensationResourceStock, payload.Reservations, payload.Reason)
		}
		pending = append(pending, reservationFailures(payload.SagaID, 0, constants.CompensationResourceCacheStock, payload.Reservations, payload.Reason)...)
		s.giveUpIfLast(ctx, TriggerCreationFailed, err, pending)
		return err
	}
	if !release {
		s.metrics.Compensation(TriggerCreationFailed, metrics.ResultSkipped)
		logger.Infow("compensation_skipped", "trigger", TriggerCreationFailed, "saga_id", payload.SagaID)
		return nil
	}
	s.report(ctx, failed)
	s.releaseCache(ctx, payload.SagaID, 0, payload.Reservations, payload.Reason)
	s.metrics.Compensation(TriggerCreationFailed, metrics.ResultSuccess)
	logger.Infow("compensation_completed",
		"trigger", TriggerCreationFailed,
		"saga_id", payload.SagaID,
		"reason", payload.Reason,
	)
	return nil
}

// CompensateOrder 订单取消或支付失败：回补库存、优惠券使用次数与积分
func (s *CompensationService) CompensateOrder(ctx context.Context, trigger string, orderID uint, reason string) error {
	snapshot, err := s.repos.Order.GetByID(orderID)
	if err != nil {
		s.metrics.Compensation(trigger, metrics.ResultFailure)
		s.giveUpIfLast(ctx, trigger, err, []CompensationFailure{{
			OrderID:    orderID,
			Resource:   constants.CompensationResourceOrder,
			ResourceID: orderID,
			Reason:     reason,
		}})
		return err
	}
	if snapshot == nil {
		logger.Warnw("compensation_order_missing", "trigger", trigger, "order_id", orderID)
		return nil
	}
	if snapshot.CompensatedAt != nil {
		s.metrics.Compensation(trigger, metrics.ResultSkipped)
		return nil
	}
	lines := orderReservations(snapshot)

	var (
		compensated bool
		failed      []CompensationFailure
	)
	run := func(ctx context.Context) error {
		return s.stock.WithLocks(ctx, lines, func(ctx context.Context) error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				compensated = false
				failed = nil
				order, err := s.repos.Order.WithTx(tx).GetByIDForUpdate(orderID)
				if err != nil {
					return err
				}
				if order == nil || order.CompensatedAt != nil {
					return nil
				}
				if order.Status != constants.OrderStatusCanceled && order.Status != constants.OrderStatusPaymentFailed {
					logger.Warnw("compensation_order_status_invalid",
						"trigger", trigger,
						"order_id", orderID,
						"status", order.Status,
					)
					return nil
				}
				now := s.now()

				failed, err = s.restoreStockTx(tx, order.SagaID, order.ID, orderReservations(order), reason)
				if err != nil {
					return err
				}
				if order.CouponID != nil {
					restored, err := s.usage.DecrementTx(tx, order.UserID, *order.CouponID)
					if err != nil && !errors.Is(err, ErrNotFound) {
						return err
					}
					if !restored {
						failed = append(failed, CompensationFailure{
							SagaID:     order.SagaID,
							OrderID:    order.ID,
							Resource:   constants.CompensationResourceCouponUsage,
							ResourceID: *order.CouponID,
							Amount:     "1",
							Reason:     reason,
							Err:        err,
						})
					}
				}
				restoredPoints, err := s.points.RestoreTx(tx, order.ID, now)
				if err != nil {
					if !errors.Is(err, ErrCompensationFailure) {
						return err
					}
					failed = append(failed, CompensationFailure{
						SagaID:     order.SagaID,
						OrderID:    order.ID,
						Resource:   constants.CompensationResourcePoint,
						ResourceID: order.UserID,
						Amount:     order.PointAmount.Sub(restoredPoints).String(),
						Reason:     reason,
						Err:        err,
					})
				}

				affected, err := s.repos.Order.WithTx(tx).MarkCompensated(order.ID, now)
				if err != nil {
					return err
				}
				compensated = affected > 0
				return nil
			})
		})
	}

	err = lock.WithLock(ctx, s.locker, lock.OrderCompensationKey(orderID), lockOptions(s.locks.Compensation()), func(ctx context.Context) error {
		if snapshot.CouponID != nil {
			return s.usage.WithLock(ctx, snapshot.UserID, *snapshot.CouponID, run)
		}
		return run(ctx)
	})
	if err != nil {
		s.metrics.Compensation(trigger, metrics.ResultFailure)
		s.giveUpIfLast(ctx, trigger, err, orderFailures(snapshot, reason))
		return err
	}
	if !compensated {
		s.metrics.Compensation(trigger, metrics.ResultSkipped)
		logger.Infow("compensation_skipped", "trigger", trigger, "order_id", orderID)
		return nil
	}
	s.report(ctx, failed)
	s.releaseCache(ctx, snapshot.SagaID, orderID, lines, reason)
	s.metrics.Compensation(trigger, metrics.ResultSuccess)
	logger.Infow("compensation_completed",
		"trigger", trigger,
		"order_id", orderID,
		"saga_id", snapshot.SagaID,
		"reason", reason,
	)
	return nil
}

// finishSaga 将 COMPENSATING 推进到 FAILED，返回本次是否需要回补缓存
// saga 记录缺失时补写一条 FAILED 记录，阻止迟到的阶段任务继续推进。
func (s *CompensationService) finishSaga(tx *gorm.DB, sagaID string, userID uint, reason string) (bool, error) {
	repo := s.repos.Saga.WithTx(tx)
	saga, err := repo.GetBySagaIDForUpdate(sagaID)
	if err != nil {
		return false, err
	}
	if saga == nil {
		err := repo.Create(&models.OrderSaga{
			SagaID: sagaID,
			UserID: userID,
			State:  constants.SagaStateFailed,
			Reason: truncateReason(reason),
		})
		return err == nil, err
	}
	if saga.State != constants.SagaStateCompensating {
		return false, nil
	}
	affected, err := repo.Transition(sagaID, constants.SagaStateCompensating, constants.SagaStateFailed, nil)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// restoreStockTx 逐个商品回补数据库库存，单个商品失败记录后继续
func (s *CompensationService) restoreStockTx(tx *gorm.DB, sagaID string, orderID uint, lines []queue.Reservation, reason string) ([]CompensationFailure, error) {
	var failed []CompensationFailure
	for _, line := range normalizeReservations(lines) {
		err := s.stock.IncreaseTx(tx, []queue.Reservation{line})
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrCompensationFailure) {
			return nil, err
		}
		failed = append(failed, CompensationFailure{
			SagaID:     sagaID,
			OrderID:    orderID,
			Resource:   constants.CompensationResourceStock,
			ResourceID: line.ProductID,
			Amount:     strconv.Itoa(line.Quantity),
			Reason:     reason,
			Err:        err,
		})
	}
	return failed, nil
}

func (s *CompensationService) releaseCache(ctx context.Context, sagaID string, orderID uint, lines []queue.Reservation, reason string) {
	for _, line := range normalizeReservations(lines) {
		errs := s.stock.Release(ctx, []queue.Reservation{line})
		if len(errs) == 0 {
			continue
		}
		s.failures.HandleCompensationFailure(ctx, CompensationFailure{
			SagaID:     sagaID,
			OrderID:    orderID,
			Resource:   constants.CompensationResourceCacheStock,
			ResourceID: line.ProductID,
			Amount:     strconv.Itoa(line.Quantity),
			Reason:     reason,
			Err:        errs[0],
		})
	}
}

func (s *CompensationService) report(ctx context.Context, failed []CompensationFailure) {
	for _, failure := range failed {
		s.failures.HandleCompensationFailure(ctx, failure)
	}
}

// giveUpIfLast 最后一次投递仍失败时，把未完成的回补逐项交给失败处理器留待人工处理
func (s *CompensationService) giveUpIfLast(ctx context.Context, trigger string, cause error, pending []CompensationFailure) {
	if !queue.LastAttempt(ctx) {
		return
	}
	logger.Errorw("compensation_retries_exhausted",
		"trigger", trigger,
		"pending", len(pending),
		"error", cause,
	)
	ctx = context.WithoutCancel(ctx)
	for _, failure := range pending {
		failure.Err = cause
		s.failures.HandleCompensationFailure(ctx, failure)
	}
}

func reservationFailures(sagaID string, orderID uint, resource string, lines []queue.Reservation, reason string) []CompensationFailure {
	merged := normalizeReservations(lines)
	out := make([]CompensationFailure, 0, len(merged))
	for _, line := range merged {
		out = append(out, CompensationFailure{
			SagaID:     sagaID,
			OrderID:    orderID,
			Resource:   resource,
			ResourceID: line.ProductID,
			Amount:     strconv.Itoa(line.Quantity),
			Reason:     reason,
		})
	}
	return out
}

// orderFailures 订单取消或支付失败需要回补的全部资源
func orderFailures(order *models.Order, reason string) []CompensationFailure {
	lines := orderReservations(order)
	out := reservationFailures(order.SagaID, order.ID, constants.CompensationResourceStock, lines, reason)
	out = append(out, reservationFailures(order.SagaID, order.ID, constants.CompensationResourceCacheStock, lines, reason)...)
	if order.CouponID != nil {
		out = append(out, CompensationFailure{
			SagaID:     order.SagaID,
			OrderID:    order.ID,
			Resource:   constants.CompensationResourceCouponUsage,
			ResourceID: *order.CouponID,
			Amount:     "1",
			Reason:     reason,
		})
	}
	if order.PointAmount.Decimal.IsPositive() {
		out = append(out, CompensationFailure{
			SagaID:     order.SagaID,
			OrderID:    order.ID,
			Resource:   constants.CompensationResourcePoint,
			ResourceID: order.UserID,
			Amount:     order.PointAmount.String(),
			Reason:     reason,
		})
	}
	return out
}

func orderReservations(order *models.Order) []queue.Reservation {
	lines := make([]queue.Reservation, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, queue.Reservation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
