package service

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/repository"
)

// CouponService 先到先得领券
// 同步路径只做缓存层原子分配，落库与发放计数由异步任务完成。
type CouponService struct {
	repos     Repositories
	metadata  *cache.CouponMetadataCache
	allocator *cache.CouponAllocator
	locker    lock.Locker
	locks     config.LockConfig
	publisher queue.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewCouponService 创建领券服务
func NewCouponService(repos Repositories, metadata *cache.CouponMetadataCache, allocator *cache.CouponAllocator, locker lock.Locker, locks config.LockConfig, publisher queue.Publisher, m *metrics.Metrics) *CouponService {
	return &CouponService{
		repos:     repos,
		metadata:  metadata,
		allocator: allocator,
		locker:    locker,
		locks:     locks,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
	}
}

// IssueResult 领券结果
type IssueResult struct {
	CouponID uint  `json:"coupon_id"`
	UserID   uint  `json:"user_id"`
	Rank     int64 `json:"rank"`
}

// Issue 领取优惠券
func (s *CouponService) Issue(ctx context.Context, userID, couponID uint) (*IssueResult, error) {
	if userID == 0 {
		return nil, ErrInvalidUserID
	}
	if couponID == 0 {
		return nil, ErrInvalidCouponID
	}
	exists, err := s.repos.User.Exists(userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	meta, err := s.metadata.Get(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrCouponNotFound
	}
	now := s.now()
	if !meta.IsActive {
		return nil, ErrCouponInactive
	}
	if !meta.Available(now) {
		return nil, ErrCouponNotInWindow
	}

	rank, err := s.allocator.Issue(ctx, couponID, userID, now, meta.TotalQuantity)
	switch {
	case errors.Is(err, cache.ErrAllocDuplicate):
		s.metrics.CouponIssue(metrics.ResultFailure)
		return nil, ErrCouponAlreadyIssued
	case errors.Is(err, cache.ErrAllocCapacityExceeded):
		s.metrics.CouponIssue(metrics.ResultFailure)
		return nil, ErrCouponSoldOut
	case err != nil:
		return nil, err
	}

	payload := queue.CouponIssuedPayload{UserID: userID, CouponID: couponID, Rank: rank, IssuedAt: now}
	if err := s.publisher.Publish(ctx, queue.TaskCouponIssued, payload); err != nil {
		// 事件未发出则释放名额，避免缓存与数据库长期不一致
		if _, cancelErr := s.allocator.Cancel(ctx, couponID, userID); cancelErr != nil {
			logger.Errorw("coupon_claim_cancel_failed",
				"coupon_id", couponID,
				"user_id", userID,
				"error", cancelErr,
			)
		}
		return nil, err
	}
	s.metrics.CouponIssue(metrics.ResultSuccess)
	return &IssueResult{CouponID: couponID, UserID: userID, Rank: rank}, nil
}

// HandleIssued 落库用户优惠券
func (s *CouponService) HandleIssued(ctx context.Context, payload queue.CouponIssuedPayload) error {
	var reason string
	err := lock.WithLock(ctx, s.locker, lock.UserCouponKey(payload.UserID, payload.CouponID), lockOptions(s.locks.UserCoupon()), func(ctx context.Context) error {
		issuedAt := payload.IssuedAt
		if issuedAt.IsZero() {
			issuedAt = s.now()
		}
		row := &models.UserCoupon{UserID: payload.UserID, CouponID: payload.CouponID, IssuedAt: issuedAt}
		if err := s.repos.UserCoupon.Create(row); err != nil {
			if repository.IsUniqueViolation(err) {
				reason = constants.CouponIssueFailDuplicate
			} else {
				reason = constants.CouponIssueFailDBSave
			}
			return err
		}
		return nil
	})
	if err != nil {
		if reason == "" {
			// 锁超时等瞬时错误交给队列重试
			return err
		}
		logger.Warnw("user_coupon_save_failed",
			"user_id", payload.UserID,
			"coupon_id", payload.CouponID,
			"reason", reason,
			"error", err,
		)
		return s.publisher.Publish(ctx, queue.TaskCouponIssueFailed, queue.CouponIssueFailedPayload{
			UserID:   payload.UserID,
			CouponID: payload.CouponID,
			Reason:   reason,
		})
	}
	return s.publisher.Publish(ctx, queue.TaskCouponQuantityIncrease, queue.CouponQuantityIncreasePayload{
		CouponID: payload.CouponID,
		UserID:   payload.UserID,
	})
}

// HandleIssueFailed 回收缓存层名额
// 已存在持久化记录时说明是重复投递，名额属于该用户，不回收。
func (s *CouponService) HandleIssueFailed(ctx context.Context, payload queue.CouponIssueFailedPayload) error {
	existing, err := s.repos.UserCoupon.GetByUserAndCoupon(payload.UserID, payload.CouponID)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Infow("coupon_claim_cancel_skipped",
			"user_id", payload.UserID,
			"coupon_id", payload.CouponID,
			"reason", payload.Reason,
		)
		return nil
	}
	removed, err := s.allocator.Cancel(ctx, payload.CouponID, payload.UserID)
	if err != nil {
		logger.Warnw("coupon_claim_cancel_failed",
			"resource", constants.CompensationResourceCouponClaim,
			"user_id", payload.UserID,
			"coupon_id", payload.CouponID,
			"reason", payload.Reason,
			"error", err,
		)
		return err
	}
	logger.Infow("coupon_claim_canceled",
		"user_id", payload.UserID,
		"coupon_id", payload.CouponID,
		"reason", payload.Reason,
		"removed", removed,
	)
	return nil
}

// HandleQuantityIncrease 按持久化领取记录数对齐已发放数量，不超过发放总量
// 以领取记录为准而不是逐次加一，重复投递不会多计。
func (s *CouponService) HandleQuantityIncrease(ctx context.Context, payload queue.CouponQuantityIncreasePayload) error {
	return lock.WithLock(ctx, s.locker, lock.CouponIncreaseKey(payload.CouponID), lockOptions(s.locks.Coupon()), func(ctx context.Context) error {
		coupon, err := s.repos.Coupon.GetByID(payload.CouponID)
		if err != nil {
			return err
		}
		if coupon == nil {
			logger.Warnw("coupon_quantity_increase_missing_coupon", "coupon_id", payload.CouponID)
			return nil
		}
		count, err := s.repos.UserCoupon.CountByCoupon(payload.CouponID)
		if err != nil {
			return err
		}
		if count > int64(coupon.TotalQuantity) {
			logger.Errorw("coupon_issued_quantity_exceeded",
				"resource", constants.CompensationResourceCouponCount,
				"coupon_id", payload.CouponID,
				"user_id", payload.UserID,
				"issued_rows", count,
				"total_quantity", coupon.TotalQuantity,
			)
		}
		affected, err := s.repos.Coupon.RaiseIssuedQuantity(payload.CouponID, count)
		if err != nil {
			return err
		}
		if affected == 0 {
			logger.Debugw("coupon_issued_quantity_unchanged",
				"coupon_id", payload.CouponID,
				"user_id", payload.UserID,
				"issued_rows", count,
			)
		}
		return nil
	})
}
