package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/repository"

	"github.com/shopspring/decimal"
)

// CouponAdminService 优惠券管理服务
// 每次数据库写入后同步刷新元数据缓存。
type CouponAdminService struct {
	repo     repository.CouponRepository
	metadata *cache.CouponMetadataCache
}

// NewCouponAdminService 创建优惠券管理服务
func NewCouponAdminService(repo repository.CouponRepository, metadata *cache.CouponMetadataCache) *CouponAdminService {
	return &CouponAdminService{repo: repo, metadata: metadata}
}

// CouponInput 创建/更新优惠券输入
type CouponInput struct {
	Name           string
	Type           string
	Value          models.Money
	MinOrderAmount models.Money
	MaxDiscount    models.Money
	TotalQuantity  int
	PerUserLimit   int
	StartsAt       *time.Time
	EndsAt         *time.Time
	IsActive       *bool
}

// Create 创建优惠券
func (s *CouponAdminService) Create(ctx context.Context, input CouponInput) (*models.Coupon, error) {
	couponType, err := validateCouponInput(input)
	if err != nil {
		return nil, err
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	coupon := &models.Coupon{
		Name:           strings.TrimSpace(input.Name),
		Type:           couponType,
		Value:          input.Value,
		MinOrderAmount: input.MinOrderAmount,
		MaxDiscount:    input.MaxDiscount,
		TotalQuantity:  input.TotalQuantity,
		PerUserLimit:   perUserLimitOrDefault(input.PerUserLimit),
		StartsAt:       input.StartsAt,
		EndsAt:         input.EndsAt,
		IsActive:       isActive,
	}
	if err := s.repo.Create(coupon); err != nil {
		return nil, err
	}
	if err := s.syncMetadata(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// Update 更新优惠券，发放总量不得低于已发放数量
func (s *CouponAdminService) Update(ctx context.Context, id uint, input CouponInput) (*models.Coupon, error) {
	if id == 0 {
		return nil, ErrInvalidCouponID
	}
	couponType, err := validateCouponInput(input)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrCouponNotFound
	}
	if input.TotalQuantity < existing.IssuedQuantity {
		return nil, fmt.Errorf("%w: total quantity below issued quantity %d", ErrInvalidArgument, existing.IssuedQuantity)
	}

	existing.Name = strings.TrimSpace(input.Name)
	existing.Type = couponType
	existing.Value = input.Value
	existing.MinOrderAmount = input.MinOrderAmount
	existing.MaxDiscount = input.MaxDiscount
	existing.TotalQuantity = input.TotalQuantity
	existing.PerUserLimit = perUserLimitOrDefault(input.PerUserLimit)
	existing.StartsAt = input.StartsAt
	existing.EndsAt = input.EndsAt
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}

	if err := s.repo.Update(existing); err != nil {
		return nil, err
	}
	if err := s.syncMetadata(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Activate 启用优惠券
func (s *CouponAdminService) Activate(ctx context.Context, id uint) (*models.Coupon, error) {
	return s.setActive(ctx, id, true)
}

// Deactivate 停用优惠券
func (s *CouponAdminService) Deactivate(ctx context.Context, id uint) (*models.Coupon, error) {
	return s.setActive(ctx, id, false)
}

// Get 获取优惠券
func (s *CouponAdminService) Get(id uint) (*models.Coupon, error) {
	if id == 0 {
		return nil, ErrInvalidCouponID
	}
	coupon, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

func (s *CouponAdminService) setActive(ctx context.Context, id uint, active bool) (*models.Coupon, error) {
	if id == 0 {
		return nil, ErrInvalidCouponID
	}
	affected, err := s.repo.SetActive(id, active)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrCouponNotFound
	}
	coupon, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	if err := s.syncMetadata(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// syncMetadata 写穿缓存；写入失败时删除旧快照，下次读取回源数据库
func (s *CouponAdminService) syncMetadata(ctx context.Context, coupon *models.Coupon) error {
	err := s.metadata.Put(ctx, coupon)
	if err == nil {
		return nil
	}
	logger.Warnw("coupon_metadata_sync_failed", "coupon_id", coupon.ID, "error", err)
	if delErr := s.metadata.Delete(ctx, coupon.ID); delErr != nil {
		return fmt.Errorf("sync coupon metadata %d: %w", coupon.ID, delErr)
	}
	return nil
}

func validateCouponInput(input CouponInput) (string, error) {
	if strings.TrimSpace(input.Name) == "" {
		return "", ErrCouponInvalid
	}
	couponType := strings.ToLower(strings.TrimSpace(input.Type))
	if couponType != constants.CouponTypeFixed && couponType != constants.CouponTypePercent {
		return "", ErrCouponInvalid
	}
	if input.Value.Decimal.LessThanOrEqual(decimal.Zero) {
		return "", ErrCouponInvalid
	}
	if couponType == constants.CouponTypePercent && input.Value.Decimal.GreaterThan(decimal.NewFromInt(100)) {
		return "", ErrCouponInvalid
	}
	if input.MinOrderAmount.Decimal.LessThan(decimal.Zero) || input.MaxDiscount.Decimal.LessThan(decimal.Zero) {
		return "", ErrCouponInvalid
	}
	if input.TotalQuantity <= 0 || input.PerUserLimit < 0 {
		return "", ErrCouponInvalid
	}
	if input.StartsAt != nil && input.EndsAt != nil && input.EndsAt.Before(*input.StartsAt) {
		return "", ErrCouponInvalid
	}
	return couponType, nil
}

func perUserLimitOrDefault(limit int) int {
	if limit <= 0 {
		return 1
	}
	return limit
}
