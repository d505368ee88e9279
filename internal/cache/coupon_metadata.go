package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/dujiao-next/flashsale/internal/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	fieldTotalQuantity = "totalQuantity"
	fieldIsActive      = "isActive"
	fieldStartDate     = "startDate"
	fieldEndDate       = "endDate"
)

// CouponMetadata 优惠券元数据快照（容量与生效窗口）
type CouponMetadata struct {
	CouponID      uint
	TotalQuantity int
	IsActive      bool
	StartDate     *time.Time
	EndDate       *time.Time
}

// Available 判断当前是否可领取
func (m *CouponMetadata) Available(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	if m.StartDate != nil && now.Before(*m.StartDate) {
		return false
	}
	if m.EndDate != nil && now.After(*m.EndDate) {
		return false
	}
	return true
}

// CouponLoader 元数据回源接口
type CouponLoader interface {
	GetByID(id uint) (*models.Coupon, error)
}

// CouponMetadataCache 优惠券元数据读穿缓存
type CouponMetadataCache struct {
	store  *Store
	loader CouponLoader
	ttl    time.Duration
	group  singleflight.Group
}

// NewCouponMetadataCache 创建元数据缓存
func NewCouponMetadataCache(store *Store, loader CouponLoader, ttl time.Duration) *CouponMetadataCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &CouponMetadataCache{store: store, loader: loader, ttl: ttl}
}

// Get 读取元数据，未命中时回源数据库并回填；优惠券不存在返回 nil
func (c *CouponMetadataCache) Get(ctx context.Context, couponID uint) (*CouponMetadata, error) {
	values, err := c.store.Client().HGetAll(ctx, c.store.Key(CouponMetadataKey(couponID))).Result()
	if err != nil {
		return nil, err
	}
	if meta, ok := decodeMetadata(couponID, values); ok {
		return meta, nil
	}

	// 合并回源的结果由所有等待者共享，回填不受首个调用方取消的影响
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(strconv.FormatUint(uint64(couponID), 10), func() (interface{}, error) {
		coupon, err := c.loader.GetByID(couponID)
		if err != nil || coupon == nil {
			return nil, err
		}
		if err := c.Put(loadCtx, coupon); err != nil {
			return nil, err
		}
		return MetadataFromCoupon(coupon), nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*CouponMetadata), nil
}

// Put 写入元数据（管理端变更后同步调用）
func (c *CouponMetadataCache) Put(ctx context.Context, coupon *models.Coupon) error {
	meta := MetadataFromCoupon(coupon)
	key := c.store.Key(CouponMetadataKey(coupon.ID))
	fields := map[string]interface{}{
		fieldTotalQuantity: meta.TotalQuantity,
		fieldIsActive:      strconv.FormatBool(meta.IsActive),
		fieldStartDate:     formatTime(meta.StartDate),
		fieldEndDate:       formatTime(meta.EndDate),
	}
	_, err := c.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

// SetField 更新单个字段
func (c *CouponMetadataCache) SetField(ctx context.Context, couponID uint, field string, value interface{}) error {
	return c.store.Client().HSet(ctx, c.store.Key(CouponMetadataKey(couponID)), field, value).Err()
}

// SetActive 更新启用状态字段
func (c *CouponMetadataCache) SetActive(ctx context.Context, couponID uint, active bool) error {
	return c.SetField(ctx, couponID, fieldIsActive, strconv.FormatBool(active))
}

// Delete 删除元数据
func (c *CouponMetadataCache) Delete(ctx context.Context, couponID uint) error {
	return c.store.Client().Del(ctx, c.store.Key(CouponMetadataKey(couponID))).Err()
}

// MetadataFromCoupon 由优惠券模型构建元数据
func MetadataFromCoupon(coupon *models.Coupon) *CouponMetadata {
	return &CouponMetadata{
		CouponID:      coupon.ID,
		TotalQuantity: coupon.TotalQuantity,
		IsActive:      coupon.IsActive,
		StartDate:     coupon.StartsAt,
		EndDate:       coupon.EndsAt,
	}
}

func decodeMetadata(couponID uint, values map[string]string) (*CouponMetadata, bool) {
	rawTotal, ok := values[fieldTotalQuantity]
	if !ok {
		return nil, false
	}
	total, err := strconv.Atoi(rawTotal)
	if err != nil {
		return nil, false
	}
	active, err := strconv.ParseBool(values[fieldIsActive])
	if err != nil {
		return nil, false
	}
	start, ok := parseTime(values[fieldStartDate])
	if !ok {
		return nil, false
	}
	end, ok := parseTime(values[fieldEndDate])
	if !ok {
		return nil, false
	}
	return &CouponMetadata{
		CouponID:      couponID,
		TotalQuantity: total,
		IsActive:      active,
		StartDate:     start,
		EndDate:       end,
	}, true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	t := time.UnixMilli(ms)
	return &t, true
}
