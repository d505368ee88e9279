package repository

import (
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// CouponRepository 优惠券数据访问接口
type CouponRepository interface {
	GetByID(id uint) (*models.Coupon, error)
	GetByIDForUpdate(id uint) (*models.Coupon, error)
	Create(coupon *models.Coupon) error
	Update(coupon *models.Coupon) error
	SetActive(id uint, active bool) (int64, error)
	RaiseIssuedQuantity(id uint, count int64) (int64, error)
	WithTx(tx *gorm.DB) CouponRepository
}

// GormCouponRepository GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository 创建优惠券仓库
func NewCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCouponRepository) WithTx(tx *gorm.DB) CouponRepository {
	if tx == nil {
		return r
	}
	return &GormCouponRepository{db: tx}
}

// GetByID 根据ID获取优惠券
func (r *GormCouponRepository) GetByID(id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	return notFoundAsNil(&coupon, r.db.First(&coupon, id).Error)
}

// GetByIDForUpdate 行锁读取优惠券
func (r *GormCouponRepository) GetByIDForUpdate(id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	return notFoundAsNil(&coupon, forUpdate(r.db).First(&coupon, id).Error)
}

// Create 创建优惠券
func (r *GormCouponRepository) Create(coupon *models.Coupon) error {
	return r.db.Create(coupon).Error
}

// Update 更新优惠券
func (r *GormCouponRepository) Update(coupon *models.Coupon) error {
	return r.db.Save(coupon).Error
}

// SetActive 启用或停用优惠券
func (r *GormCouponRepository) SetActive(id uint, active bool) (int64, error) {
	result := r.db.Model(&models.Coupon{}).Where("id = ?", id).Update("is_active", active)
	return result.RowsAffected, result.Error
}

// RaiseIssuedQuantity 将已发放数量抬高到 count，封顶发放总量；只增不减，重复调用无副作用
func (r *GormCouponRepository) RaiseIssuedQuantity(id uint, count int64) (int64, error) {
	result := r.db.Model(&models.Coupon{}).
		Where("id = ? AND issued_quantity < ? AND issued_quantity < total_quantity", id, count).
		UpdateColumn("issued_quantity", gorm.Expr("CASE WHEN ? > total_quantity THEN total_quantity ELSE ? END", count, count))
	return result.RowsAffected, result.Error
}
