package repository

import (
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// UserCouponRepository 用户优惠券数据访问接口
type UserCouponRepository interface {
	GetByUserAndCoupon(userID, couponID uint) (*models.UserCoupon, error)
	GetByUserAndCouponForUpdate(userID, couponID uint) (*models.UserCoupon, error)
	Create(row *models.UserCoupon) error
	IncrementUsage(id uint, limit int) (int64, error)
	DecrementUsage(id uint) (int64, error)
	CountByCoupon(couponID uint) (int64, error)
	WithTx(tx *gorm.DB) UserCouponRepository
}

// GormUserCouponRepository GORM 实现
type GormUserCouponRepository struct {
	db *gorm.DB
}

// NewUserCouponRepository 创建用户优惠券仓库
func NewUserCouponRepository(db *gorm.DB) *GormUserCouponRepository {
	return &GormUserCouponRepository{db: db}
}

// WithTx 绑定事务
func (r *GormUserCouponRepository) WithTx(tx *gorm.DB) UserCouponRepository {
	if tx == nil {
		return r
	}
	return &GormUserCouponRepository{db: tx}
}

// GetByUserAndCoupon 按 (用户, 优惠券) 获取
func (r *GormUserCouponRepository) GetByUserAndCoupon(userID, couponID uint) (*models.UserCoupon, error) {
	var row models.UserCoupon
	err := r.db.Where("user_id = ? AND coupon_id = ?", userID, couponID).First(&row).Error
	return notFoundAsNil(&row, err)
}

// GetByUserAndCouponForUpdate 行锁读取
func (r *GormUserCouponRepository) GetByUserAndCouponForUpdate(userID, couponID uint) (*models.UserCoupon, error) {
	var row models.UserCoupon
	err := forUpdate(r.db).Where("user_id = ? AND coupon_id = ?", userID, couponID).First(&row).Error
	return notFoundAsNil(&row, err)
}

// Create 创建用户优惠券，重复领取由唯一索引拦截
func (r *GormUserCouponRepository) Create(row *models.UserCoupon) error {
	return r.db.Create(row).Error
}

// IncrementUsage 使用次数加一，不超过 limit
func (r *GormUserCouponRepository) IncrementUsage(id uint, limit int) (int64, error) {
	result := r.db.Model(&models.UserCoupon{}).
		Where("id = ? AND used_count < ?", id, limit).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	return result.RowsAffected, result.Error
}

// DecrementUsage 使用次数减一，不低于 0
func (r *GormUserCouponRepository) DecrementUsage(id uint) (int64, error) {
	result := r.db.Model(&models.UserCoupon{}).
		Where("id = ? AND used_count > 0", id).
		UpdateColumn("used_count", gorm.Expr("used_count - 1"))
	return result.RowsAffected, result.Error
}

// CountByCoupon 统计某张券的领取人数
func (r *GormUserCouponRepository) CountByCoupon(couponID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.UserCoupon{}).Where("coupon_id = ?", couponID).Count(&count).Error
	return count, err
}
