package models

import (
	"time"

	"gorm.io/gorm"
)

// Coupon 先到先得优惠券
type Coupon struct {
	ID             uint           `gorm:"primarykey" json:"id"`                                          // 主键
	Name           string         `gorm:"type:varchar(200);not null" json:"name"`                        // 名称
	Type           string         `gorm:"not null" json:"type"`                                          // 类型（fixed/percent）
	Value          Money          `gorm:"type:decimal(20,2);not null" json:"value"`                      // 数值（固定金额或百分比）
	MinOrderAmount Money          `gorm:"type:decimal(20,2);not null;default:0" json:"min_order_amount"` // 使用门槛
	MaxDiscount    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"max_discount"`     // 最大优惠金额（0 表示不限制）
	TotalQuantity  int            `gorm:"not null;default:0" json:"total_quantity"`                      // 发放总量
	IssuedQuantity int            `gorm:"not null;default:0" json:"issued_quantity"`                     // 已发放数量
	PerUserLimit   int            `gorm:"not null;default:1" json:"per_user_limit"`                      // 每人可使用次数
	StartsAt       *time.Time     `gorm:"index" json:"starts_at"`                                        // 生效时间
	EndsAt         *time.Time     `gorm:"index" json:"ends_at"`                                          // 失效时间
	IsActive       bool           `gorm:"not null;default:true" json:"is_active"`                        // 是否启用
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`                                       // 创建时间
	UpdatedAt      time.Time      `gorm:"index" json:"updated_at"`                                       // 更新时间
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`                                                // 软删除时间
}

// TableName 指定表名
func (Coupon) TableName() string {
	return "coupons"
}

// InWindow 判断时间点是否在生效窗口内
func (c *Coupon) InWindow(now time.Time) bool {
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}
