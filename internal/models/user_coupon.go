package models

import "time"

// UserCoupon 用户已领取的优惠券
type UserCoupon struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                             // 主键
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_coupon_pair" json:"user_id"`         // 用户ID
	CouponID  uint      `gorm:"not null;uniqueIndex:idx_user_coupon_pair;index" json:"coupon_id"` // 优惠券ID
	UsedCount int       `gorm:"not null;default:0" json:"used_count"`                             // 已使用次数
	IssuedAt  time.Time `gorm:"not null" json:"issued_at"`                                        // 领取时间
	UpdatedAt time.Time `json:"updated_at"`                                                       // 更新时间
}

// TableName 指定表名
func (UserCoupon) TableName() string {
	return "user_coupons"
}
