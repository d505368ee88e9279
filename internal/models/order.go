package models

import "time"

// Order 订单表
type Order struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                         // 主键
	OrderNo        string     `gorm:"uniqueIndex;not null" json:"order_no"`                         // 订单编号
	SagaID         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"saga_id"`         // 下单 saga ID
	UserID         uint       `gorm:"index;not null" json:"user_id"`                                // 用户ID
	Status         string     `gorm:"index;not null" json:"status"`                                 // 订单状态
	CouponID       *uint      `gorm:"index" json:"coupon_id,omitempty"`                             // 优惠券ID
	TotalAmount    Money      `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`    // 商品总额
	ShippingFee    Money      `gorm:"type:decimal(20,2);not null;default:0" json:"shipping_fee"`    // 运费
	DiscountAmount Money      `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"` // 优惠金额
	PointAmount    Money      `gorm:"type:decimal(20,2);not null;default:0" json:"point_amount"`    // 积分抵扣金额
	FinalAmount    Money      `gorm:"type:decimal(20,2);not null;default:0" json:"final_amount"`    // 实付金额
	PaidAt         *time.Time `json:"paid_at"`                                                      // 支付时间
	CanceledAt     *time.Time `json:"canceled_at"`                                                  // 取消时间
	CompensatedAt  *time.Time `json:"compensated_at"`                                               // 资源回补时间
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`                                      // 更新时间

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"` // 订单项
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
