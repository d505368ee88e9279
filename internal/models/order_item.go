package models

import "time"

// OrderItem 订单项
type OrderItem struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                     // 主键
	OrderID    uint      `gorm:"index;not null" json:"order_id"`                           // 订单ID
	ProductID  uint      `gorm:"index;not null" json:"product_id"`                         // 商品ID
	Quantity   int       `gorm:"not null" json:"quantity"`                                 // 数量
	UnitPrice  Money     `gorm:"type:decimal(20,2);not null" json:"unit_price"`            // 单价
	TotalPrice Money     `gorm:"type:decimal(20,2);not null" json:"total_price"`           // 小计
	Status     string    `gorm:"type:varchar(20);not null;default:'ACTIVE'" json:"status"` // 状态
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt  time.Time `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (OrderItem) TableName() string {
	return "order_items"
}
