package models

import "time"

// Point 积分来源（按来源记录剩余可用额度）
type Point struct {
	ID              uint       `gorm:"primarykey" json:"id"`                                // 主键
	UserID          uint       `gorm:"index;not null" json:"user_id"`                       // 用户ID
	Amount          Money      `gorm:"type:decimal(20,2);not null" json:"amount"`           // 获得额度
	RemainingAmount Money      `gorm:"type:decimal(20,2);not null" json:"remaining_amount"` // 剩余额度
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at"`                             // 过期时间
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`                             // 创建时间
	UpdatedAt       time.Time  `json:"updated_at"`                                          // 更新时间
}

// TableName 指定表名
func (Point) TableName() string {
	return "points"
}

// PointUsageHistory 积分使用流水（每个积分来源每笔订单一行）
type PointUsageHistory struct {
	ID         uint       `gorm:"primarykey" json:"id"`                           // 主键
	PointID    uint       `gorm:"index;not null" json:"point_id"`                 // 积分来源ID
	OrderID    uint       `gorm:"index;not null" json:"order_id"`                 // 订单ID
	UsedAmount Money      `gorm:"type:decimal(20,2);not null" json:"used_amount"` // 使用额度
	Canceled   bool       `gorm:"not null;default:false" json:"canceled"`         // 是否已回补
	CanceledAt *time.Time `json:"canceled_at"`                                    // 回补时间
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`                        // 创建时间
	UpdatedAt  time.Time  `json:"updated_at"`                                     // 更新时间
}

// TableName 指定表名
func (PointUsageHistory) TableName() string {
	return "point_usage_histories"
}
