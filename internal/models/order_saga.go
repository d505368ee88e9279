package models

import "time"

// OrderSaga 下单 saga 状态记录
type OrderSaga struct {
	ID        uint      `gorm:"primarykey" json:"id"`                                 // 主键
	SagaID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"saga_id"` // saga ID
	UserID    uint      `gorm:"index;not null" json:"user_id"`                        // 用户ID
	State     string    `gorm:"type:varchar(32);index;not null" json:"state"`         // 当前状态
	Reason    string    `gorm:"type:varchar(500)" json:"reason"`                      // 失败原因
	FailedAt  string    `gorm:"type:varchar(32)" json:"failed_at,omitempty"`          // 失败时所处阶段状态
	OrderID   *uint     `gorm:"index" json:"order_id,omitempty"`                      // 订单ID（完成后回填）
	Command   JSONText  `gorm:"type:text" json:"command"`                             // 下单命令快照
	Validated JSONText  `gorm:"type:text" json:"validated,omitempty"`                 // 校验结果快照
	CreatedAt time.Time `gorm:"index" json:"created_at"`                              // 创建时间
	UpdatedAt time.Time `json:"updated_at"`                                           // 更新时间
}

// TableName 指定表名
func (OrderSaga) TableName() string {
	return "order_sagas"
}

// CompensationFailure 补偿失败记录（待人工处理）
type CompensationFailure struct {
	ID         uint      `gorm:"primarykey" json:"id"`                      // 主键
	SagaID     string    `gorm:"type:varchar(64);index" json:"saga_id"`     // saga ID
	OrderID    uint      `gorm:"index" json:"order_id"`                     // 订单ID
	Resource   string    `gorm:"type:varchar(32);not null" json:"resource"` // 资源类型
	ResourceID uint      `gorm:"not null" json:"resource_id"`               // 资源ID
	Amount     string    `gorm:"type:varchar(64)" json:"amount"`            // 数量或金额
	Reason     string    `gorm:"type:varchar(500)" json:"reason"`           // 触发原因
	Error      string    `gorm:"type:text" json:"error"`                    // 错误信息
	Resolved   bool      `gorm:"not null;default:false" json:"resolved"`    // 是否已处理
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                   // 创建时间
}

// TableName 指定表名
func (CompensationFailure) TableName() string {
	return "compensation_failures"
}
