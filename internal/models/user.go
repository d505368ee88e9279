package models

import "time"

// User 用户
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`                   // 主键
	Name      string    `gorm:"type:varchar(100);not null" json:"name"` // 用户名
	CreatedAt time.Time `gorm:"index" json:"created_at"`                // 创建时间
	UpdatedAt time.Time `json:"updated_at"`                             // 更新时间
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
