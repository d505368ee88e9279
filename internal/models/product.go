package models

import (
	"time"

	"gorm.io/gorm"
)

// Product 商品（库存与销量）
type Product struct {
	ID          uint           `gorm:"primarykey" json:"id"`                               // 主键
	Name        string         `gorm:"type:varchar(200);not null" json:"name"`             // 商品名称
	Price       Money          `gorm:"type:decimal(20,2);not null;default:0" json:"price"` // 单价
	Stock       int            `gorm:"not null;default:0" json:"stock"`                    // 可售库存
	SoldCount   int            `gorm:"not null;default:0" json:"sold_count"`               // 已售数量
	MinOrderQty int            `gorm:"not null;default:1" json:"min_order_qty"`            // 单次最少购买数量
	MaxOrderQty int            `gorm:"not null;default:0" json:"max_order_qty"`            // 单次最多购买数量（0 表示不限制）
	IsActive    bool           `gorm:"not null;default:true" json:"is_active"`             // 是否上架
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`                            // 创建时间
	UpdatedAt   time.Time      `gorm:"index" json:"updated_at"`                            // 更新时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                     // 软删除时间
}

// TableName 指定表名
func (Product) TableName() string {
	return "products"
}
