package repository

import (
	"errors"

	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// CartRepository 购物车数据访问接口
type CartRepository interface {
	ListByUser(userID uint) ([]models.CartItem, error)
	ListByIDs(userID uint, ids []uint) ([]models.CartItem, error)
	Upsert(item *models.CartItem) error
	DeleteByIDs(userID uint, ids []uint) error
	DeleteByUserAndProduct(userID, productID uint) error
	WithTx(tx *gorm.DB) CartRepository
}

// GormCartRepository GORM 实现
type GormCartRepository struct {
	db *gorm.DB
}

// NewCartRepository 创建购物车仓库
func NewCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCartRepository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &GormCartRepository{db: tx}
}

// ListByUser 获取用户购物车
func (r *GormCartRepository) ListByUser(userID uint) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.Where("user_id = ?", userID).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListByIDs 获取用户指定的购物车项
func (r *GormCartRepository) ListByIDs(userID uint, ids []uint) ([]models.CartItem, error) {
	if len(ids) == 0 {
		return []models.CartItem{}, nil
	}
	var items []models.CartItem
	if err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Order("product_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Upsert 添加或更新购物车项
func (r *GormCartRepository) Upsert(item *models.CartItem) error {
	if item == nil {
		return nil
	}
	var existing models.CartItem
	err := r.db.Where("user_id = ? AND product_id = ?", item.UserID, item.ProductID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(item).Error
	}
	if err != nil {
		return err
	}
	item.ID = existing.ID
	return r.db.Model(&existing).Update("quantity", item.Quantity).Error
}

// DeleteByIDs 删除用户指定的购物车项
func (r *GormCartRepository) DeleteByIDs(userID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Where("user_id = ? AND id IN ?", userID, ids).Delete(&models.CartItem{}).Error
}

// DeleteByUserAndProduct 删除用户某商品的购物车项
func (r *GormCartRepository) DeleteByUserAndProduct(userID, productID uint) error {
	return r.db.Where("user_id = ? AND product_id = ?", userID, productID).Delete(&models.CartItem{}).Error
}
