package repository

import (
	"time"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Create(order *models.Order, items []models.OrderItem) error
	GetByID(id uint) (*models.Order, error)
	GetByIDForUpdate(id uint) (*models.Order, error)
	GetBySagaID(sagaID string) (*models.Order, error)
	ListByUser(filter OrderListFilter) ([]models.Order, int64, error)
	TransitionStatus(id uint, from, to string, updates map[string]interface{}) (int64, error)
	CancelItems(orderID uint) error
	MarkCompensated(id uint, at time.Time) (int64, error)
	WithTx(tx *gorm.DB) OrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单与订单项
func (r *GormOrderRepository) Create(order *models.Order, items []models.OrderItem) error {
	if err := r.db.Omit("Items").Create(order).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := r.db.Create(&items).Error; err != nil {
			return err
		}
	}
	order.Items = items
	return nil
}

// GetByID 根据 ID 获取订单（含订单项）
func (r *GormOrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Items", orderItemsByProduct).First(&order, id).Error
	return notFoundAsNil(&order, err)
}

// GetByIDForUpdate 行锁读取订单（含订单项）
func (r *GormOrderRepository) GetByIDForUpdate(id uint) (*models.Order, error) {
	var order models.Order
	err := forUpdate(r.db).Preload("Items", orderItemsByProduct).First(&order, id).Error
	return notFoundAsNil(&order, err)
}

// GetBySagaID 根据 saga ID 获取订单
func (r *GormOrderRepository) GetBySagaID(sagaID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Items", orderItemsByProduct).Where("saga_id = ?", sagaID).First(&order).Error
	return notFoundAsNil(&order, err)
}

// ListByUser 获取用户订单列表
func (r *GormOrderRepository) ListByUser(filter OrderListFilter) ([]models.Order, int64, error) {
	query := r.db.Model(&models.Order{}).Where("user_id = ?", filter.UserID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var orders []models.Order
	query = applyPagination(query, filter.Page, filter.PageSize)
	if err := query.Preload("Items", orderItemsByProduct).Order("id desc").Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// TransitionStatus 仅当订单处于 from 状态时更新为 to
func (r *GormOrderRepository) TransitionStatus(id uint, from, to string, updates map[string]interface{}) (int64, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	result := r.db.Model(&models.Order{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	return result.RowsAffected, result.Error
}

// CancelItems 将订单项标记为已取消
func (r *GormOrderRepository) CancelItems(orderID uint) error {
	return r.db.Model(&models.OrderItem{}).
		Where("order_id = ? AND status <> ?", orderID, constants.OrderItemStatusCanceled).
		Update("status", constants.OrderItemStatusCanceled).Error
}

// MarkCompensated 标记订单资源已回补，重复标记影响行数为 0
func (r *GormOrderRepository) MarkCompensated(id uint, at time.Time) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND compensated_at IS NULL", id).
		Update("compensated_at", at)
	return result.RowsAffected, result.Error
}

func orderItemsByProduct(db *gorm.DB) *gorm.DB {
	return db.Order("product_id asc")
}
