package repository

import (
	"errors"
	"fmt"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// ErrSagaTransitionNotAllowed saga 状态流转不在状态机内
var ErrSagaTransitionNotAllowed = errors.New("saga transition not allowed")

// SagaRepository 下单 saga 状态数据访问接口
type SagaRepository interface {
	Create(saga *models.OrderSaga) error
	GetBySagaID(sagaID string) (*models.OrderSaga, error)
	GetBySagaIDForUpdate(sagaID string) (*models.OrderSaga, error)
	Transition(sagaID, from, to string, updates map[string]interface{}) (int64, error)
	WithTx(tx *gorm.DB) SagaRepository
}

// GormSagaRepository GORM 实现
type GormSagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository 创建 saga 仓库
func NewSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSagaRepository) WithTx(tx *gorm.DB) SagaRepository {
	if tx == nil {
		return r
	}
	return &GormSagaRepository{db: tx}
}

// Create 创建 saga 记录，saga_id 唯一
func (r *GormSagaRepository) Create(saga *models.OrderSaga) error {
	return r.db.Create(saga).Error
}

// GetBySagaID 根据 saga ID 获取
func (r *GormSagaRepository) GetBySagaID(sagaID string) (*models.OrderSaga, error) {
	var row models.OrderSaga
	return notFoundAsNil(&row, r.db.Where("saga_id = ?", sagaID).First(&row).Error)
}

// GetBySagaIDForUpdate 行锁读取
func (r *GormSagaRepository) GetBySagaIDForUpdate(sagaID string) (*models.OrderSaga, error) {
	var row models.OrderSaga
	return notFoundAsNil(&row, forUpdate(r.db).Where("saga_id = ?", sagaID).First(&row).Error)
}

// Transition 仅当 saga 处于 from 状态时推进到 to
func (r *GormSagaRepository) Transition(sagaID, from, to string, updates map[string]interface{}) (int64, error) {
	if !constants.SagaTransitionAllowed(from, to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrSagaTransitionNotAllowed, from, to)
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["state"] = to
	result := r.db.Model(&models.OrderSaga{}).Where("saga_id = ? AND state = ?", sagaID, from).Updates(updates)
	return result.RowsAffected, result.Error
}
