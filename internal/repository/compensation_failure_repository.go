package repository

import (
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
)

// CompensationFailureRepository 补偿失败记录数据访问接口
type CompensationFailureRepository interface {
	Create(row *models.CompensationFailure) error
	List(filter CompensationFailureFilter) ([]models.CompensationFailure, int64, error)
	MarkResolved(id uint) (int64, error)
}

// GormCompensationFailureRepository GORM 实现
type GormCompensationFailureRepository struct {
	db *gorm.DB
}

// NewCompensationFailureRepository 创建补偿失败记录仓库
func NewCompensationFailureRepository(db *gorm.DB) *GormCompensationFailureRepository {
	return &GormCompensationFailureRepository{db: db}
}

// Create 写入记录
func (r *GormCompensationFailureRepository) Create(row *models.CompensationFailure) error {
	return r.db.Create(row).Error
}

// List 分页查询
func (r *GormCompensationFailureRepository) List(filter CompensationFailureFilter) ([]models.CompensationFailure, int64, error) {
	query := r.db.Model(&models.CompensationFailure{})
	if filter.SagaID != "" {
		query = query.Where("saga_id = ?", filter.SagaID)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.Unresolved {
		query = query.Where("resolved = ?", false)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CompensationFailure
	if err := applyPagination(query, filter.Page, filter.PageSize).Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// MarkResolved 标记为已处理
func (r *GormCompensationFailureRepository) MarkResolved(id uint) (int64, error) {
	result := r.db.Model(&models.CompensationFailure{}).Where("id = ? AND resolved = ?", id, false).Update("resolved", true)
	return result.RowsAffected, result.Error
}
