package repository

import "gorm.io/gorm"

// maxPageSize 仓储层兜底上限，接口层另有更严格的限制
const maxPageSize = 500

// applyPagination 追加 LIMIT/OFFSET；pageSize<=0 表示不分页
func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil || pageSize <= 0 {
		return query
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}
