package admin

import (
	"errors"
	"strings"

	handlershared "github.com/dujiao-next/flashsale/internal/http/handlers/shared"
	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/repository"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

// ListCompensationFailures 查询待人工处理的补偿失败记录
func (h *Handler) ListCompensationFailures(c *gin.Context) {
	page, pageSize := handlershared.QueryPagination(c)
	filter := repository.CompensationFailureFilter{
		Page:       page,
		PageSize:   pageSize,
		SagaID:     strings.TrimSpace(c.Query("saga_id")),
		Resource:   strings.TrimSpace(c.Query("resource")),
		Unresolved: parseQueryBool(c, "unresolved", true),
	}
	rows, total, err := h.CompensationService.ListCompensationFailures(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "compensation failure query failed", err)
		return
	}
	response.SuccessWithPage(c, rows, response.NewPagination(page, pageSize, total))
}

// ResolveCompensationFailure 标记补偿失败记录已处理
func (h *Handler) ResolveCompensationFailure(c *gin.Context) {
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.CompensationService.ResolveCompensationFailure(id); err != nil {
		if errors.Is(err, service.ErrCompensationFailureNotFound) {
			respondError(c, response.CodeNotFound, "compensation failure not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "compensation failure resolve failed", err)
		return
	}
	response.Success(c, nil)
}
