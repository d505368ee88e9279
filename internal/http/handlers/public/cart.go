package public

import (
	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

// UpsertCartItemRequest 购物车更新请求
type UpsertCartItemRequest struct {
	UserID    uint `json:"user_id" binding:"required"`
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required"`
}

// GetCart 获取购物车
func (h *Handler) GetCart(c *gin.Context) {
	userID, ok := parseUserQuery(c)
	if !ok {
		return
	}
	items, err := h.CartService.ListByUser(userID)
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, gin.H{"items": items})
}

// UpsertCartItem 添加或更新购物车项
func (h *Handler) UpsertCartItem(c *gin.Context) {
	var req UpsertCartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.CartService.UpsertItem(service.UpsertCartItemInput{
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, item)
}

// RemoveCartItem 删除购物车项
func (h *Handler) RemoveCartItem(c *gin.Context) {
	productID, ok := parseIDParam(c, "product_id")
	if !ok {
		return
	}
	userID, ok := parseUserQuery(c)
	if !ok {
		return
	}
	if err := h.CartService.RemoveItem(userID, productID); err != nil {
		respondCartError(c, err)
		return
	}
	response.Success(c, nil)
}
