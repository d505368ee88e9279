package public

import (
	"strings"

	handlershared "github.com/dujiao-next/flashsale/internal/http/handlers/shared"
	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/repository"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

// OrderItemRequest 订单项请求
type OrderItemRequest struct {
	ProductID uint `json:"product_id" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required"`
}

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	UserID      uint               `json:"user_id" binding:"required"`
	Items       []OrderItemRequest `json:"items" binding:"required"`
	CouponID    *uint              `json:"coupon_id"`
	PointAmount models.Money       `json:"point_amount"`
}

// CreateCartOrderRequest 购物车下单请求
type CreateCartOrderRequest struct {
	UserID      uint         `json:"user_id" binding:"required"`
	CartItemIDs []uint       `json:"cart_item_ids" binding:"required"`
	CouponID    *uint        `json:"coupon_id"`
	PointAmount models.Money `json:"point_amount"`
}

// OrderActionRequest 订单操作请求
type OrderActionRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// SagaResponse 下单进度
type SagaResponse struct {
	SagaID  string `json:"saga_id"`
	UserID  uint   `json:"user_id"`
	State   string `json:"state"`
	OrderID *uint  `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CreateOrder 下单：同步预占库存，异步完成校验与落单
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	items := make([]service.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, service.OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	result, err := h.OrderSagaService.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:      req.UserID,
		Items:       items,
		CouponID:    req.CouponID,
		PointAmount: req.PointAmount,
	})
	if err != nil {
		respondOrderPlaceError(c, err)
		return
	}
	response.Accepted(c, result)
}

// CreateCartOrder 以购物车项下单
func (h *Handler) CreateCartOrder(c *gin.Context) {
	var req CreateCartOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.OrderSagaService.PlaceCartOrder(c.Request.Context(), service.PlaceCartOrderInput{
		UserID:      req.UserID,
		CartItemIDs: req.CartItemIDs,
		CouponID:    req.CouponID,
		PointAmount: req.PointAmount,
	})
	if err != nil {
		respondOrderPlaceError(c, err)
		return
	}
	response.Accepted(c, result)
}

// GetSaga 查询下单进度
func (h *Handler) GetSaga(c *gin.Context) {
	saga, err := h.OrderSagaService.GetSaga(c.Param("saga_id"))
	if err != nil {
		respondSagaQueryError(c, err)
		return
	}
	response.Success(c, SagaResponse{
		SagaID:  saga.SagaID,
		UserID:  saga.UserID,
		State:   saga.State,
		OrderID: saga.OrderID,
		Reason:  saga.Reason,
	})
}

// GetOrder 获取订单详情
func (h *Handler) GetOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := parseUserQuery(c)
	if !ok {
		return
	}
	order, err := h.OrderService.GetOrder(orderID, userID)
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 获取用户订单列表
func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := parseUserQuery(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.QueryPagination(c)
	orders, total, err := h.OrderService.ListOrders(repository.OrderListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   userID,
		Status:   strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.SuccessWithPage(c, orders, response.NewPagination(page, pageSize, total))
}

// CancelOrder 取消订单，资源回补异步执行
func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, req, ok := bindOrderAction(c)
	if !ok {
		return
	}
	order, err := h.OrderService.CancelOrder(c.Request.Context(), orderID, req.UserID)
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.Success(c, order)
}

// MarkOrderPaid 支付成功回调
func (h *Handler) MarkOrderPaid(c *gin.Context) {
	orderID, req, ok := bindOrderAction(c)
	if !ok {
		return
	}
	order, err := h.OrderService.MarkPaid(orderID, req.UserID)
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.Success(c, order)
}

// CompleteOrder 订单完成
func (h *Handler) CompleteOrder(c *gin.Context) {
	orderID, req, ok := bindOrderAction(c)
	if !ok {
		return
	}
	order, err := h.OrderService.Complete(orderID, req.UserID)
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.Success(c, order)
}

// OrderPaymentFailed 支付失败回调
func (h *Handler) OrderPaymentFailed(c *gin.Context) {
	orderID, req, ok := bindOrderAction(c)
	if !ok {
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "payment failed"
	}
	order, err := h.OrderService.HandlePaymentFailed(c.Request.Context(), orderID, req.UserID, reason)
	if err != nil {
		respondOrderActionError(c, err)
		return
	}
	response.Success(c, order)
}

func bindOrderAction(c *gin.Context) (uint, OrderActionRequest, bool) {
	var req OrderActionRequest
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return 0, req, false
	}
	if !bindJSON(c, &req) {
		return 0, req, false
	}
	return orderID, req, true
}

func parseUserQuery(c *gin.Context) (uint, bool) {
	var query struct {
		UserID uint `form:"user_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, response.CodeBadRequest, "user_id is required", err)
		return 0, false
	}
	return query.UserID, true
}
