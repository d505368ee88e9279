package admin

import (
	"time"

	handlershared "github.com/dujiao-next/flashsale/internal/http/handlers/shared"
	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

// CouponRequest 创建/更新优惠券请求
type CouponRequest struct {
	Name           string       `json:"name" binding:"required"`
	Type           string       `json:"type" binding:"required"`
	Value          models.Money `json:"value"`
	MinOrderAmount models.Money `json:"min_order_amount"`
	MaxDiscount    models.Money `json:"max_discount"`
	TotalQuantity  int          `json:"total_quantity" binding:"required"`
	PerUserLimit   int          `json:"per_user_limit"`
	StartsAt       string       `json:"starts_at"`
	EndsAt         string       `json:"ends_at"`
	IsActive       *bool        `json:"is_active"`
}

// CreateCoupon 创建优惠券
func (h *Handler) CreateCoupon(c *gin.Context) {
	input, ok := bindCouponInput(c)
	if !ok {
		return
	}
	coupon, err := h.CouponAdminService.Create(c.Request.Context(), input)
	if err != nil {
		respondCouponError(c, err, "coupon create failed")
		return
	}
	response.Success(c, coupon)
}

// UpdateCoupon 更新优惠券
func (h *Handler) UpdateCoupon(c *gin.Context) {
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	input, ok := bindCouponInput(c)
	if !ok {
		return
	}
	coupon, err := h.CouponAdminService.Update(c.Request.Context(), id, input)
	if err != nil {
		respondCouponError(c, err, "coupon update failed")
		return
	}
	response.Success(c, coupon)
}

// GetCoupon 获取优惠券
func (h *Handler) GetCoupon(c *gin.Context) {
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	coupon, err := h.CouponAdminService.Get(id)
	if err != nil {
		respondCouponError(c, err, "coupon fetch failed")
		return
	}
	response.Success(c, coupon)
}

// ActivateCoupon 启用优惠券
func (h *Handler) ActivateCoupon(c *gin.Context) {
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	coupon, err := h.CouponAdminService.Activate(c.Request.Context(), id)
	if err != nil {
		respondCouponError(c, err, "coupon update failed")
		return
	}
	response.Success(c, coupon)
}

// DeactivateCoupon 停用优惠券
func (h *Handler) DeactivateCoupon(c *gin.Context) {
	id, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	coupon, err := h.CouponAdminService.Deactivate(c.Request.Context(), id)
	if err != nil {
		respondCouponError(c, err, "coupon update failed")
		return
	}
	response.Success(c, coupon)
}

func bindCouponInput(c *gin.Context) (service.CouponInput, bool) {
	var req CouponRequest
	if !handlershared.BindJSON(c, &req) {
		return service.CouponInput{}, false
	}
	startsAt, err := parseTimeNullable(req.StartsAt)
	if err != nil {
		respondError(c, response.CodeBadRequest, "invalid starts_at", err)
		return service.CouponInput{}, false
	}
	endsAt, err := parseTimeNullable(req.EndsAt)
	if err != nil {
		respondError(c, response.CodeBadRequest, "invalid ends_at", err)
		return service.CouponInput{}, false
	}
	return service.CouponInput{
		Name:           req.Name,
		Type:           req.Type,
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		TotalQuantity:  req.TotalQuantity,
		PerUserLimit:   req.PerUserLimit,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		IsActive:       req.IsActive,
	}, true
}

func parseTimeNullable(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
