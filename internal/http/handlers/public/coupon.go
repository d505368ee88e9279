package public

import (
	"github.com/dujiao-next/flashsale/internal/http/response"

	"github.com/gin-gonic/gin"
)

// IssueCouponRequest 领券请求
type IssueCouponRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// IssueCoupon 领取优惠券
func (h *Handler) IssueCoupon(c *gin.Context) {
	couponID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req IssueCouponRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.CouponService.Issue(c.Request.Context(), req.UserID, couponID)
	if err != nil {
		respondCouponIssueError(c, err)
		return
	}
	response.Success(c, result)
}
