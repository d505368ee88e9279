package admin

import (
	"errors"

	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

func respondCouponError(c *gin.Context, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, service.ErrCouponNotFound):
		respondError(c, response.CodeNotFound, "coupon not found", nil)
	case errors.Is(err, service.ErrCouponInvalid):
		respondError(c, response.CodeBadRequest, "coupon invalid", nil)
	case errors.Is(err, service.ErrInvalidArgument):
		respondError(c, response.CodeBadRequest, err.Error(), nil)
	default:
		respondError(c, response.CodeInternal, fallbackMsg, err)
	}
}
