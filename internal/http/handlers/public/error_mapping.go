package public

import (
	"errors"

	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

// errorKindRules 按错误大类兜底，放在各接口专属规则之后
var errorKindRules = []mappedHandlerError{
	{target: service.ErrInvalidArgument, code: response.CodeBadRequest, msg: "invalid argument"},
	{target: service.ErrNotFound, code: response.CodeNotFound, msg: "resource not found"},
	{target: service.ErrCapacityExceeded, code: response.CodeConflict, msg: "capacity exceeded"},
	{target: service.ErrAlreadyIssued, code: response.CodeConflict, msg: "already issued"},
	{target: service.ErrLimitExceeded, code: response.CodeBadRequest, msg: "limit exceeded"},
	{target: service.ErrInvalidState, code: response.CodeBadRequest, msg: "invalid state"},
	{target: service.ErrLockTimeout, code: response.CodeServiceUnavailable, msg: "system busy, please retry"},
}

var couponIssueErrorRules = []mappedHandlerError{
	{target: service.ErrCouponSoldOut, code: response.CodeConflict, msg: "coupon sold out"},
	{target: service.ErrCouponAlreadyIssued, code: response.CodeConflict, msg: "coupon already issued"},
	{target: service.ErrCouponNotFound, code: response.CodeNotFound, msg: "coupon not found"},
	{target: service.ErrUserNotFound, code: response.CodeNotFound, msg: "user not found"},
	{target: service.ErrCouponInactive, code: response.CodeBadRequest, msg: "coupon inactive"},
	{target: service.ErrCouponNotInWindow, code: response.CodeBadRequest, msg: "coupon not available now"},
}

var orderPlaceErrorRules = []mappedHandlerError{
	{target: service.ErrStockInsufficient, code: response.CodeConflict, msg: "stock insufficient"},
	{target: service.ErrProductNotFound, code: response.CodeNotFound, msg: "product not found"},
	{target: service.ErrEmptyOrderItems, code: response.CodeBadRequest, msg: "order items are empty"},
	{target: service.ErrInvalidOrderItem, code: response.CodeBadRequest, msg: "order item invalid"},
	{target: service.ErrCartItemsInvalid, code: response.CodeBadRequest, msg: "cart items invalid"},
	{target: service.ErrInvalidPoint, code: response.CodeBadRequest, msg: "point amount invalid"},
}

var orderActionErrorRules = []mappedHandlerError{
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, msg: "order not found"},
	{target: service.ErrOrderOwnerMismatch, code: response.CodeForbidden, msg: "order does not belong to user"},
	{target: service.ErrOrderNotCancelable, code: response.CodeBadRequest, msg: "order not cancelable"},
	{target: service.ErrOrderStatusInvalid, code: response.CodeBadRequest, msg: "order status invalid"},
}

var cartErrorRules = []mappedHandlerError{
	{target: service.ErrProductNotFound, code: response.CodeNotFound, msg: "product not found"},
	{target: service.ErrUserNotFound, code: response.CodeNotFound, msg: "user not found"},
	{target: service.ErrProductInactive, code: response.CodeBadRequest, msg: "product not available"},
	{target: service.ErrOrderQuantityLimit, code: response.CodeBadRequest, msg: "quantity out of range"},
	{target: service.ErrInvalidOrderItem, code: response.CodeBadRequest, msg: "cart item invalid"},
}

var sagaQueryErrorRules = []mappedHandlerError{
	{target: service.ErrSagaNotFound, code: response.CodeNotFound, msg: "saga not found"},
}

func respondCouponIssueError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(couponIssueErrorRules, errorKindRules), response.CodeInternal, "coupon issue failed")
}

func respondOrderPlaceError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(orderPlaceErrorRules, errorKindRules), response.CodeInternal, "order create failed")
}

func respondOrderActionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(orderActionErrorRules, errorKindRules), response.CodeInternal, "order update failed")
}

func respondSagaQueryError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(sagaQueryErrorRules, errorKindRules), response.CodeInternal, "saga query failed")
}

func respondCartError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(cartErrorRules, errorKindRules), response.CodeInternal, "cart update failed")
}
