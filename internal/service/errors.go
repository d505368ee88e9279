package service

import (
	"errors"
	"fmt"

	"github.com/dujiao-next/flashsale/internal/lock"
)

// 错误类别，具体错误均包裹其中之一，调用方可按类别匹配
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrAlreadyIssued       = errors.New("already issued")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrLockTimeout         = lock.ErrLockTimeout
	ErrInvalidState        = errors.New("invalid state")
	ErrCompensationFailure = errors.New("compensation failure")
)

// 参数错误
var (
	ErrInvalidUserID    = fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	ErrInvalidCouponID  = fmt.Errorf("%w: coupon id is required", ErrInvalidArgument)
	ErrInvalidOrderID   = fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	ErrInvalidOrderItem = fmt.Errorf("%w: order item is invalid", ErrInvalidArgument)
	ErrEmptyOrderItems  = fmt.Errorf("%w: order items are empty", ErrInvalidArgument)
	ErrInvalidPoint     = fmt.Errorf("%w: point amount is invalid", ErrInvalidArgument)
	ErrCouponInvalid    = fmt.Errorf("%w: coupon definition is invalid", ErrInvalidArgument)
	ErrCartItemsInvalid = fmt.Errorf("%w: cart items are invalid", ErrInvalidArgument)
)

// 资源不存在
var (
	ErrUserNotFound       = fmt.Errorf("%w: user", ErrNotFound)
	ErrProductNotFound    = fmt.Errorf("%w: product", ErrNotFound)
	ErrCouponNotFound     = fmt.Errorf("%w: coupon", ErrNotFound)
	ErrUserCouponNotFound = fmt.Errorf("%w: user coupon", ErrNotFound)
	ErrOrderNotFound      = fmt.Errorf("%w: order", ErrNotFound)
	ErrSagaNotFound       = fmt.Errorf("%w: saga", ErrNotFound)
)

// 容量、重复与限额
var (
	ErrCouponSoldOut       = fmt.Errorf("%w: coupon sold out", ErrCapacityExceeded)
	ErrStockInsufficient   = fmt.Errorf("%w: stock insufficient", ErrCapacityExceeded)
	ErrCouponAlreadyIssued = fmt.Errorf("%w: coupon already issued to user", ErrAlreadyIssued)
	ErrOrderAlreadyCreated = fmt.Errorf("%w: order already created for saga", ErrAlreadyIssued)
	ErrCouponUsageLimit    = fmt.Errorf("%w: coupon per-user usage limit reached", ErrLimitExceeded)
	ErrOrderQuantityLimit  = fmt.Errorf("%w: order quantity out of range", ErrLimitExceeded)
	ErrPointInsufficient   = fmt.Errorf("%w: point balance insufficient", ErrLimitExceeded)
	ErrPointExceedsPayable = fmt.Errorf("%w: point amount exceeds payable amount", ErrLimitExceeded)
)

// 状态错误
var (
	ErrCouponInactive      = fmt.Errorf("%w: coupon inactive", ErrInvalidState)
	ErrCouponNotInWindow   = fmt.Errorf("%w: coupon outside active window", ErrInvalidState)
	ErrCouponMinAmount     = fmt.Errorf("%w: order amount below coupon threshold", ErrInvalidState)
	ErrProductInactive     = fmt.Errorf("%w: product inactive", ErrInvalidState)
	ErrOrderNotCancelable  = fmt.Errorf("%w: order not cancelable", ErrInvalidState)
	ErrOrderStatusInvalid  = fmt.Errorf("%w: order status transition not allowed", ErrInvalidState)
	ErrOrderOwnerMismatch  = fmt.Errorf("%w: order does not belong to user", ErrInvalidState)
	ErrSagaStateConflict   = fmt.Errorf("%w: saga already advanced", ErrInvalidState)
	ErrPointUsageCorrupted = fmt.Errorf("%w: point usage ledger mismatch", ErrCompensationFailure)
)
