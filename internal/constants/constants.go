package constants

// 订单状态常量
const (
	OrderStatusPending       = "PENDING"
	OrderStatusPaid          = "PAID"
	OrderStatusPaymentFailed = "PAYMENT_FAILED"
	OrderStatusCanceled      = "CANCELED"
	OrderStatusCompleted     = "COMPLETED"
)

// 订单项状态常量
const (
	OrderItemStatusActive   = "ACTIVE"
	OrderItemStatusCanceled = "CANCELED"
)

// 下单 saga 状态常量
const (
	SagaStateValidating      = "VALIDATING"
	SagaStateStockCommitting = "STOCK_COMMITTING"
	SagaStateOrderCreating   = "ORDER_CREATING"
	SagaStateCompleted       = "COMPLETED"
	SagaStateCompensating    = "COMPENSATING"
	SagaStateFailed          = "FAILED"
)

// 优惠券折扣类型
const (
	CouponTypeFixed   = "fixed"
	CouponTypePercent = "percent"
)

// 优惠券发放失败原因
const (
	CouponIssueFailDuplicate = "DUPLICATE_ISSUE"
	CouponIssueFailDBSave    = "DB_SAVE_FAILED"
)

// 补偿资源类型
const (
	CompensationResourceStock       = "stock"
	CompensationResourceCacheStock  = "cache_stock"
	CompensationResourceCouponUsage = "coupon_usage"
	CompensationResourcePoint       = "point"
	CompensationResourceCouponClaim = "coupon_claim"
	CompensationResourceCouponCount = "coupon_issued_count"
	CompensationResourceOrder       = "order"
)

var orderTransitions = map[string]map[string]bool{
	OrderStatusPending: {
		OrderStatusPaid:          true,
		OrderStatusPaymentFailed: true,
		OrderStatusCanceled:      true,
	},
	OrderStatusPaid: {
		OrderStatusCompleted: true,
		OrderStatusCanceled:  true,
	},
	OrderStatusPaymentFailed: {
		OrderStatusCanceled: true,
	},
}

// OrderTransitionAllowed 判断订单状态流转是否合法
func OrderTransitionAllowed(from, to string) bool {
	return orderTransitions[from][to]
}

// OrderCancelable 判断订单是否可取消
func OrderCancelable(status string) bool {
	return OrderTransitionAllowed(status, OrderStatusCanceled)
}

var sagaTransitions = map[string]map[string]bool{
	SagaStateValidating: {
		SagaStateStockCommitting: true,
		SagaStateCompensating:    true,
	},
	SagaStateStockCommitting: {
		SagaStateOrderCreating: true,
		SagaStateCompensating:  true,
	},
	SagaStateOrderCreating: {
		SagaStateCompleted:    true,
		SagaStateCompensating: true,
	},
	SagaStateCompensating: {
		SagaStateFailed: true,
	},
}

// SagaTransitionAllowed 判断 saga 状态流转是否合法
func SagaTransitionAllowed(from, to string) bool {
	return sagaTransitions[from][to]
}
