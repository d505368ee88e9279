package lock

import "fmt"

// ProductStockKey 商品库存锁
func ProductStockKey(productID uint) string {
	return fmt.Sprintf("product:stock:%d", productID)
}

// CouponIncreaseKey 优惠券发放数量锁
func CouponIncreaseKey(couponID uint) string {
	return fmt.Sprintf("coupon:increase:%d", couponID)
}

// UserCouponKey 用户优惠券锁
func UserCouponKey(userID, couponID uint) string {
	return fmt.Sprintf("%d-%d", userID, couponID)
}

// SagaKey 单个 saga 的补偿锁
func SagaKey(sagaID string) string {
	return "saga:" + sagaID
}

// OrderCompensationKey 单个订单的补偿锁
func OrderCompensationKey(orderID uint) string {
	return fmt.Sprintf("order:compensate:%d", orderID)
}
