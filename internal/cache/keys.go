package cache

import "fmt"

// CouponIssueKey 优惠券先到先得分配集合
func CouponIssueKey(couponID uint) string {
	return fmt.Sprintf("coupon:issue:%d", couponID)
}

// CouponMetadataKey 优惠券元数据快照
func CouponMetadataKey(couponID uint) string {
	return fmt.Sprintf("coupon:metadata:%d", couponID)
}

// ProductStockKey 商品库存计数器
func ProductStockKey(productID uint) string {
	return fmt.Sprintf("product:stock:%d", productID)
}
