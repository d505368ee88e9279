package service

import "github.com/dujiao-next/flashsale/internal/repository"

// Repositories 服务层依赖的仓库集合
type Repositories struct {
	User                repository.UserRepository
	Product             repository.ProductRepository
	Coupon              repository.CouponRepository
	UserCoupon          repository.UserCouponRepository
	Order               repository.OrderRepository
	Point               repository.PointRepository
	Cart                repository.CartRepository
	Saga                repository.SagaRepository
	CompensationFailure repository.CompensationFailureRepository
}
