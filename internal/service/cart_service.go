package service

import (
	"time"

	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/repository"
)

// CartItemDetail 购物车项详情（用于响应）
type CartItemDetail struct {
	ID        uint            `json:"id"`
	ProductID uint            `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice models.Money    `json:"unit_price"`
	Subtotal  models.Money    `json:"subtotal"`
	Product   *models.Product `json:"product"`
}

// UpsertCartItemInput 购物车更新输入
type UpsertCartItemInput struct {
	UserID    uint
	ProductID uint
	Quantity  int
}

// CartService 购物车服务
// 下单时按购物车项 ID 引用，成功落单后由 saga 删除对应项。
type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	userRepo    repository.UserRepository
}

// NewCartService 创建购物车服务
func NewCartService(repos Repositories) *CartService {
	return &CartService{
		cartRepo:    repos.Cart,
		productRepo: repos.Product,
		userRepo:    repos.User,
	}
}

// ListByUser 获取用户购物车，已下架商品顺带清理
func (s *CartService) ListByUser(userID uint) ([]CartItemDetail, error) {
	if userID == 0 {
		return nil, ErrInvalidUserID
	}
	items, err := s.cartRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	details := make([]CartItemDetail, 0, len(items))
	if len(items) == 0 {
		return details, nil
	}
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.productRepo.ListByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, item := range items {
		product := byID[item.ProductID]
		if product == nil || !product.IsActive {
			if err := s.cartRepo.DeleteByUserAndProduct(userID, item.ProductID); err != nil {
				logger.Warnw("cart_remove_inactive_item_failed",
					"user_id", userID,
					"product_id", item.ProductID,
					"error", err,
				)
			}
			continue
		}
		details = append(details, CartItemDetail{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Subtotal:  product.Price.MulInt(item.Quantity),
			Product:   product,
		})
	}
	return details, nil
}

// UpsertItem 添加或更新购物车项
func (s *CartService) UpsertItem(input UpsertCartItemInput) (*models.CartItem, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidUserID
	}
	if input.ProductID == 0 || input.Quantity <= 0 {
		return nil, ErrInvalidOrderItem
	}
	exists, err := s.userRepo.Exists(input.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	product, err := s.productRepo.GetByID(input.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	if !product.IsActive {
		return nil, ErrProductInactive
	}
	if input.Quantity < product.MinOrderQty || (product.MaxOrderQty > 0 && input.Quantity > product.MaxOrderQty) {
		return nil, ErrOrderQuantityLimit
	}

	now := time.Now()
	item := &models.CartItem{
		UserID:    input.UserID,
		ProductID: input.ProductID,
		Quantity:  input.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cartRepo.Upsert(item); err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem 删除购物车项
func (s *CartService) RemoveItem(userID, productID uint) error {
	if userID == 0 {
		return ErrInvalidUserID
	}
	if productID == 0 {
		return ErrInvalidOrderItem
	}
	return s.cartRepo.DeleteByUserAndProduct(userID, productID)
}
