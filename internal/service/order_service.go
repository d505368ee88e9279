package service

import (
	"context"
	"time"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/repository"

	"gorm.io/gorm"
)

// OrderService 订单状态流转（取消、支付结果、完成）
type OrderService struct {
	db        *gorm.DB
	orderRepo repository.OrderRepository
	publisher queue.Publisher
	now       func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(db *gorm.DB, orderRepo repository.OrderRepository, publisher queue.Publisher) *OrderService {
	return &OrderService{db: db, orderRepo: orderRepo, publisher: publisher, now: time.Now}
}

// GetOrder 获取用户订单
func (s *OrderService) GetOrder(orderID, userID uint) (*models.Order, error) {
	order, err := s.loadOwned(orderID, userID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders 获取用户订单列表
func (s *OrderService) ListOrders(filter repository.OrderListFilter) ([]models.Order, int64, error) {
	if filter.UserID == 0 {
		return nil, 0, ErrInvalidUserID
	}
	return s.orderRepo.ListByUser(filter)
}

// CancelOrder 取消订单并发布补偿事件
// 已取消但尚未回补的订单再次取消时重新发布事件。
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uint) (*models.Order, error) {
	order, err := s.loadOwned(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status == constants.OrderStatusCanceled && order.CompensatedAt == nil {
		return order, s.publishCancel(ctx, order)
	}
	if !constants.OrderCancelable(order.Status) {
		return nil, ErrOrderNotCancelable
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		affected, err := repo.TransitionStatus(order.ID, order.Status, constants.OrderStatusCanceled, map[string]interface{}{
			"canceled_at": now,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrOrderStatusInvalid
		}
		return repo.CancelItems(order.ID)
	})
	if err != nil {
		return nil, err
	}
	order.Status = constants.OrderStatusCanceled
	order.CanceledAt = &now
	for i := range order.Items {
		order.Items[i].Status = constants.OrderItemStatusCanceled
	}
	logger.Infow("order_canceled", "order_id", order.ID, "user_id", userID)
	return order, s.publishCancel(ctx, order)
}

// HandlePaymentFailed 支付失败：PENDING → PAYMENT_FAILED 并发布补偿事件
func (s *OrderService) HandlePaymentFailed(ctx context.Context, orderID, userID uint, reason string) (*models.Order, error) {
	order, err := s.loadOwned(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.OrderStatusPaymentFailed {
		if err := s.transition(order, constants.OrderStatusPaymentFailed, nil); err != nil {
			return nil, err
		}
	} else if order.CompensatedAt != nil {
		return order, nil
	}
	logger.Warnw("order_payment_failed", "order_id", order.ID, "user_id", userID, "reason", reason)
	return order, s.publisher.Publish(ctx, queue.TaskPaymentFailed, queue.PaymentFailedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		Reason:  reason,
	})
}

// MarkPaid 支付成功：PENDING → PAID
func (s *OrderService) MarkPaid(orderID, userID uint) (*models.Order, error) {
	order, err := s.loadOwned(orderID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.transition(order, constants.OrderStatusPaid, map[string]interface{}{"paid_at": now}); err != nil {
		return nil, err
	}
	order.PaidAt = &now
	return order, nil
}

// Complete 订单完成：PAID → COMPLETED
func (s *OrderService) Complete(orderID, userID uint) (*models.Order, error) {
	order, err := s.loadOwned(orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(order, constants.OrderStatusCompleted, nil); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) transition(order *models.Order, to string, updates map[string]interface{}) error {
	if !constants.OrderTransitionAllowed(order.Status, to) {
		return ErrOrderStatusInvalid
	}
	affected, err := s.orderRepo.TransitionStatus(order.ID, order.Status, to, updates)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderStatusInvalid
	}
	order.Status = to
	return nil
}

func (s *OrderService) publishCancel(ctx context.Context, order *models.Order) error {
	return s.publisher.Publish(ctx, queue.TaskOrderCancel, queue.OrderCancelPayload{OrderID: order.ID, UserID: order.UserID})
}

func (s *OrderService) loadOwned(orderID, userID uint) (*models.Order, error) {
	if orderID == 0 {
		return nil, ErrInvalidOrderID
	}
	if userID == 0 {
		return nil, ErrInvalidUserID
	}
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrOrderOwnerMismatch
	}
	return order, nil
}
