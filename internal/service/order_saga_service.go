package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/notify"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// saga 阶段名（指标标签）
const (
	stageReservation = "reservation"
	stageValidation  = "validation"
	stageStock       = "stock_commit"
	stageCreation    = "order_creation"
	stageCompletion  = "completion"
)

const sagaReasonMaxLen = 500

// SagaAccepted 下单请求已受理
const SagaAccepted = "accepted"

// OrderSagaService 下单 saga 编排
// 同步路径只做缓存层预占；校验、扣减数据库库存、创建订单分别由异步任务驱动，
// 每个阶段以 saga 状态的条件更新去重，事件在事务提交之后才发布。
type OrderSagaService struct {
	db        *gorm.DB
	repos     Repositories
	stock     *StockManager
	usage     *CouponUsageManager
	points    *PointManager
	pricing   *Pricing
	publisher queue.Publisher
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewOrderSagaService 创建下单 saga 服务
func NewOrderSagaService(db *gorm.DB, repos Repositories, stock *StockManager, usage *CouponUsageManager, points *PointManager, pricing *Pricing, publisher queue.Publisher, notifier notify.Notifier, m *metrics.Metrics) *OrderSagaService {
	return &OrderSagaService{
		db:        db,
		repos:     repos,
		stock:     stock,
		usage:     usage,
		points:    points,
		pricing:   pricing,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		now:       time.Now,
	}
}

// OrderItemInput 下单商品
type OrderItemInput struct {
	ProductID uint
	Quantity  int
}

// PlaceOrderInput 下单输入
type PlaceOrderInput struct {
	UserID      uint
	Items       []OrderItemInput
	CouponID    *uint
	PointAmount models.Money
}

// PlaceCartOrderInput 购物车下单输入
type PlaceCartOrderInput struct {
	UserID      uint
	CartItemIDs []uint
	CouponID    *uint
	PointAmount models.Money
}

// PlaceOrderResult 下单受理结果
type PlaceOrderResult struct {
	SagaID string `json:"saga_id"`
	Status string `json:"status"`
}

// PlaceOrder 预占缓存库存并发起 saga
func (s *OrderSagaService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	return s.place(ctx, input, nil)
}

// PlaceCartOrder 以购物车项下单，订单创建成功后删除对应购物车项
func (s *OrderSagaService) PlaceCartOrder(ctx context.Context, input PlaceCartOrderInput) (*PlaceOrderResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidUserID
	}
	ids := uniqueIDs(input.CartItemIDs)
	if len(ids) == 0 {
		return nil, ErrCartItemsInvalid
	}
	cartItems, err := s.repos.Cart.ListByIDs(input.UserID, ids)
	if err != nil {
		return nil, err
	}
	if len(cartItems) != len(ids) {
		return nil, ErrCartItemsInvalid
	}
	items := make([]OrderItemInput, 0, len(cartItems))
	for _, item := range cartItems {
		items = append(items, OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return s.place(ctx, PlaceOrderInput{
		UserID:      input.UserID,
		Items:       items,
		CouponID:    input.CouponID,
		PointAmount: input.PointAmount,
	}, ids)
}

func (s *OrderSagaService) place(ctx context.Context, input PlaceOrderInput, cartItemIDs []uint) (*PlaceOrderResult, error) {
	startedAt := time.Now()
	lines, err := normalizeOrderInput(input)
	if err != nil {
		return nil, err
	}
	cmd := queue.OrderCommand{
		SagaID:      uuid.NewString(),
		UserID:      input.UserID,
		Lines:       lines,
		CouponID:    input.CouponID,
		PointAmount: input.PointAmount,
		CartItemIDs: cartItemIDs,
		RequestedAt: s.now(),
	}
	if err := s.stock.Reserve(ctx, cmd.Reservations()); err != nil {
		s.metrics.SagaStage(stageReservation, metrics.ResultFailure, startedAt)
		return nil, err
	}
	if err := s.publisher.Publish(ctx, queue.TaskOrderValidationRequested, queue.OrderValidationRequestedPayload{Command: cmd}); err != nil {
		s.stock.Release(ctx, cmd.Reservations())
		s.metrics.SagaStage(stageReservation, metrics.ResultFailure, startedAt)
		return nil, err
	}
	s.metrics.SagaStage(stageReservation, metrics.ResultSuccess, startedAt)
	logger.Infow("order_saga_accepted",
		"saga_id", cmd.SagaID,
		"user_id", cmd.UserID,
		"lines", len(cmd.Lines),
	)
	return &PlaceOrderResult{SagaID: cmd.SagaID, Status: SagaAccepted}, nil
}

// GetSaga 查询 saga 状态
func (s *OrderSagaService) GetSaga(sagaID string) (*models.OrderSaga, error) {
	sagaID = strings.TrimSpace(sagaID)
	if sagaID == "" {
		return nil, fmt.Errorf("%w: saga id is required", ErrInvalidArgument)
	}
	saga, err := s.repos.Saga.GetBySagaID(sagaID)
	if err != nil {
		return nil, err
	}
	if saga == nil {
		return nil, ErrSagaNotFound
	}
	return saga, nil
}

// HandleValidation 校验阶段：只读检查，通过后推进到 STOCK_COMMITTING
func (s *OrderSagaService) HandleValidation(ctx context.Context, payload queue.OrderValidationRequestedPayload) error {
	startedAt := time.Now()
	cmd := payload.Command
	saga, created, err := s.beginSaga(cmd)
	if err != nil {
		return err
	}
	if !created && saga.State != constants.SagaStateValidating {
		logDuplicateStage(stageValidation, cmd.SagaID, saga.State)
		switch saga.State {
		case constants.SagaStateStockCommitting:
			var validated queue.ValidatedOrder
			if err := saga.Validated.Decode(&validated); err != nil {
				return err
			}
			return s.publisher.Publish(ctx, queue.TaskStockDeductionRequested, queue.StockDeductionRequestedPayload{Command: cmd, Validated: validated})
		case constants.SagaStateCompensating:
			return s.publishFailure(ctx, cmd, saga.FailedAt, saga.Reason)
		}
		return nil
	}

	validated, err := s.validate(cmd)
	if err != nil {
		s.metrics.SagaStage(stageValidation, metrics.ResultFailure, startedAt)
		return s.fail(ctx, cmd, constants.SagaStateValidating, err)
	}
	snapshot, err := models.NewJSONText(validated)
	if err != nil {
		return err
	}
	affected, err := s.repos.Saga.Transition(cmd.SagaID, constants.SagaStateValidating, constants.SagaStateStockCommitting, map[string]interface{}{
		"validated": snapshot,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		logDuplicateStage(stageValidation, cmd.SagaID, "")
		return nil
	}
	s.metrics.SagaStage(stageValidation, metrics.ResultSuccess, startedAt)
	return s.publisher.Publish(ctx, queue.TaskStockDeductionRequested, queue.StockDeductionRequestedPayload{Command: cmd, Validated: validated})
}

// HandleStockDeduction 按商品 ID 升序加锁后扣减数据库库存
func (s *OrderSagaService) HandleStockDeduction(ctx context.Context, payload queue.StockDeductionRequestedPayload) error {
	startedAt := time.Now()
	cmd := payload.Command
	lines := cmd.Reservations()
	skipped := false
	err := s.stock.WithLocks(ctx, lines, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			affected, err := s.repos.Saga.WithTx(tx).Transition(cmd.SagaID, constants.SagaStateStockCommitting, constants.SagaStateOrderCreating, nil)
			if err != nil {
				return err
			}
			if affected == 0 {
				skipped = true
				return nil
			}
			return s.stock.DecreaseTx(tx, lines)
		})
	})
	if err != nil {
		s.metrics.SagaStage(stageStock, metrics.ResultFailure, startedAt)
		return s.fail(ctx, cmd, constants.SagaStateStockCommitting, err)
	}
	next := queue.OrderCreationRequestedPayload{Command: cmd, Validated: payload.Validated}
	if skipped {
		return s.reemitIfAt(ctx, cmd, stageStock, constants.SagaStateOrderCreating, func() error {
			return s.publisher.Publish(ctx, queue.TaskOrderCreationRequested, next)
		})
	}
	s.metrics.SagaStage(stageStock, metrics.ResultSuccess, startedAt)
	return s.publisher.Publish(ctx, queue.TaskOrderCreationRequested, next)
}

// HandleOrderCreation 持久化订单、扣减积分、累加优惠券使用次数
func (s *OrderSagaService) HandleOrderCreation(ctx context.Context, payload queue.OrderCreationRequestedPayload) error {
	startedAt := time.Now()
	cmd := payload.Command
	validated := payload.Validated
	var (
		order   *models.Order
		skipped bool
	)
	create := func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sagaRepo := s.repos.Saga.WithTx(tx)
			saga, err := sagaRepo.GetBySagaIDForUpdate(cmd.SagaID)
			if err != nil {
				return err
			}
			if saga == nil || saga.State != constants.SagaStateOrderCreating {
				skipped = true
				return nil
			}

			now := s.now()
			order, err = s.persistOrder(tx, cmd, validated, now)
			if err != nil {
				return err
			}
			if cmd.CouponID != nil {
				if err := s.usage.IncrementTx(tx, cmd.UserID, *cmd.CouponID, validated.CouponLimit); err != nil {
					return err
				}
			}
			if err := s.points.DeductTx(tx, cmd.UserID, order.ID, validated.PointAmount, now); err != nil {
				return err
			}
			if len(cmd.CartItemIDs) > 0 {
				if err := s.repos.Cart.WithTx(tx).DeleteByIDs(cmd.UserID, cmd.CartItemIDs); err != nil {
					return err
				}
			}
			affected, err := sagaRepo.Transition(cmd.SagaID, constants.SagaStateOrderCreating, constants.SagaStateCompleted, map[string]interface{}{
				"order_id": order.ID,
			})
			if err != nil {
				return err
			}
			if affected == 0 {
				return ErrSagaStateConflict
			}
			return nil
		})
	}

	var err error
	if cmd.CouponID != nil {
		err = s.usage.WithLock(ctx, cmd.UserID, *cmd.CouponID, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		s.metrics.SagaStage(stageCreation, metrics.ResultFailure, startedAt)
		return s.fail(ctx, cmd, constants.SagaStateOrderCreating, err)
	}
	if skipped {
		return s.reemitIfAt(ctx, cmd, stageCreation, constants.SagaStateCompleted, func() error {
			existing, err := s.repos.Order.GetBySagaID(cmd.SagaID)
			if err != nil || existing == nil {
				return err
			}
			return s.publishCompleted(ctx, cmd.SagaID, existing)
		})
	}
	s.metrics.SagaStage(stageCreation, metrics.ResultSuccess, startedAt)
	logger.Infow("order_saga_completed",
		"saga_id", cmd.SagaID,
		"order_id", order.ID,
		"order_no", order.OrderNo,
		"final_amount", order.FinalAmount.String(),
	)
	return s.publishCompleted(ctx, cmd.SagaID, order)
}

// HandleCompleted 订单完成通知
func (s *OrderSagaService) HandleCompleted(ctx context.Context, payload queue.OrderCompletedPayload) error {
	startedAt := time.Now()
	err := s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventOrderCompleted,
		SagaID:      payload.SagaID,
		OrderID:     payload.OrderID,
		OrderNo:     payload.OrderNo,
		UserID:      payload.UserID,
		FinalAmount: payload.FinalAmount.String(),
		OccurredAt:  s.now(),
	})
	if err != nil {
		s.metrics.SagaStage(stageCompletion, metrics.ResultFailure, startedAt)
		return err
	}
	s.metrics.SagaStage(stageCompletion, metrics.ResultSuccess, startedAt)
	return nil
}

func (s *OrderSagaService) publishCompleted(ctx context.Context, sagaID string, order *models.Order) error {
	return s.publisher.Publish(ctx, queue.TaskOrderCompleted, queue.OrderCompletedPayload{
		SagaID:      sagaID,
		OrderID:     order.ID,
		OrderNo:     order.OrderNo,
		UserID:      order.UserID,
		FinalAmount: order.FinalAmount,
	})
}

// beginSaga 创建 saga 记录；已存在时返回现有记录
func (s *OrderSagaService) beginSaga(cmd queue.OrderCommand) (*models.OrderSaga, bool, error) {
	snapshot, err := models.NewJSONText(cmd)
	if err != nil {
		return nil, false, err
	}
	row := &models.OrderSaga{
		SagaID:  cmd.SagaID,
		UserID:  cmd.UserID,
		State:   constants.SagaStateValidating,
		Command: snapshot,
	}
	createErr := s.repos.Saga.Create(row)
	if createErr == nil {
		return row, true, nil
	}
	if !repository.IsUniqueViolation(createErr) {
		return nil, false, createErr
	}
	existing, err := s.repos.Saga.GetBySagaID(cmd.SagaID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, createErr
	}
	return existing, false, nil
}

// validate 只读校验：用户、商品、优惠券、积分
func (s *OrderSagaService) validate(cmd queue.OrderCommand) (queue.ValidatedOrder, error) {
	now := s.now()
	exists, err := s.repos.User.Exists(cmd.UserID)
	if err != nil {
		return queue.ValidatedOrder{}, err
	}
	if !exists {
		return queue.ValidatedOrder{}, ErrUserNotFound
	}

	ids := make([]uint, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repos.Product.ListByIDs(ids)
	if err != nil {
		return queue.ValidatedOrder{}, err
	}
	byID := make(map[uint]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	priced := make([]queue.PricedLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		product, ok := byID[line.ProductID]
		if !ok {
			return queue.ValidatedOrder{}, ErrProductNotFound
		}
		if !product.IsActive {
			return queue.ValidatedOrder{}, ErrProductInactive
		}
		if product.MinOrderQty > 0 && line.Quantity < product.MinOrderQty {
			return queue.ValidatedOrder{}, ErrOrderQuantityLimit
		}
		if product.MaxOrderQty > 0 && line.Quantity > product.MaxOrderQty {
			return queue.ValidatedOrder{}, ErrOrderQuantityLimit
		}
		priced = append(priced, queue.PricedLine{ProductID: product.ID, Quantity: line.Quantity, UnitPrice: product.Price})
	}

	var coupon *models.Coupon
	if cmd.CouponID != nil {
		coupon, err = s.checkCoupon(cmd.UserID, *cmd.CouponID, now)
		if err != nil {
			return queue.ValidatedOrder{}, err
		}
	}

	validated, err := s.pricing.Quote(priced, coupon, cmd.PointAmount)
	if err != nil {
		return queue.ValidatedOrder{}, err
	}
	if validated.PointAmount.Decimal.GreaterThan(decimal.Zero) {
		available, err := s.points.Available(cmd.UserID, now)
		if err != nil {
			return queue.ValidatedOrder{}, err
		}
		if available.Decimal.LessThan(validated.PointAmount.Decimal) {
			return queue.ValidatedOrder{}, ErrPointInsufficient
		}
	}
	return validated, nil
}

func (s *OrderSagaService) checkCoupon(userID, couponID uint, now time.Time) (*models.Coupon, error) {
	coupon, err := s.repos.Coupon.GetByID(couponID)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	if !coupon.IsActive {
		return nil, ErrCouponInactive
	}
	if !coupon.InWindow(now) {
		return nil, ErrCouponNotInWindow
	}
	owned, err := s.repos.UserCoupon.GetByUserAndCoupon(userID, couponID)
	if err != nil {
		return nil, err
	}
	if owned == nil {
		return nil, ErrUserCouponNotFound
	}
	if owned.UsedCount >= perUserLimitOrDefault(coupon.PerUserLimit) {
		return nil, ErrCouponUsageLimit
	}
	return coupon, nil
}

func (s *OrderSagaService) persistOrder(tx *gorm.DB, cmd queue.OrderCommand, validated queue.ValidatedOrder, now time.Time) (*models.Order, error) {
	order := &models.Order{
		OrderNo:        generateOrderNo(now),
		SagaID:         cmd.SagaID,
		UserID:         cmd.UserID,
		Status:         constants.OrderStatusPending,
		CouponID:       cmd.CouponID,
		TotalAmount:    validated.TotalAmount,
		ShippingFee:    validated.ShippingFee,
		DiscountAmount: validated.DiscountAmount,
		PointAmount:    validated.PointAmount,
		FinalAmount:    validated.FinalAmount,
	}
	items := make([]models.OrderItem, 0, len(validated.Lines))
	for _, line := range validated.Lines {
		items = append(items, models.OrderItem{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.UnitPrice.MulInt(line.Quantity),
			Status:     constants.OrderItemStatusActive,
		})
	}
	if err := s.repos.Order.WithTx(tx).Create(order, items); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrOrderAlreadyCreated, err)
		}
		return nil, err
	}
	return order, nil
}

// fail 将 saga 从 from 推进到 COMPENSATING 并发布对应失败事件
// 状态与失败阶段先落库再发布；发布失败由队列重投本阶段，重投时按 failed_at 补发。
func (s *OrderSagaService) fail(ctx context.Context, cmd queue.OrderCommand, from string, cause error) error {
	reason := truncateReason(cause.Error())
	affected, err := s.repos.Saga.Transition(cmd.SagaID, from, constants.SagaStateCompensating, map[string]interface{}{
		"reason":    reason,
		"failed_at": from,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		saga, err := s.repos.Saga.GetBySagaID(cmd.SagaID)
		if err != nil {
			return err
		}
		current := ""
		if saga != nil {
			current = saga.State
		}
		logDuplicateStage(from, cmd.SagaID, current)
		if current != constants.SagaStateCompensating {
			return nil
		}
		return s.publishFailure(ctx, cmd, saga.FailedAt, saga.Reason)
	}
	logger.Warnw("order_saga_stage_failed",
		"saga_id", cmd.SagaID,
		"user_id", cmd.UserID,
		"state", from,
		"error", cause,
	)
	return s.publishFailure(ctx, cmd, from, reason)
}

// publishFailure 按失败阶段发布失败事件；补偿处理以 saga 状态去重，重复发布无副作用
func (s *OrderSagaService) publishFailure(ctx context.Context, cmd queue.OrderCommand, failedAt, reason string) error {
	switch failedAt {
	case constants.SagaStateOrderCreating:
		return s.publisher.Publish(ctx, queue.TaskOrderCreationFailed, queue.OrderCreationFailedPayload{
			SagaID:               cmd.SagaID,
			UserID:               cmd.UserID,
			Reservations:         cmd.Reservations(),
			Reason:               reason,
			NeedsDurableRecovery: true,
		})
	case constants.SagaStateStockCommitting:
		return s.publisher.Publish(ctx, queue.TaskOrderStockDeductionFailed, queue.ReservationReleasePayload{
			SagaID:       cmd.SagaID,
			UserID:       cmd.UserID,
			Reservations: cmd.Reservations(),
			Reason:       reason,
		})
	default:
		return s.publisher.Publish(ctx, queue.TaskOrderValidationFailed, queue.ReservationReleasePayload{
			SagaID:       cmd.SagaID,
			UserID:       cmd.UserID,
			Reservations: cmd.Reservations(),
			Reason:       reason,
		})
	}
}

// reemitIfAt 重复投递时按 saga 当前状态补发事件
// 停在本阶段产出的状态时补发下一阶段事件；停在 COMPENSATING 时补发失败事件。
func (s *OrderSagaService) reemitIfAt(ctx context.Context, cmd queue.OrderCommand, stage, state string, emit func() error) error {
	saga, err := s.repos.Saga.GetBySagaID(cmd.SagaID)
	if err != nil {
		return err
	}
	if saga == nil {
		logDuplicateStage(stage, cmd.SagaID, "")
		return nil
	}
	logDuplicateStage(stage, cmd.SagaID, saga.State)
	switch saga.State {
	case state:
		return emit()
	case constants.SagaStateCompensating:
		return s.publishFailure(ctx, cmd, saga.FailedAt, saga.Reason)
	}
	return nil
}

func logDuplicateStage(stage, sagaID, state string) {
	logger.Infow("order_saga_stage_skipped",
		"stage", stage,
		"saga_id", sagaID,
		"state", state,
	)
}

func normalizeOrderInput(input PlaceOrderInput) ([]queue.OrderLine, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidUserID
	}
	if len(input.Items) == 0 {
		return nil, ErrEmptyOrderItems
	}
	if input.CouponID != nil && *input.CouponID == 0 {
		return nil, ErrInvalidCouponID
	}
	if input.PointAmount.Decimal.LessThan(decimal.Zero) {
		return nil, ErrInvalidPoint
	}
	reservations := make([]queue.Reservation, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Quantity <= 0 {
			return nil, ErrInvalidOrderItem
		}
		reservations = append(reservations, queue.Reservation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	merged := normalizeReservations(reservations)
	lines := make([]queue.OrderLine, 0, len(merged))
	for _, r := range merged {
		lines = append(lines, queue.OrderLine{ProductID: r.ProductID, Quantity: r.Quantity})
	}
	return lines, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncateReason(reason string) string {
	if len(reason) <= sagaReasonMaxLen {
		return reason
	}
	cut := reason[:sagaReasonMaxLen]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func generateOrderNo(now time.Time) string {
	return fmt.Sprintf("FS%s%s", now.Format("20060102150405"), randNumeric(6))
}

func randNumeric(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(fmt.Sprintf("%d", n.Int64()))
	}
	return b.String()
}
