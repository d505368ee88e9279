package queue

import (
	"encoding/json"
	"time"

	"github.com/dujiao-next/flashsale/internal/models"

	"github.com/hibiken/asynq"
)

// 任务类型（事件名）
const (
	TaskCouponIssued              = "coupon:issued"
	TaskCouponIssueFailed         = "coupon:issue_failed"
	TaskCouponQuantityIncrease    = "coupon:quantity_increase"
	TaskOrderValidationRequested  = "order:validation_requested"
	TaskStockDeductionRequested   = "order:stock_deduction_requested"
	TaskOrderCreationRequested    = "order:creation_requested"
	TaskOrderCompleted            = "order:completed"
	TaskOrderValidationFailed     = "order:validation_failed"
	TaskOrderStockDeductionFailed = "order:stock_deduction_failed"
	TaskOrderCreationFailed       = "order:creation_failed"
	TaskOrderCancel               = "order:cancel"
	TaskPaymentFailed             = "order:payment_failed"
)

// OrderLine 下单商品行
type OrderLine struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// OrderCommand 下单命令（贯穿整个 saga）
type OrderCommand struct {
	SagaID      string       `json:"saga_id"`
	UserID      uint         `json:"user_id"`
	Lines       []OrderLine  `json:"lines"`
	CouponID    *uint        `json:"coupon_id,omitempty"`
	PointAmount models.Money `json:"point_amount"`
	CartItemIDs []uint       `json:"cart_item_ids,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
}

// Reservations 命令对应的缓存预占明细
func (c OrderCommand) Reservations() []Reservation {
	out := make([]Reservation, 0, len(c.Lines))
	for _, line := range c.Lines {
		out = append(out, Reservation{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

// PricedLine 校验后带价格的商品行
type PricedLine struct {
	ProductID uint         `json:"product_id"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
}

// ValidatedOrder 校验阶段产出的订单数据
type ValidatedOrder struct {
	Lines          []PricedLine `json:"lines"`
	TotalAmount    models.Money `json:"total_amount"`
	ShippingFee    models.Money `json:"shipping_fee"`
	DiscountAmount models.Money `json:"discount_amount"`
	PointAmount    models.Money `json:"point_amount"`
	FinalAmount    models.Money `json:"final_amount"`
	CouponLimit    int          `json:"coupon_limit"`
}

// Reservation 单个商品的预占数量
type Reservation struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// CouponIssuedPayload 领券成功
type CouponIssuedPayload struct {
	UserID   uint      `json:"user_id"`
	CouponID uint      `json:"coupon_id"`
	Rank     int64     `json:"rank"`
	IssuedAt time.Time `json:"issued_at"`
}

// CouponIssueFailedPayload 领券落库失败
type CouponIssueFailedPayload struct {
	UserID   uint   `json:"user_id"`
	CouponID uint   `json:"coupon_id"`
	Reason   string `json:"reason"`
}

// CouponQuantityIncreasePayload 已发放数量加一
type CouponQuantityIncreasePayload struct {
	CouponID uint `json:"coupon_id"`
	UserID   uint `json:"user_id"`
}

// OrderValidationRequestedPayload 请求校验
type OrderValidationRequestedPayload struct {
	Command OrderCommand `json:"command"`
}

// StockDeductionRequestedPayload 请求扣减数据库库存
type StockDeductionRequestedPayload struct {
	Command   OrderCommand   `json:"command"`
	Validated ValidatedOrder `json:"validated"`
}

// OrderCreationRequestedPayload 请求创建订单
type OrderCreationRequestedPayload struct {
	Command   OrderCommand   `json:"command"`
	Validated ValidatedOrder `json:"validated"`
}

// OrderCompletedPayload 订单创建完成（仅通知）
type OrderCompletedPayload struct {
	SagaID      string       `json:"saga_id"`
	OrderID     uint         `json:"order_id"`
	OrderNo     string       `json:"order_no"`
	UserID      uint         `json:"user_id"`
	FinalAmount models.Money `json:"final_amount"`
}

// ReservationReleasePayload 校验失败/库存扣减失败，仅回补缓存预占
type ReservationReleasePayload struct {
	SagaID       string        `json:"saga_id"`
	UserID       uint          `json:"user_id"`
	Reservations []Reservation `json:"reservations"`
	Reason       string        `json:"reason"`
}

// OrderCreationFailedPayload 订单创建失败，回补数据库库存与缓存
type OrderCreationFailedPayload struct {
	SagaID               string        `json:"saga_id"`
	UserID               uint          `json:"user_id"`
	Reservations         []Reservation `json:"reservations"`
	Reason               string        `json:"reason"`
	NeedsDurableRecovery bool          `json:"needs_durable_recovery"`
}

// OrderCancelPayload 订单取消
type OrderCancelPayload struct {
	OrderID uint `json:"order_id"`
	UserID  uint `json:"user_id"`
}

// PaymentFailedPayload 支付失败
type PaymentFailedPayload struct {
	OrderID uint   `json:"order_id"`
	UserID  uint   `json:"user_id"`
	Reason  string `json:"reason"`
}

// NewTask 创建 JSON 载荷任务
func NewTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}

// Decode 解析任务载荷
func Decode(task *asynq.Task, dest interface{}) error {
	return json.Unmarshal(task.Payload(), dest)
}

// 补偿类任务走 critical 队列，通知走 low 队列
func queueFor(taskType string) string {
	switch taskType {
	case TaskCouponIssueFailed, TaskOrderValidationFailed, TaskOrderStockDeductionFailed,
		TaskOrderCreationFailed, TaskOrderCancel, TaskPaymentFailed:
		return QueueCritical
	case TaskOrderCompleted:
		return QueueLow
	default:
		return QueueDefault
	}
}
