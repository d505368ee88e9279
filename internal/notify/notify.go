package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/logger"

	"github.com/segmentio/kafka-go"
)

// 通知事件类型
const (
	EventOrderCompleted = "order_completed"
	EventOrderCanceled  = "order_canceled"
)

// Event 订单通知事件
type Event struct {
	Type        string    `json:"type"`
	SagaID      string    `json:"saga_id,omitempty"`
	OrderID     uint      `json:"order_id"`
	OrderNo     string    `json:"order_no,omitempty"`
	UserID      uint      `json:"user_id"`
	FinalAmount string    `json:"final_amount,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier 通知投递接口
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// New 按配置创建通知器
func New(cfg config.NotifyConfig) Notifier {
	if cfg.KafkaEnabled && len(cfg.Brokers) > 0 {
		return NewKafkaNotifier(&kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		})
	}
	return LogNotifier{}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier 以用户 ID 为分区键写入 Kafka
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier 创建 Kafka 通知器
func NewKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Notify 投递通知
func (n *KafkaNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.UserID), 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close 关闭底层 writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier 仅记录日志
type LogNotifier struct{}

// Notify 输出通知日志
func (LogNotifier) Notify(ctx context.Context, event Event) error {
	logger.Infow("order_notification",
		"type", event.Type,
		"saga_id", event.SagaID,
		"order_id", event.OrderID,
		"order_no", event.OrderNo,
		"user_id", event.UserID,
		"final_amount", event.FinalAmount,
	)
	return nil
}

// Close 无需释放资源
func (LogNotifier) Close() error {
	return nil
}
