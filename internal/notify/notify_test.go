package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dujiao-next/flashsale/internal/config"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierKeysByUser(t *testing.T) {
	writer := &recordingWriter{}
	notifier := NewKafkaNotifier(writer)

	err := notifier.Notify(context.Background(), Event{
		Type:        EventOrderCompleted,
		SagaID:      "saga-1",
		OrderID:     9,
		UserID:      42,
		FinalAmount: "100.00",
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "42" {
		t.Fatalf("unexpected message key: %s", msg.Key)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode message failed: %v", err)
	}
	if decoded.OrderID != 9 || decoded.SagaID != "saga-1" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if err := notifier.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestNewFallsBackToLogNotifier(t *testing.T) {
	notifier := New(config.NotifyConfig{KafkaEnabled: false})
	if _, ok := notifier.(LogNotifier); !ok {
		t.Fatalf("expected LogNotifier, got %T", notifier)
	}
	if err := notifier.Notify(context.Background(), Event{Type: EventOrderCompleted}); err != nil {
		t.Fatalf("log notifier should not fail: %v", err)
	}
}
