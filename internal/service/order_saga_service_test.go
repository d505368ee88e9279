package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
)

func TestOrderSagaRedeliveredValidationRepublishesFailure(t *testing.T) {
	env := setupServiceTest(t)
	kit := env.sagaKit(t, env.locker)
	ctx := context.Background()
	product := env.createProduct(t, 10, 5)
	cmd := queue.OrderCommand{
		SagaID:      "saga-unknown-user",
		UserID:      999,
		Lines:       []queue.OrderLine{{ProductID: product.ID, Quantity: 2}},
		RequestedAt: time.Now(),
	}
	if err := kit.stock.Reserve(ctx, cmd.Reservations()); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	env.publisher.failNext(queue.TaskOrderValidationFailed, errors.New("broker down"))

	payload := queue.OrderValidationRequestedPayload{Command: cmd}
	if err := kit.saga.HandleValidation(ctx, payload); err == nil {
		t.Fatalf("first delivery should surface the publish error")
	}
	if err := kit.saga.HandleValidation(ctx, payload); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	saga, err := env.repos.Saga.GetBySagaID(cmd.SagaID)
	if err != nil || saga == nil {
		t.Fatalf("get saga failed: %v", err)
	}
	if saga.State != constants.SagaStateCompensating || saga.FailedAt != constants.SagaStateValidating {
		t.Fatalf("unexpected saga state=%s failed_at=%s", saga.State, saga.FailedAt)
	}
	failed := env.publisher.byType(queue.TaskOrderValidationFailed)
	if len(failed) != 1 {
		t.Fatalf("redelivery should publish the lost failure event, got %d", len(failed))
	}

	release := failed[0].payload.(queue.ReservationReleasePayload)
	for i := 0; i < 2; i++ {
		if err := kit.compensation.ReleaseReservation(ctx, TriggerValidationFailed, release); err != nil {
			t.Fatalf("release #%d failed: %v", i+1, err)
		}
	}
	if got, _ := kit.stock.CachedStock(ctx, product.ID); got != 5 {
		t.Fatalf("reservation should be released exactly once, cached stock=%d", got)
	}
	saga, _ = env.repos.Saga.GetBySagaID(cmd.SagaID)
	if saga == nil || saga.State != constants.SagaStateFailed {
		t.Fatalf("saga should end FAILED, got %+v", saga)
	}
}

func TestOrderSagaRedeliveredStockStageRepublishesCreationFailure(t *testing.T) {
	env := setupServiceTest(t)
	kit := env.sagaKit(t, env.locker)
	product := env.createProduct(t, 10, 5)
	cmd := queue.OrderCommand{
		SagaID:      "saga-creation-failed",
		UserID:      1,
		Lines:       []queue.OrderLine{{ProductID: product.ID, Quantity: 1}},
		RequestedAt: time.Now(),
	}
	err := env.repos.Saga.Create(&models.OrderSaga{
		SagaID:   cmd.SagaID,
		UserID:   cmd.UserID,
		State:    constants.SagaStateCompensating,
		FailedAt: constants.SagaStateOrderCreating,
		Reason:   "db down",
	})
	if err != nil {
		t.Fatalf("create saga failed: %v", err)
	}

	if err := kit.saga.HandleStockDeduction(context.Background(), queue.StockDeductionRequestedPayload{Command: cmd}); err != nil {
		t.Fatalf("redelivered stock stage failed: %v", err)
	}
	if got := len(env.publisher.byType(queue.TaskOrderCreationRequested)); got != 0 {
		t.Fatalf("compensating saga must not advance, got %d creation events", got)
	}
	failed := env.publisher.byType(queue.TaskOrderCreationFailed)
	if len(failed) != 1 {
		t.Fatalf("expected creation failed event, got %d", len(failed))
	}
	got := failed[0].payload.(queue.OrderCreationFailedPayload)
	if !got.NeedsDurableRecovery || got.Reason != "db down" {
		t.Fatalf("unexpected creation failed payload %+v", got)
	}
}

func TestOrderSagaFinishedSagaIgnoresRedelivery(t *testing.T) {
	env := setupServiceTest(t)
	kit := env.sagaKit(t, env.locker)
	cmd := queue.OrderCommand{SagaID: "saga-done", UserID: 1, Lines: []queue.OrderLine{{ProductID: 1, Quantity: 1}}}
	if err := env.repos.Saga.Create(&models.OrderSaga{SagaID: cmd.SagaID, UserID: 1, State: constants.SagaStateFailed, FailedAt: constants.SagaStateValidating}); err != nil {
		t.Fatalf("create saga failed: %v", err)
	}
	if err := kit.saga.HandleValidation(context.Background(), queue.OrderValidationRequestedPayload{Command: cmd}); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if got := len(env.publisher.byType(queue.TaskOrderValidationFailed)); got != 0 {
		t.Fatalf("finished saga must not republish, got %d", got)
	}
}
