package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
)

func TestCompensateOrderReportsPendingResourcesOnLastAttempt(t *testing.T) {
	env := setupServiceTest(t)
	kit := env.sagaKit(t, timeoutLocker{})
	user := env.createUser(t, "u")
	product := env.createProduct(t, 10, 5)
	coupon := env.createCoupon(t, 5)
	order := &models.Order{
		OrderNo:     "NO-1",
		SagaID:      "s-1",
		UserID:      user.ID,
		Status:      constants.OrderStatusCanceled,
		CouponID:    &coupon.ID,
		PointAmount: models.MoneyFromInt(5),
	}
	items := []models.OrderItem{{ProductID: product.ID, Quantity: 2, UnitPrice: models.MoneyFromInt(10), TotalPrice: models.MoneyFromInt(20), Status: constants.OrderItemStatusActive}}
	if err := env.repos.Order.Create(order, items); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	ctx := context.Background()

	err := kit.compensation.CompensateOrder(ctx, TriggerOrderCancel, order.ID, "order canceled")
	if !errors.Is(err, lock.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if got := len(kit.failures.snapshot()); got != 0 {
		t.Fatalf("retryable attempt must not report failures, got %d", got)
	}

	err = kit.compensation.CompensateOrder(queue.WithAttempt(ctx, 3, 3), TriggerOrderCancel, order.ID, "order canceled")
	if !errors.Is(err, lock.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	amounts := make(map[string]string)
	for _, failure := range kit.failures.snapshot() {
		if failure.OrderID != order.ID || !errors.Is(failure.Err, lock.ErrLockTimeout) {
			t.Fatalf("failure should carry order and cause, got %+v", failure)
		}
		amounts[failure.Resource] = failure.Amount
	}
	want := map[string]string{
		constants.CompensationResourceStock:       "2",
		constants.CompensationResourceCacheStock:  "2",
		constants.CompensationResourceCouponUsage: "1",
		constants.CompensationResourcePoint:       "5.00",
	}
	if len(amounts) != len(want) {
		t.Fatalf("want resources %v got %v", want, amounts)
	}
	for resource, amount := range want {
		if amounts[resource] != amount {
			t.Fatalf("resource %s amount want %s got %s", resource, amount, amounts[resource])
		}
	}
}

func TestReleaseReservationReportsCacheLinesOnLastAttempt(t *testing.T) {
	env := setupServiceTest(t)
	kit := env.sagaKit(t, timeoutLocker{})
	payload := queue.ReservationReleasePayload{
		SagaID:       "s-2",
		UserID:       1,
		Reservations: []queue.Reservation{{ProductID: 8, Quantity: 1}, {ProductID: 3, Quantity: 2}, {ProductID: 8, Quantity: 1}},
		Reason:       "user not found",
	}

	err := kit.compensation.ReleaseReservation(queue.WithAttempt(context.Background(), 2, 2), TriggerValidationFailed, payload)
	if !errors.Is(err, lock.ErrLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	failures := kit.failures.snapshot()
	if len(failures) != 2 {
		t.Fatalf("expected one failure per product, got %+v", failures)
	}
	if failures[0].ResourceID != 3 || failures[0].Amount != "2" || failures[1].ResourceID != 8 || failures[1].Amount != "2" {
		t.Fatalf("unexpected cache failures %+v", failures)
	}
	for _, failure := range failures {
		if failure.Resource != constants.CompensationResourceCacheStock || failure.SagaID != "s-2" {
			t.Fatalf("unexpected failure %+v", failure)
		}
	}
}
