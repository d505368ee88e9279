package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/models"
)

func TestPointManagerDeductFIFOAndRestoreOnce(t *testing.T) {
	env := setupServiceTest(t)
	points := NewPointManager(env.db, env.repos.Point)
	ctx := context.Background()
	user := env.createUser(t, "u")
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)
	first := &models.Point{UserID: user.ID, Amount: models.MoneyFromInt(30), RemainingAmount: models.MoneyFromInt(30), ExpiresAt: &soon}
	second := &models.Point{UserID: user.ID, Amount: models.MoneyFromInt(50), RemainingAmount: models.MoneyFromInt(50), ExpiresAt: &later}
	for _, p := range []*models.Point{second, first} {
		if err := env.repos.Point.Create(p); err != nil {
			t.Fatalf("create point failed: %v", err)
		}
	}

	if err := points.Deduct(ctx, user.ID, 7, models.MoneyFromInt(40)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	assertRemaining(t, env, first.ID, "0.00")
	assertRemaining(t, env, second.ID, "40.00")

	restored, err := points.Restore(ctx, 7)
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if restored.String() != "40.00" {
		t.Fatalf("expected 40 restored, got %s", restored.String())
	}
	again, err := points.Restore(ctx, 7)
	if err != nil {
		t.Fatalf("second restore failed: %v", err)
	}
	if !again.Decimal.IsZero() {
		t.Fatalf("second restore should be a no-op, restored %s", again.String())
	}
	assertRemaining(t, env, first.ID, "30.00")
	assertRemaining(t, env, second.ID, "50.00")
}

func TestPointManagerDeductInsufficientRollsBack(t *testing.T) {
	env := setupServiceTest(t)
	points := NewPointManager(env.db, env.repos.Point)
	user := env.createUser(t, "u")
	p := &models.Point{UserID: user.ID, Amount: models.MoneyFromInt(10), RemainingAmount: models.MoneyFromInt(10)}
	if err := env.repos.Point.Create(p); err != nil {
		t.Fatalf("create point failed: %v", err)
	}

	err := points.Deduct(context.Background(), user.ID, 1, models.MoneyFromInt(11))
	if !errors.Is(err, ErrPointInsufficient) {
		t.Fatalf("expected point insufficient, got %v", err)
	}
	assertRemaining(t, env, p.ID, "10.00")
}

func TestPointManagerRestoreDetectsCorruptedLedger(t *testing.T) {
	env := setupServiceTest(t)
	points := NewPointManager(env.db, env.repos.Point)
	user := env.createUser(t, "u")
	p := &models.Point{UserID: user.ID, Amount: models.MoneyFromInt(10), RemainingAmount: models.MoneyFromInt(10)}
	if err := env.repos.Point.Create(p); err != nil {
		t.Fatalf("create point failed: %v", err)
	}
	// 流水声称用了 5，但来源余额从未扣减
	if err := env.repos.Point.CreateUsage(&models.PointUsageHistory{PointID: p.ID, OrderID: 3, UsedAmount: models.MoneyFromInt(5)}); err != nil {
		t.Fatalf("create usage failed: %v", err)
	}

	_, err := points.Restore(context.Background(), 3)
	if !errors.Is(err, ErrCompensationFailure) {
		t.Fatalf("expected compensation failure, got %v", err)
	}
	assertRemaining(t, env, p.ID, "10.00")
}

func assertRemaining(t *testing.T, env *serviceTestEnv, pointID uint, want string) {
	t.Helper()
	p, err := env.repos.Point.GetByID(pointID)
	if err != nil || p == nil {
		t.Fatalf("get point failed: %v", err)
	}
	if p.RemainingAmount.String() != want {
		t.Fatalf("point %d remaining want %s got %s", pointID, want, p.RemainingAmount.String())
	}
}
