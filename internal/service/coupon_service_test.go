package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
)

func newTestCouponService(env *serviceTestEnv) (*CouponService, *cache.CouponAllocator) {
	metadata := cache.NewCouponMetadataCache(env.store, env.repos.Coupon, time.Hour)
	allocator := cache.NewCouponAllocator(env.store, time.Hour)
	return NewCouponService(env.repos, metadata, allocator, env.locker, config.LockConfig{}, env.publisher, nil), allocator
}

func TestCouponIssueConcurrentUsersNeverExceedCapacity(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	coupon := env.createCoupon(t, 10)
	users := make([]*models.User, 0, 20)
	for i := 0; i < 20; i++ {
		users = append(users, env.createUser(t, "u"))
	}

	var success, soldOut int64
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), userID, coupon.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&success, 1)
			case errors.Is(err, ErrCouponSoldOut):
				atomic.AddInt64(&soldOut, 1)
			default:
				t.Errorf("unexpected issue error: %v", err)
			}
		}(user.ID)
	}
	wg.Wait()

	if success != 10 || soldOut != 10 {
		t.Fatalf("expected 10 issued and 10 sold out, got success=%d soldOut=%d", success, soldOut)
	}
	if got := len(env.publisher.byType(queue.TaskCouponIssued)); got != 10 {
		t.Fatalf("expected 10 issued events, got %d", got)
	}
}

func TestCouponIssueSameUserConcurrentOnlyOnce(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	coupon := env.createCoupon(t, 100)
	user := env.createUser(t, "u")

	var success, duplicate int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), user.ID, coupon.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&success, 1)
			case errors.Is(err, ErrCouponAlreadyIssued):
				atomic.AddInt64(&duplicate, 1)
			default:
				t.Errorf("unexpected issue error: %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 || duplicate != 9 {
		t.Fatalf("expected exactly one issue, got success=%d duplicate=%d", success, duplicate)
	}
}

func TestCouponIssueRejectsInvalidRequests(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	user := env.createUser(t, "u")
	coupon := env.createCoupon(t, 1)
	inactive := env.createCoupon(t, 1)
	if _, err := env.repos.Coupon.SetActive(inactive.ID, false); err != nil {
		t.Fatalf("deactivate coupon failed: %v", err)
	}
	future := time.Now().Add(time.Hour)
	notStarted := &models.Coupon{Name: "later", Type: "fixed", Value: models.MoneyFromInt(1), TotalQuantity: 1, PerUserLimit: 1, IsActive: true, StartsAt: &future}
	if err := env.repos.Coupon.Create(notStarted); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	cases := []struct {
		name     string
		userID   uint
		couponID uint
		want     error
		kind     error
	}{
		{name: "zero user", userID: 0, couponID: coupon.ID, want: ErrInvalidUserID, kind: ErrInvalidArgument},
		{name: "zero coupon", userID: user.ID, couponID: 0, want: ErrInvalidCouponID, kind: ErrInvalidArgument},
		{name: "unknown user", userID: 999, couponID: coupon.ID, want: ErrUserNotFound, kind: ErrNotFound},
		{name: "unknown coupon", userID: user.ID, couponID: 999, want: ErrCouponNotFound, kind: ErrNotFound},
		{name: "inactive coupon", userID: user.ID, couponID: inactive.ID, want: ErrCouponInactive, kind: ErrInvalidState},
		{name: "outside window", userID: user.ID, couponID: notStarted.ID, want: ErrCouponNotInWindow, kind: ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Issue(context.Background(), tc.userID, tc.couponID)
			if !errors.Is(err, tc.want) || !errors.Is(err, tc.kind) {
				t.Fatalf("want %v (%v), got %v", tc.want, tc.kind, err)
			}
		})
	}
}

func TestCouponIssuePublishFailureCancelsClaim(t *testing.T) {
	env := setupServiceTest(t)
	svc, allocator := newTestCouponService(env)
	coupon := env.createCoupon(t, 1)
	user := env.createUser(t, "u")
	env.publisher.err = errors.New("broker down")

	if _, err := svc.Issue(context.Background(), user.ID, coupon.ID); err == nil {
		t.Fatalf("expected publish error")
	}
	claimed, err := allocator.Claimed(context.Background(), coupon.ID, user.ID)
	if err != nil {
		t.Fatalf("claimed failed: %v", err)
	}
	if claimed {
		t.Fatalf("claim should be canceled after publish failure")
	}
}

func TestCouponHandleIssuedPersistsAndDetectsDuplicate(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	coupon := env.createCoupon(t, 5)
	user := env.createUser(t, "u")
	ctx := context.Background()
	payload := queue.CouponIssuedPayload{UserID: user.ID, CouponID: coupon.ID, IssuedAt: time.Now()}

	if err := svc.HandleIssued(ctx, payload); err != nil {
		t.Fatalf("handle issued failed: %v", err)
	}
	if got := len(env.publisher.byType(queue.TaskCouponQuantityIncrease)); got != 1 {
		t.Fatalf("expected quantity increase event, got %d", got)
	}

	if err := svc.HandleIssued(ctx, payload); err != nil {
		t.Fatalf("duplicate handle issued should not fail: %v", err)
	}
	failed := env.publisher.byType(queue.TaskCouponIssueFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one issue failed event, got %d", len(failed))
	}
	if got := failed[0].payload.(queue.CouponIssueFailedPayload).Reason; got != constants.CouponIssueFailDuplicate {
		t.Fatalf("expected duplicate reason, got %s", got)
	}
}

func TestCouponHandleIssueFailedKeepsClaimWhenRowExists(t *testing.T) {
	env := setupServiceTest(t)
	svc, allocator := newTestCouponService(env)
	coupon := env.createCoupon(t, 5)
	owner := env.createUser(t, "owner")
	other := env.createUser(t, "other")
	ctx := context.Background()

	for _, userID := range []uint{owner.ID, other.ID} {
		if _, err := svc.Issue(ctx, userID, coupon.ID); err != nil {
			t.Fatalf("issue failed: %v", err)
		}
	}
	if err := env.repos.UserCoupon.Create(&models.UserCoupon{UserID: owner.ID, CouponID: coupon.ID, IssuedAt: time.Now()}); err != nil {
		t.Fatalf("create user coupon failed: %v", err)
	}

	for _, userID := range []uint{owner.ID, other.ID} {
		err := svc.HandleIssueFailed(ctx, queue.CouponIssueFailedPayload{UserID: userID, CouponID: coupon.ID, Reason: constants.CouponIssueFailDuplicate})
		if err != nil {
			t.Fatalf("handle issue failed: %v", err)
		}
	}
	if claimed, _ := allocator.Claimed(ctx, coupon.ID, owner.ID); !claimed {
		t.Fatalf("claim backed by durable row must be kept")
	}
	if claimed, _ := allocator.Claimed(ctx, coupon.ID, other.ID); claimed {
		t.Fatalf("claim without durable row must be canceled")
	}
}

func TestCouponHandleQuantityIncreaseIgnoresRedelivery(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	coupon := env.createCoupon(t, 5)
	user := env.createUser(t, "u")
	ctx := context.Background()

	if err := svc.HandleIssued(ctx, queue.CouponIssuedPayload{UserID: user.ID, CouponID: coupon.ID, IssuedAt: time.Now()}); err != nil {
		t.Fatalf("handle issued failed: %v", err)
	}
	increase := queue.CouponQuantityIncreasePayload{CouponID: coupon.ID, UserID: user.ID}
	for i := 0; i < 2; i++ {
		if err := svc.HandleQuantityIncrease(ctx, increase); err != nil {
			t.Fatalf("handle quantity increase #%d failed: %v", i+1, err)
		}
	}
	got, err := env.repos.Coupon.GetByID(coupon.ID)
	if err != nil || got == nil {
		t.Fatalf("get coupon failed: %v", err)
	}
	if got.IssuedQuantity != 1 {
		t.Fatalf("redelivered increase must not double count, issued=%d", got.IssuedQuantity)
	}
}

func TestCouponHandleQuantityIncreaseBoundedByTotal(t *testing.T) {
	env := setupServiceTest(t)
	svc, _ := newTestCouponService(env)
	coupon := env.createCoupon(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		user := env.createUser(t, "u")
		if err := env.repos.UserCoupon.Create(&models.UserCoupon{UserID: user.ID, CouponID: coupon.ID, IssuedAt: time.Now()}); err != nil {
			t.Fatalf("create user coupon failed: %v", err)
		}
		if err := svc.HandleQuantityIncrease(ctx, queue.CouponQuantityIncreasePayload{CouponID: coupon.ID, UserID: user.ID}); err != nil {
			t.Fatalf("handle quantity increase failed: %v", err)
		}
	}
	got, err := env.repos.Coupon.GetByID(coupon.ID)
	if err != nil || got == nil {
		t.Fatalf("get coupon failed: %v", err)
	}
	if got.IssuedQuantity != 2 {
		t.Fatalf("issued quantity should stop at total, got %d", got.IssuedQuantity)
	}
}
