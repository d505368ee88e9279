package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "test"), mr
}

func TestCouponAllocatorCapacityUnderConcurrency(t *testing.T) {
	store, _ := setupStore(t)
	alloc := NewCouponAllocator(store, time.Hour)
	ctx := context.Background()

	const claimants = 40
	const capacity = 10
	var success, exceeded int64
	var wg sync.WaitGroup
	now := time.Now()
	for i := 1; i <= claimants; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			// 所有人同一时间戳，验证同分时不会超发
			_, err := alloc.Issue(ctx, 1, userID, now, capacity)
			switch {
			case err == nil:
				atomic.AddInt64(&success, 1)
			case errors.Is(err, ErrAllocCapacityExceeded):
				atomic.AddInt64(&exceeded, 1)
			default:
				t.Errorf("unexpected issue error: %v", err)
			}
		}(uint(i))
	}
	wg.Wait()

	if success != capacity || exceeded != claimants-capacity {
		t.Fatalf("success=%d exceeded=%d", success, exceeded)
	}
	count, err := alloc.Count(ctx, 1)
	if err != nil || count != capacity {
		t.Fatalf("allocation set size want %d got %d err=%v", capacity, count, err)
	}
}

func TestCouponAllocatorDuplicateAndCancel(t *testing.T) {
	store, mr := setupStore(t)
	alloc := NewCouponAllocator(store, time.Hour)
	ctx := context.Background()

	rank, err := alloc.Issue(ctx, 5, 42, time.Now(), 3)
	if err != nil || rank != 0 {
		t.Fatalf("first issue want rank 0, got=%d err=%v", rank, err)
	}
	key := store.Key(CouponIssueKey(5))
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("ttl should be set on first claim, got %v", ttl)
	}
	mr.SetTTL(key, 30*time.Minute)

	if _, err := alloc.Issue(ctx, 5, 42, time.Now(), 3); !errors.Is(err, ErrAllocDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	rank, err = alloc.Issue(ctx, 5, 43, time.Now().Add(time.Millisecond), 3)
	if err != nil || rank != 1 {
		t.Fatalf("second claimant want rank 1, got=%d err=%v", rank, err)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Minute {
		t.Fatalf("ttl should only be set when unset, got %v", ttl)
	}

	removed, err := alloc.Cancel(ctx, 5, 42)
	if err != nil || !removed {
		t.Fatalf("cancel failed: removed=%v err=%v", removed, err)
	}
	claimed, err := alloc.Claimed(ctx, 5, 42)
	if err != nil || claimed {
		t.Fatalf("claimant should be gone, claimed=%v err=%v", claimed, err)
	}
	if _, err := alloc.Issue(ctx, 5, 42, time.Now(), 3); err != nil {
		t.Fatalf("re-issue after cancel failed: %v", err)
	}
}

func TestStockCounterDecreaseIncrease(t *testing.T) {
	store, _ := setupStore(t)
	counter := NewStockCounter(store, time.Hour)
	ctx := context.Background()

	if _, err := counter.Decrease(ctx, 3, 1); !errors.Is(err, ErrStockNotLoaded) {
		t.Fatalf("expected not loaded, got %v", err)
	}
	if _, err := counter.Increase(ctx, 3, 1); !errors.Is(err, ErrStockNotLoaded) {
		t.Fatalf("increase on missing key should not create it, got %v", err)
	}
	loaded, err := counter.Load(ctx, 3, 5)
	if err != nil || !loaded {
		t.Fatalf("load failed: loaded=%v err=%v", loaded, err)
	}
	if loaded, _ := counter.Load(ctx, 3, 100); loaded {
		t.Fatalf("second load must not overwrite")
	}

	left, err := counter.Decrease(ctx, 3, 4)
	if err != nil || left != 1 {
		t.Fatalf("decrease want 1 left, got=%d err=%v", left, err)
	}
	if _, err := counter.Decrease(ctx, 3, 2); !errors.Is(err, ErrStockInsufficient) {
		t.Fatalf("expected insufficient, got %v", err)
	}
	after, err := counter.Increase(ctx, 3, 4)
	if err != nil || after != 5 {
		t.Fatalf("increase want 5, got=%d err=%v", after, err)
	}
}

type countingLoader struct {
	calls  int64
	coupon *models.Coupon
}

func (l *countingLoader) GetByID(id uint) (*models.Coupon, error) {
	atomic.AddInt64(&l.calls, 1)
	if l.coupon == nil || l.coupon.ID != id {
		return nil, nil
	}
	c := *l.coupon
	return &c, nil
}

func TestCouponMetadataCacheReadThroughAndWriteThrough(t *testing.T) {
	store, mr := setupStore(t)
	start := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	loader := &countingLoader{coupon: &models.Coupon{ID: 9, TotalQuantity: 10, IsActive: true, StartsAt: &start}}
	meta := NewCouponMetadataCache(store, loader, time.Hour)
	ctx := context.Background()

	got, err := meta.Get(ctx, 9)
	if err != nil || got == nil {
		t.Fatalf("read-through failed: %v", err)
	}
	if got.TotalQuantity != 10 || !got.IsActive || got.StartDate == nil || !got.StartDate.Equal(start) || got.EndDate != nil {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if mr.HGet(store.Key(CouponMetadataKey(9)), fieldTotalQuantity) != "10" {
		t.Fatalf("metadata hash should be populated")
	}

	if _, err := meta.Get(ctx, 9); err != nil {
		t.Fatalf("cached get failed: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("loader should be hit once, got %d", loader.calls)
	}

	if err := meta.SetActive(ctx, 9, false); err != nil {
		t.Fatalf("set active failed: %v", err)
	}
	got, _ = meta.Get(ctx, 9)
	if got.IsActive || got.Available(time.Now()) {
		t.Fatalf("deactivated coupon should not be available")
	}

	missing, err := meta.Get(ctx, 404)
	if err != nil || missing != nil {
		t.Fatalf("missing coupon should return nil, got=%+v err=%v", missing, err)
	}
}

type blockingLoader struct {
	coupon  *models.Coupon
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLoader) GetByID(uint) (*models.Coupon, error) {
	close(l.entered)
	<-l.release
	c := *l.coupon
	return &c, nil
}

func TestCouponMetadataCacheLoadSurvivesCallerCancel(t *testing.T) {
	store, mr := setupStore(t)
	loader := &blockingLoader{
		coupon:  &models.Coupon{ID: 7, TotalQuantity: 3, IsActive: true},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	meta := NewCouponMetadataCache(store, loader, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		meta *CouponMetadata
		err  error
	}
	done := make(chan result, 1)
	go func() {
		got, err := meta.Get(ctx, 7)
		done <- result{got, err}
	}()

	<-loader.entered
	cancel()
	close(loader.release)

	res := <-done
	if res.err != nil || res.meta == nil || res.meta.TotalQuantity != 3 {
		t.Fatalf("collapsed load should finish after caller cancel, got=%+v err=%v", res.meta, res.err)
	}
	if mr.HGet(store.Key(CouponMetadataKey(7)), fieldTotalQuantity) != "3" {
		t.Fatalf("metadata hash should be populated")
	}
}
