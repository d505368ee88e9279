package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/notify"
	"github.com/dujiao-next/flashsale/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type serviceTestEnv struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	store     *cache.Store
	locker    *recordingLocker
	repos     Repositories
	publisher *recordingPublisher
}

func setupServiceTest(t *testing.T) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := models.OpenDB("sqlite", dsn, models.DBPoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client, "test")

	return &serviceTestEnv{
		db:     db,
		mr:     mr,
		store:  store,
		locker: &recordingLocker{inner: lock.NewRedisLocker(client, "test", 5*time.Millisecond)},
		repos: Repositories{
			User:                repository.NewUserRepository(db),
			Product:             repository.NewProductRepository(db),
			Coupon:              repository.NewCouponRepository(db),
			UserCoupon:          repository.NewUserCouponRepository(db),
			Order:               repository.NewOrderRepository(db),
			Point:               repository.NewPointRepository(db),
			Cart:                repository.NewCartRepository(db),
			Saga:                repository.NewSagaRepository(db),
			CompensationFailure: repository.NewCompensationFailureRepository(db),
		},
		publisher: &recordingPublisher{},
	}
}

func (e *serviceTestEnv) stockManager() *StockManager {
	return NewStockManager(e.db, e.repos.Product, cache.NewStockCounter(e.store, time.Hour), e.locker, config.LockTimeouts{Wait: 2 * time.Second, Lease: 5 * time.Second})
}

func (e *serviceTestEnv) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{Name: name}
	if err := e.repos.User.Create(user); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return user
}

func (e *serviceTestEnv) createProduct(t *testing.T, price int64, stock int) *models.Product {
	t.Helper()
	product := &models.Product{Name: fmt.Sprintf("p-%d", price), Price: models.MoneyFromInt(price), Stock: stock, IsActive: true}
	if err := e.repos.Product.Create(product); err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return product
}

func (e *serviceTestEnv) createCoupon(t *testing.T, total int) *models.Coupon {
	t.Helper()
	coupon := &models.Coupon{
		Name:          "flash",
		Type:          "fixed",
		Value:         models.MoneyFromInt(10),
		TotalQuantity: total,
		PerUserLimit:  1,
		IsActive:      true,
	}
	if err := e.repos.Coupon.Create(coupon); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}
	return coupon
}

type publishedTask struct {
	taskType string
	payload  interface{}
}

type recordingPublisher struct {
	mu       sync.Mutex
	tasks    []publishedTask
	err      error
	failOnce map[string]error
}

// failNext 让下一次发布 taskType 失败
func (p *recordingPublisher) failNext(taskType string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOnce == nil {
		p.failOnce = make(map[string]error)
	}
	p.failOnce[taskType] = err
}

func (p *recordingPublisher) Publish(_ context.Context, taskType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if err, ok := p.failOnce[taskType]; ok {
		delete(p.failOnce, taskType)
		return err
	}
	p.tasks = append(p.tasks, publishedTask{taskType: taskType, payload: payload})
	return nil
}

func (p *recordingPublisher) byType(taskType string) []publishedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedTask
	for _, task := range p.tasks {
		if task.taskType == taskType {
			out = append(out, task)
		}
	}
	return out
}

// recordingLocker 记录加锁顺序
type recordingLocker struct {
	inner lock.Locker
	mu    sync.Mutex
	keys  []string
}

func (l *recordingLocker) Acquire(ctx context.Context, key string, opts lock.Options) (*lock.Guard, error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.inner.Acquire(ctx, key, opts)
}

func (l *recordingLocker) acquired() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

func (l *recordingLocker) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = nil
}

type capturingFailureHandler struct {
	mu       sync.Mutex
	failures []CompensationFailure
}

func (h *capturingFailureHandler) HandleCompensationFailure(_ context.Context, failure CompensationFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, failure)
}

// timeoutLocker 模拟锁服务始终拿不到锁
type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string, lock.Options) (*lock.Guard, error) {
	return nil, lock.ErrLockTimeout
}

type sagaTestKit struct {
	saga         *OrderSagaService
	compensation *CompensationService
	stock        *StockManager
	failures     *capturingFailureHandler
}

func (e *serviceTestEnv) sagaKit(t *testing.T, locker lock.Locker) *sagaTestKit {
	t.Helper()
	timeouts := config.LockTimeouts{Wait: 2 * time.Second, Lease: 5 * time.Second}
	stock := NewStockManager(e.db, e.repos.Product, cache.NewStockCounter(e.store, time.Hour), locker, timeouts)
	usage := NewCouponUsageManager(e.db, e.repos.UserCoupon, locker, timeouts)
	points := NewPointManager(e.db, e.repos.Point)
	pricing, err := NewPricing(config.OrderConfig{ShippingFee: "0"})
	if err != nil {
		t.Fatalf("new pricing failed: %v", err)
	}
	failures := &capturingFailureHandler{}
	return &sagaTestKit{
		saga:         NewOrderSagaService(e.db, e.repos, stock, usage, points, pricing, e.publisher, notify.LogNotifier{}, nil),
		compensation: NewCompensationService(e.db, e.repos, stock, usage, points, locker, config.LockConfig{}, failures, nil),
		stock:        stock,
		failures:     failures,
	}
}

func (h *capturingFailureHandler) snapshot() []CompensationFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CompensationFailure(nil), h.failures...)
}
