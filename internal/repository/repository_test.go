package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepositoryTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := models.OpenDB("sqlite", dsn, models.DBPoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func TestProductRepositoryStockGuards(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewProductRepository(db)
	product := &models.Product{Name: "p", Price: models.MoneyFromInt(100), Stock: 3, IsActive: true}
	if err := repo.Create(product); err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	affected, err := repo.DecreaseStock(product.ID, 2)
	if err != nil || affected != 1 {
		t.Fatalf("decrease stock want 1 row, got=%d err=%v", affected, err)
	}
	affected, err = repo.DecreaseStock(product.ID, 2)
	if err != nil || affected != 0 {
		t.Fatalf("decrease beyond stock should affect 0 rows, got=%d err=%v", affected, err)
	}
	affected, err = repo.IncreaseStock(product.ID, 3)
	if err != nil || affected != 0 {
		t.Fatalf("increase beyond sold count should affect 0 rows, got=%d err=%v", affected, err)
	}
	if _, err := repo.IncreaseStock(product.ID, 2); err != nil {
		t.Fatalf("increase stock failed: %v", err)
	}

	got, err := repo.GetByIDForUpdate(product.ID)
	if err != nil || got == nil {
		t.Fatalf("get product failed: %v", err)
	}
	if got.Stock != 3 || got.SoldCount != 0 {
		t.Fatalf("stock/sold mismatch: stock=%d sold=%d", got.Stock, got.SoldCount)
	}
}

func TestCouponRepositoryIssuedQuantityBounded(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewCouponRepository(db)
	coupon := &models.Coupon{Name: "c", Type: constants.CouponTypeFixed, Value: models.MoneyFromInt(10), TotalQuantity: 2, PerUserLimit: 1, IsActive: true}
	if err := repo.Create(coupon); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}
	if affected, err := repo.RaiseIssuedQuantity(coupon.ID, 1); err != nil || affected != 1 {
		t.Fatalf("raise to 1 failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.RaiseIssuedQuantity(coupon.ID, 1); err != nil || affected != 0 {
		t.Fatalf("repeated raise should affect 0 rows, got=%d err=%v", affected, err)
	}
	if affected, err := repo.RaiseIssuedQuantity(coupon.ID, 5); err != nil || affected != 1 {
		t.Fatalf("raise past total failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.RaiseIssuedQuantity(coupon.ID, 9); err != nil || affected != 0 {
		t.Fatalf("raise at total should affect 0 rows, got=%d err=%v", affected, err)
	}
	got, err := repo.GetByID(coupon.ID)
	if err != nil || got == nil || got.IssuedQuantity != 2 {
		t.Fatalf("issued quantity should be capped at 2, got %+v err=%v", got, err)
	}
}

func TestUserCouponRepositoryUniqueAndUsage(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewUserCouponRepository(db)
	row := &models.UserCoupon{UserID: 1, CouponID: 7, IssuedAt: time.Now()}
	if err := repo.Create(row); err != nil {
		t.Fatalf("create user coupon failed: %v", err)
	}
	err := repo.Create(&models.UserCoupon{UserID: 1, CouponID: 7, IssuedAt: time.Now()})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	if affected, err := repo.IncrementUsage(row.ID, 1); err != nil || affected != 1 {
		t.Fatalf("increment usage failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.IncrementUsage(row.ID, 1); err != nil || affected != 0 {
		t.Fatalf("increment over limit should affect 0 rows, got=%d err=%v", affected, err)
	}
	if affected, err := repo.DecrementUsage(row.ID); err != nil || affected != 1 {
		t.Fatalf("decrement usage failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.DecrementUsage(row.ID); err != nil || affected != 0 {
		t.Fatalf("decrement below zero should affect 0 rows, got=%d err=%v", affected, err)
	}
}

func TestPointRepositoryUsageCancelIsOneShot(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewPointRepository(db)
	now := time.Now()
	expired := now.Add(-time.Hour)
	soon := now.Add(time.Hour)
	points := []*models.Point{
		{UserID: 1, Amount: models.MoneyFromInt(50), RemainingAmount: models.MoneyFromInt(50)},
		{UserID: 1, Amount: models.MoneyFromInt(30), RemainingAmount: models.MoneyFromInt(30), ExpiresAt: &soon},
		{UserID: 1, Amount: models.MoneyFromInt(99), RemainingAmount: models.MoneyFromInt(99), ExpiresAt: &expired},
	}
	for _, p := range points {
		if err := repo.Create(p); err != nil {
			t.Fatalf("create point failed: %v", err)
		}
	}

	available, err := repo.ListAvailableForUpdate(1, now)
	if err != nil {
		t.Fatalf("list available failed: %v", err)
	}
	if len(available) != 2 || available[0].ID != points[1].ID {
		t.Fatalf("expected expiring point first and expired point excluded, got %+v", available)
	}
	sum, err := repo.SumAvailable(1, now)
	if err != nil {
		t.Fatalf("sum available failed: %v", err)
	}
	if !sum.Equal(models.MoneyFromInt(80).Decimal) {
		t.Fatalf("sum want 80 got %s", sum)
	}

	usage := &models.PointUsageHistory{PointID: points[0].ID, OrderID: 9, UsedAmount: models.MoneyFromInt(5)}
	if err := repo.CreateUsage(usage); err != nil {
		t.Fatalf("create usage failed: %v", err)
	}
	if affected, err := repo.CancelUsage(usage.ID, now); err != nil || affected != 1 {
		t.Fatalf("cancel usage failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.CancelUsage(usage.ID, now); err != nil || affected != 0 {
		t.Fatalf("second cancel should affect 0 rows, got=%d err=%v", affected, err)
	}
	active, err := repo.ListActiveUsageByOrder(9)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active usage, got=%d err=%v", len(active), err)
	}
}

func TestSagaRepositoryTransitionGuard(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewSagaRepository(db)
	if err := repo.Create(&models.OrderSaga{SagaID: "s-1", UserID: 1, State: constants.SagaStateValidating}); err != nil {
		t.Fatalf("create saga failed: %v", err)
	}
	if err := repo.Create(&models.OrderSaga{SagaID: "s-1", UserID: 1, State: constants.SagaStateValidating}); !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation on saga id, got %v", err)
	}
	affected, err := repo.Transition("s-1", constants.SagaStateValidating, constants.SagaStateStockCommitting, nil)
	if err != nil || affected != 1 {
		t.Fatalf("transition failed: affected=%d err=%v", affected, err)
	}
	affected, err = repo.Transition("s-1", constants.SagaStateValidating, constants.SagaStateStockCommitting, nil)
	if err != nil || affected != 0 {
		t.Fatalf("replayed transition should affect 0 rows, got=%d err=%v", affected, err)
	}
	if _, err := repo.Transition("s-1", constants.SagaStateStockCommitting, constants.SagaStateCompleted, nil); !errors.Is(err, ErrSagaTransitionNotAllowed) {
		t.Fatalf("skipping order creation should be rejected, got %v", err)
	}
	if _, err := repo.Transition("s-1", constants.SagaStateFailed, constants.SagaStateCompensating, nil); !errors.Is(err, ErrSagaTransitionNotAllowed) {
		t.Fatalf("leaving FAILED should be rejected, got %v", err)
	}
	got, err := repo.GetBySagaID("s-1")
	if err != nil || got == nil || got.State != constants.SagaStateStockCommitting {
		t.Fatalf("rejected transitions must not change state, got %+v err=%v", got, err)
	}
}

func TestOrderRepositoryTransitionAndCompensationMark(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewOrderRepository(db)
	order := &models.Order{OrderNo: "NO1", SagaID: "s-1", UserID: 1, Status: constants.OrderStatusPending}
	items := []models.OrderItem{
		{ProductID: 8, Quantity: 1, UnitPrice: models.MoneyFromInt(1), TotalPrice: models.MoneyFromInt(1), Status: constants.OrderItemStatusActive},
		{ProductID: 2, Quantity: 2, UnitPrice: models.MoneyFromInt(1), TotalPrice: models.MoneyFromInt(2), Status: constants.OrderItemStatusActive},
	}
	if err := repo.Create(order, items); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	got, err := repo.GetByIDForUpdate(order.ID)
	if err != nil || got == nil {
		t.Fatalf("get order failed: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ProductID != 2 {
		t.Fatalf("items should be loaded sorted by product, got %+v", got.Items)
	}

	if affected, _ := repo.TransitionStatus(order.ID, constants.OrderStatusPaid, constants.OrderStatusCanceled, nil); affected != 0 {
		t.Fatalf("transition from wrong state should affect 0 rows")
	}
	if affected, err := repo.TransitionStatus(order.ID, constants.OrderStatusPending, constants.OrderStatusCanceled, nil); err != nil || affected != 1 {
		t.Fatalf("transition failed: affected=%d err=%v", affected, err)
	}
	if err := repo.CancelItems(order.ID); err != nil {
		t.Fatalf("cancel items failed: %v", err)
	}

	now := time.Now()
	if affected, err := repo.MarkCompensated(order.ID, now); err != nil || affected != 1 {
		t.Fatalf("mark compensated failed: affected=%d err=%v", affected, err)
	}
	if affected, err := repo.MarkCompensated(order.ID, now); err != nil || affected != 0 {
		t.Fatalf("second mark should affect 0 rows, got=%d err=%v", affected, err)
	}
}

func TestOrderRepositoryListByUserPaginates(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewOrderRepository(db)
	for i := 1; i <= 5; i++ {
		status := constants.OrderStatusPending
		if i%2 == 0 {
			status = constants.OrderStatusCanceled
		}
		order := &models.Order{OrderNo: fmt.Sprintf("NO%d", i), SagaID: fmt.Sprintf("s-%d", i), UserID: 1, Status: status}
		if err := repo.Create(order, nil); err != nil {
			t.Fatalf("create order failed: %v", err)
		}
	}
	other := &models.Order{OrderNo: "OTHER", SagaID: "s-other", UserID: 2, Status: constants.OrderStatusPending}
	if err := repo.Create(other, nil); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	rows, total, err := repo.ListByUser(OrderListFilter{UserID: 1, Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 5 || len(rows) != 2 || rows[0].OrderNo != "NO3" {
		t.Fatalf("unexpected page: total=%d rows=%+v", total, rows)
	}

	rows, total, err = repo.ListByUser(OrderListFilter{UserID: 1, Status: constants.OrderStatusCanceled})
	if err != nil {
		t.Fatalf("list by status failed: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("status filter should return 2 orders, total=%d len=%d", total, len(rows))
	}
}
