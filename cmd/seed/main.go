package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 演示数据：秒杀商品、限量优惠券、带积分的用户
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	log := logger.S()

	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, gormlogger.Warn)
	if err != nil {
		log.Errorw("seed_open_db_failed", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Errorw("seed_migrate_failed", "error", err)
		os.Exit(1)
	}

	products := []models.Product{
		{Name: "Wireless Earphones", Price: money(99.99), Stock: 100, MinOrderQty: 1, MaxOrderQty: 2, IsActive: true},
		{Name: "Smart Watch", Price: money(199.99), Stock: 50, MinOrderQty: 1, MaxOrderQty: 1, IsActive: true},
		{Name: "Power Bank", Price: money(49.99), Stock: 500, MinOrderQty: 1, IsActive: true},
	}
	for i := range products {
		if err := firstOrCreate(db, &products[i], "name = ?", products[i].Name); err != nil {
			log.Errorw("seed_product_failed", "name", products[i].Name, "error", err)
		}
	}

	now := time.Now()
	ends := now.Add(7 * 24 * time.Hour)
	coupons := []models.Coupon{
		{Name: "Flash 10 off", Type: constants.CouponTypeFixed, Value: money(10), MinOrderAmount: money(50), TotalQuantity: 100, PerUserLimit: 1, IsActive: true, StartsAt: &now, EndsAt: &ends},
		{Name: "Flash 15%", Type: constants.CouponTypePercent, Value: money(15), MaxDiscount: money(30), TotalQuantity: 20, PerUserLimit: 1, IsActive: true, StartsAt: &now, EndsAt: &ends},
	}
	for i := range coupons {
		if err := firstOrCreate(db, &coupons[i], "name = ?", coupons[i].Name); err != nil {
			log.Errorw("seed_coupon_failed", "name", coupons[i].Name, "error", err)
		}
	}

	for i := 1; i <= 5; i++ {
		user := models.User{Name: fmt.Sprintf("demo-user-%d", i)}
		if err := firstOrCreate(db, &user, "name = ?", user.Name); err != nil {
			log.Errorw("seed_user_failed", "name", user.Name, "error", err)
			continue
		}
		var count int64
		if err := db.Model(&models.Point{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil || count > 0 {
			continue
		}
		expires := now.Add(30 * 24 * time.Hour)
		point := models.Point{UserID: user.ID, Amount: money(100), RemainingAmount: money(100), ExpiresAt: &expires}
		if err := db.Create(&point).Error; err != nil {
			log.Errorw("seed_point_failed", "user_id", user.ID, "error", err)
		}
	}

	log.Infow("seed_completed", "products", len(products), "coupons", len(coupons))
}

func money(v float64) models.Money {
	return models.NewMoney(decimal.NewFromFloat(v))
}

func firstOrCreate(db *gorm.DB, dest interface{}, query string, args ...interface{}) error {
	err := db.Where(query, args...).First(dest).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(dest).Error
}
