package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/dujiao-next/flashsale/internal/cache"
	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/lock"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/metrics"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/notify"
	"github.com/dujiao-next/flashsale/internal/queue"
	"github.com/dujiao-next/flashsale/internal/repository"
	"github.com/dujiao-next/flashsale/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Container 依赖注入容器
// 所有依赖显式构造并向下传递，服务层不读取任何全局变量。
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient

	// 事件发布：启用队列时为 asynq 客户端，否则为进程内分发器
	Publisher   queue.Publisher
	QueueClient *queue.Client
	Dispatcher  *queue.LocalDispatcher

	Metrics  *metrics.Metrics
	Notifier notify.Notifier
	Locker   lock.Locker

	// Cache
	Store           *cache.Store
	CouponMetadata  *cache.CouponMetadataCache
	CouponAllocator *cache.CouponAllocator
	StockCounter    *cache.StockCounter

	// Repositories
	UserRepo                repository.UserRepository
	ProductRepo             repository.ProductRepository
	CouponRepo              repository.CouponRepository
	UserCouponRepo          repository.UserCouponRepository
	OrderRepo               repository.OrderRepository
	PointRepo               repository.PointRepository
	CartRepo                repository.CartRepository
	SagaRepo                repository.SagaRepository
	CompensationFailureRepo repository.CompensationFailureRepository

	// Resource managers
	StockManager       *service.StockManager
	CouponUsageManager *service.CouponUsageManager
	PointManager       *service.PointManager
	Pricing            *service.Pricing
	FailureHandler     service.CompensationFailureHandler

	// Services
	CouponService       *service.CouponService
	CouponAdminService  *service.CouponAdminService
	OrderSagaService    *service.OrderSagaService
	OrderService        *service.OrderService
	CompensationService *service.CompensationService
	CartService         *service.CartService
}

// NewContainer 打开数据库与 Redis 并初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logLevel := gormlogger.Warn
	if cfg.Server.Mode == "debug" {
		logLevel = gormlogger.Info
	}
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, logLevel)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	return Build(cfg, db, cache.NewRedisClient(cfg.Redis))
}

// Build 使用已打开的数据库与 Redis 客户端组装容器
func Build(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if redisClient == nil {
		return nil, errors.New("redis client is nil")
	}
	c := &Container{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Metrics:  metrics.New(),
		Notifier: notify.New(cfg.Notify),
	}

	// 1. 初始化事件发布
	c.initPublisher()

	// 2. 初始化缓存与锁
	c.initCache()

	// 3. 初始化 Repositories
	c.initRepositories()

	// 4. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if c.Notifier != nil {
		if err := c.Notifier.Close(); err != nil {
			logger.Warnw("provider_close_notifier_failed", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logger.Warnw("provider_close_redis_failed", "error", err)
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func (c *Container) initPublisher() {
	if c.Config.Queue.Enabled {
		c.QueueClient = queue.NewClient(c.Config.Queue)
		c.Publisher = c.QueueClient
		return
	}
	// 处理器由 worker 注册后挂上
	c.Dispatcher = queue.NewLocalDispatcher(nil, c.Config.Dispatcher, c.Config.Queue.MaxRetry)
	c.Publisher = c.Dispatcher
	logger.Infow("provider_queue_disabled_use_local_dispatcher", "workers", c.Config.Dispatcher.Workers)
}

func (c *Container) initCache() {
	c.Store = cache.NewStore(c.Redis, c.Config.Redis.Prefix)
	c.Locker = lock.NewRedisLocker(c.Redis, c.Store.Prefix(), c.Config.Lock.RetryInterval())
	c.CouponAllocator = cache.NewCouponAllocator(c.Store, seconds(c.Config.Coupon.IssueTTLSeconds))
	c.StockCounter = cache.NewStockCounter(c.Store, seconds(c.Config.Stock.CacheTTLSeconds))
}

func (c *Container) initRepositories() {
	db := c.DB
	c.UserRepo = repository.NewUserRepository(db)
	c.ProductRepo = repository.NewProductRepository(db)
	c.CouponRepo = repository.NewCouponRepository(db)
	c.UserCouponRepo = repository.NewUserCouponRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.PointRepo = repository.NewPointRepository(db)
	c.CartRepo = repository.NewCartRepository(db)
	c.SagaRepo = repository.NewSagaRepository(db)
	c.CompensationFailureRepo = repository.NewCompensationFailureRepository(db)
}

func (c *Container) initServices() error {
	repos := service.Repositories{
		User:                c.UserRepo,
		Product:             c.ProductRepo,
		Coupon:              c.CouponRepo,
		UserCoupon:          c.UserCouponRepo,
		Order:               c.OrderRepo,
		Point:               c.PointRepo,
		Cart:                c.CartRepo,
		Saga:                c.SagaRepo,
		CompensationFailure: c.CompensationFailureRepo,
	}
	pricing, err := service.NewPricing(c.Config.Order)
	if err != nil {
		logger.Errorw("provider_init_pricing_failed", "error", err)
		return err
	}
	c.Pricing = pricing
	c.CouponMetadata = cache.NewCouponMetadataCache(c.Store, c.CouponRepo, seconds(c.Config.Coupon.MetadataTTLSeconds))

	c.StockManager = service.NewStockManager(c.DB, c.ProductRepo, c.StockCounter, c.Locker, c.Config.Lock.Stock())
	c.CouponUsageManager = service.NewCouponUsageManager(c.DB, c.UserCouponRepo, c.Locker, c.Config.Lock.UserCoupon())
	c.PointManager = service.NewPointManager(c.DB, c.PointRepo)
	c.FailureHandler = service.NewRecordingFailureHandler(c.CompensationFailureRepo, c.Metrics)

	c.CouponService = service.NewCouponService(repos, c.CouponMetadata, c.CouponAllocator, c.Locker, c.Config.Lock, c.Publisher, c.Metrics)
	c.CouponAdminService = service.NewCouponAdminService(c.CouponRepo, c.CouponMetadata)
	c.OrderSagaService = service.NewOrderSagaService(c.DB, repos, c.StockManager, c.CouponUsageManager, c.PointManager, c.Pricing, c.Publisher, c.Notifier, c.Metrics)
	c.OrderService = service.NewOrderService(c.DB, c.OrderRepo, c.Publisher)
	c.CompensationService = service.NewCompensationService(c.DB, repos, c.StockManager, c.CouponUsageManager, c.PointManager, c.Locker, c.Config.Lock, c.FailureHandler, c.Metrics)
	c.CartService = service.NewCartService(repos)
	return nil
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
