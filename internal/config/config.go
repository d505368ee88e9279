package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/flashsale/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Lock       LockConfig       `mapstructure:"lock"`
	Coupon     CouponConfig     `mapstructure:"coupon"`
	Stock      StockConfig      `mapstructure:"stock"`
	Order      OrderConfig      `mapstructure:"order"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置（缓存层：分配器、库存计数、元数据、分布式锁）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	MaxRetry    int            `mapstructure:"max_retry"`
	Queues      map[string]int `mapstructure:"queues"`
}

// DispatcherConfig 进程内分发器配置（queue 关闭时使用）
type DispatcherConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

// LockConfig 分布式锁配置
type LockConfig struct {
	RetryIntervalMS     int `mapstructure:"retry_interval_ms"`
	StockWaitMS         int `mapstructure:"stock_wait_ms"`
	StockLeaseMS        int `mapstructure:"stock_lease_ms"`
	CouponWaitMS        int `mapstructure:"coupon_wait_ms"`
	CouponLeaseMS       int `mapstructure:"coupon_lease_ms"`
	UserCouponWaitMS    int `mapstructure:"user_coupon_wait_ms"`
	UserCouponLeaseMS   int `mapstructure:"user_coupon_lease_ms"`
	CompensationWaitMS  int `mapstructure:"compensation_wait_ms"`
	CompensationLeaseMS int `mapstructure:"compensation_lease_ms"`
}

// LockTimeouts 某类资源锁的等待与租约时间
type LockTimeouts struct {
	Wait  time.Duration
	Lease time.Duration
}

// RetryInterval 锁轮询间隔
func (c LockConfig) RetryInterval() time.Duration {
	return msOrDefault(c.RetryIntervalMS, 50*time.Millisecond)
}

// Stock 商品库存锁
func (c LockConfig) Stock() LockTimeouts {
	return LockTimeouts{Wait: msOrDefault(c.StockWaitMS, 3*time.Second), Lease: msOrDefault(c.StockLeaseMS, 5*time.Second)}
}

// Coupon 优惠券发放数量锁
func (c LockConfig) Coupon() LockTimeouts {
	return LockTimeouts{Wait: msOrDefault(c.CouponWaitMS, 2*time.Second), Lease: msOrDefault(c.CouponLeaseMS, 3*time.Second)}
}

// UserCoupon 用户优惠券锁
func (c LockConfig) UserCoupon() LockTimeouts {
	return LockTimeouts{Wait: msOrDefault(c.UserCouponWaitMS, 2*time.Second), Lease: msOrDefault(c.UserCouponLeaseMS, 3*time.Second)}
}

// Compensation 补偿锁
func (c LockConfig) Compensation() LockTimeouts {
	return LockTimeouts{Wait: msOrDefault(c.CompensationWaitMS, 5*time.Second), Lease: msOrDefault(c.CompensationLeaseMS, 10*time.Second)}
}

// CouponConfig 优惠券缓存配置
type CouponConfig struct {
	IssueTTLSeconds    int `mapstructure:"issue_ttl_seconds"`
	MetadataTTLSeconds int `mapstructure:"metadata_ttl_seconds"`
}

// StockConfig 库存缓存配置
type StockConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// OrderConfig 订单配置
type OrderConfig struct {
	ShippingFee           string `mapstructure:"shipping_fee"`
	FreeShippingThreshold string `mapstructure:"free_shipping_threshold"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	KafkaEnabled bool     `mapstructure:"kafka_enabled"`
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
}

// RateLimitConfig 领券限流配置
type RateLimitConfig struct {
	CouponIssue RateLimitRuleConfig `mapstructure:"coupon_issue"`
}

// RateLimitRuleConfig 单条限流规则
type RateLimitRuleConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
	BlockSeconds  int `mapstructure:"block_seconds"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")     // 从当前目录查找
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	setDefaults(viper.GetViper())

	// 环境变量支持
	viper.AutomaticEnv()                                   // 自动读取环境变量
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 将 . 替换为 _ (例如 server.port -> SERVER_PORT)

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/flashsale.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "fs")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 20)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("queue.queues", map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	})
	v.SetDefault("dispatcher.workers", 8)
	v.SetDefault("dispatcher.buffer", 1024)
	v.SetDefault("lock.retry_interval_ms", 50)
	v.SetDefault("lock.stock_wait_ms", 3000)
	v.SetDefault("lock.stock_lease_ms", 5000)
	v.SetDefault("lock.coupon_wait_ms", 2000)
	v.SetDefault("lock.coupon_lease_ms", 3000)
	v.SetDefault("lock.user_coupon_wait_ms", 2000)
	v.SetDefault("lock.user_coupon_lease_ms", 3000)
	v.SetDefault("lock.compensation_wait_ms", 5000)
	v.SetDefault("lock.compensation_lease_ms", 10000)
	v.SetDefault("coupon.issue_ttl_seconds", 7*24*3600)
	v.SetDefault("coupon.metadata_ttl_seconds", 30*24*3600)
	v.SetDefault("stock.cache_ttl_seconds", 7*24*3600)
	v.SetDefault("order.shipping_fee", "3000")
	v.SetDefault("order.free_shipping_threshold", "50000")
	v.SetDefault("notify.kafka_enabled", false)
	v.SetDefault("notify.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("notify.topic", "order-notifications")
	v.SetDefault("rate_limit.coupon_issue.window_seconds", 1)
	v.SetDefault("rate_limit.coupon_issue.max_requests", 5)
	v.SetDefault("rate_limit.coupon_issue.block_seconds", 10)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
