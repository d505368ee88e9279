package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/flashsale/internal/config"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "fs"

// NewRedisClient 根据配置创建 Redis 客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Store 带统一前缀的 Redis 访问入口
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore 创建缓存入口
func NewStore(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Client 获取底层客户端
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Prefix 获取 key 前缀
func (s *Store) Prefix() string {
	return s.prefix
}

// Key 拼接带前缀的 key
func (s *Store) Key(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return s.prefix
	}
	return s.prefix + ":" + trimmed
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetJSON 获取 JSON 缓存
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.Key(key), payload, ttl).Err()
}

// Del 删除缓存
func (s *Store) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.Key(key)).Err()
}
