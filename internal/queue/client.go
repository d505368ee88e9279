package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/dujiao-next/flashsale/internal/config"

	"github.com/hibiken/asynq"
)

// 队列名称
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Publisher 事件发布接口
// 调用方必须在数据库事务提交成功之后再发布。
type Publisher interface {
	Publish(ctx context.Context, taskType string, payload interface{}) error
}

// Client asynq 队列客户端封装
type Client struct {
	client   *asynq.Client
	maxRetry int
}

// NewClient 创建队列客户端
func NewClient(cfg config.QueueConfig) *Client {
	return &Client{client: asynq.NewClient(buildRedisOpt(cfg)), maxRetry: cfg.MaxRetry}
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Publish 推送任务
func (c *Client) Publish(ctx context.Context, taskType string, payload interface{}) error {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return err
	}
	options := []asynq.Option{asynq.Queue(queueFor(taskType))}
	if c.maxRetry > 0 {
		options = append(options, asynq.MaxRetry(c.maxRetry))
	}
	if _, err := c.client.EnqueueContext(ctx, task, options...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	concurrency := 10
	if cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{QueueCritical: 6, QueueDefault: 3, QueueLow: 1}
	if len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return buildRedisOpt(cfg), asynq.Config{
		Concurrency:    concurrency,
		Queues:         queues,
		StrictPriority: false,
	}
}

func buildRedisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	if strings.TrimSpace(cfg.Host) != "" {
		host = strings.TrimSpace(cfg.Host)
	}
	port := 6379
	if cfg.Port > 0 {
		port = cfg.Port
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
