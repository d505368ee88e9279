package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
	BlockSeconds  int
	Message       string
}

// KEYS[1] 计数 key，KEYS[2] 封禁 key
// 返回 {count, ttl}；count 为 -1 表示处于封禁期
var rateLimitScript = redis.NewScript(`
local blocked = redis.call("TTL", KEYS[2])
if blocked > 0 then
	return {-1, blocked}
end
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local block = tonumber(ARGV[3])
if current > tonumber(ARGV[2]) and block > 0 then
	redis.call("SET", KEYS[2], "1", "EX", block)
	return {current, block}
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`)

// rateLimitDecision 单次限流判定结果
type rateLimitDecision struct {
	allowed    bool
	retryAfter int
}

func (rule RateLimitRule) enabled() bool {
	return rule.WindowSeconds > 0 && rule.MaxRequests > 0
}

func (rule RateLimitRule) message() string {
	if msg := strings.TrimSpace(rule.Message); msg != "" {
		return msg
	}
	return "too many requests"
}

// evaluate 执行计数脚本；count<0 表示处于封禁期
func (rule RateLimitRule) evaluate(ctx context.Context, client redis.Scripter, key string) (rateLimitDecision, error) {
	keys := []string{key, key + ":block"}
	values, err := rateLimitScript.Run(ctx, client, keys, rule.WindowSeconds, rule.MaxRequests, rule.BlockSeconds).Int64Slice()
	if err != nil {
		return rateLimitDecision{}, err
	}
	if len(values) < 2 {
		return rateLimitDecision{}, fmt.Errorf("unexpected rate limit reply: %v", values)
	}
	count, ttl := values[0], values[1]
	if count >= 0 && count <= int64(rule.MaxRequests) {
		return rateLimitDecision{allowed: true}, nil
	}
	retryAfter := int(ttl)
	if retryAfter < 1 {
		retryAfter = rule.WindowSeconds
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	return rateLimitDecision{retryAfter: retryAfter}, nil
}

// RateLimitMiddleware Redis 固定窗口限流，超限后封禁 BlockSeconds
// Redis 不可用时拒绝请求，避免抢券入口被打穿。
func RateLimitMiddleware(client redis.Scripter, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || !rule.enabled() {
			c.Next()
			return
		}

		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}
		if rule.Prefix != "" {
			key = rule.Prefix + ":" + key
		}

		decision, err := rule.evaluate(c.Request.Context(), client, key)
		if err != nil {
			logger.Warnw("rate_limit_unavailable", "key", key, "error", err)
			response.Error(c, response.CodeServiceUnavailable, "rate limit unavailable")
			c.Abort()
			return
		}
		if !decision.allowed {
			logger.Debugw("rate_limit_rejected", "key", key, "retry_after", decision.retryAfter)
			response.TooManyRequests(c, rule.message(), decision.retryAfter)
			c.Abort()
			return
		}
		c.Next()
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByJSONField 使用 JSON 字段作为限流 key，字段缺失时退回 IP
func KeyByJSONField(field string) RateLimitKeyFunc {
	return func(c *gin.Context) string {
		value := strings.ToLower(strings.TrimSpace(readJSONField(c, field)))
		if value == "" {
			return c.ClientIP()
		}
		return fmt.Sprintf("%s:%s", field, value)
	}
}

func readJSONField(c *gin.Context, field string) string {
	if c == nil || c.Request == nil || c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return ""
	}
	value, ok := payload[field]
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
