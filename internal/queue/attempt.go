package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

type attemptKey struct{}

type attempt struct {
	retried  int
	maxRetry int
}

// WithAttempt 记录本次投递已重试次数，供进程内分发器使用
func WithAttempt(ctx context.Context, retried, maxRetry int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt{retried: retried, maxRetry: maxRetry})
}

// LastAttempt 判断当前投递失败后是否不再重试
// 优先读取进程内分发器写入的计数，其次读取 asynq 注入的重试信息；两者都没有时视为可重试。
func LastAttempt(ctx context.Context) bool {
	if a, ok := ctx.Value(attemptKey{}).(attempt); ok {
		return a.retried >= a.maxRetry
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}
