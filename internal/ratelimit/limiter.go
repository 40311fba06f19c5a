// Package ratelimit 针对外部端点的全局限流
//
// 所有外发调用共享同一个 Limiter 实例（显式句柄传递，不使用包级状态）：
//   - 相邻两次放行之间至少间隔 MinInterval
//   - 同时处于 Acquire 到调用完成之间的调用方不超过 MaxConcurrent
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter 全局限流器
//
// 间隔从一次放行量到下一次放行量起算（leaky-bucket-by-spacing），
// 并发上限只做计数约束；放行后调用方直接发起外部调用，调用完成时
// 通过返回的 release 归还并发额度。
type Limiter struct {
	sem     *semaphore.Weighted
	spacing *rate.Limiter

	mu        sync.Mutex
	lastGrant time.Time
}

// New 创建限流器
//
// minInterval <= 0 时不做间隔限制；maxConcurrent <= 0 时取默认值 5。
func New(minInterval time.Duration, maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		spacing: rate.NewLimiter(limit, 1),
	}
}

// Acquire 阻塞直到取得一次外部调用许可
//
// 返回的 release 必须在调用完成后执行（通常 defer），用于归还并发额度；
// 间隔约束在 Acquire 返回时已经满足，与 release 无关。
// 限流器本身不会失败，只会延迟；错误仅来自 ctx 取消。
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.spacing.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}

	l.mu.Lock()
	l.lastGrant = time.Now()
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.sem.Release(1) })
	}, nil
}

// LastGrant 最近一次放行时刻（零值表示尚未放行过）
func (l *Limiter) LastGrant() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastGrant
}
