// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// NoOpBus - 空操作的 Bus 实现（用于测试）
// ============================================================================

// NoOpBus 是一个不做任何操作的 Bus 实现
type NoOpBus struct{}

// NewNoOpBus 创建 NoOpBus 实例
func NewNoOpBus() *NoOpBus {
	return &NoOpBus{}
}

func (b *NoOpBus) PublishLog(message string)         {}
func (b *NoOpBus) PublishProgress(ev *ProgressEvent) {}
func (b *NoOpBus) Subscribe() Subscription           { return noOpSub{} }
func (b *NoOpBus) SubscriberCount() int              { return 0 }
func (b *NoOpBus) Close() error                      { return nil }

type noOpSub struct{}

func (noOpSub) Next() (Event, bool)                       { return Event{}, false }
func (noOpSub) Wait(ctx context.Context, d time.Duration) {}
func (noOpSub) Close()                                    {}

// 确保 NoOpBus 实现了 Bus 接口
var _ Bus = (*NoOpBus)(nil)
