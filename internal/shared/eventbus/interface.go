// Package eventbus 事件总线抽象接口
//
// 提供进程内的发布/订阅能力：生产侧永不阻塞，消费侧按发布顺序逐个取出。
// 广播语义：每个订阅者持有独立游标，看到全部事件（不是共享消费组）。
// 默认实现为内存总线；配置 Redis 时切换到 Redis Streams 实现。
package eventbus

import (
	"context"
	"time"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// Bus 事件总线接口
type Bus interface {
	// PublishLog 发布一条自由文本日志行（带时间戳前缀），永不阻塞
	PublishLog(message string)

	// PublishProgress 发布一个结构化进度事件，永不阻塞
	PublishProgress(ev *ProgressEvent)

	// Subscribe 注册一个新订阅者，从订阅时刻起接收全部后续事件
	Subscribe() Subscription

	// SubscriberCount 当前订阅者数量
	SubscriberCount() int

	Close() error
}

// Subscription 单个订阅者的游标
type Subscription interface {
	// Next 非阻塞取出下一个事件；队列为空时 ok 为 false
	Next() (ev Event, ok bool)

	// Wait 阻塞直到有新事件、超过 d 或 ctx 结束
	Wait(ctx context.Context, d time.Duration)

	// Close 注销订阅者并释放积压事件
	Close()
}
