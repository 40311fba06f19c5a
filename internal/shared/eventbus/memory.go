// Package eventbus 内存事件总线实现
package eventbus

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// MemoryBus - 进程内广播总线（默认实现）
// ============================================================================

// MemoryBus 进程内广播事件总线
//
// 每个订阅者持有一条无界 FIFO 队列；Publish 把事件追加到所有订阅者队列
// 并发出信号，不等待任何消费者。没有订阅者时事件被丢弃（无回放/历史）。
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]*memorySub
	nextID int
	closed bool
}

// NewMemoryBus 创建内存总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

// PublishLog 发布日志行
func (b *MemoryBus) PublishLog(message string) {
	b.publish(Event{Kind: KindLog, Timestamp: time.Now(), Log: message})
}

// PublishProgress 发布进度事件
func (b *MemoryBus) PublishProgress(ev *ProgressEvent) {
	b.publish(Event{Kind: KindProgress, Timestamp: time.Now(), Progress: ev})
}

func (b *MemoryBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.push(ev)
	}
}

// Subscribe 注册订阅者
func (b *MemoryBus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &memorySub{
		bus:    b,
		id:     id,
		notify: make(chan struct{}, 1),
	}
	if !b.closed {
		b.subs[id] = sub
	}
	return sub
}

// SubscriberCount 当前订阅者数量
func (b *MemoryBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭总线并注销所有订阅者
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]*memorySub)
	return nil
}

func (b *MemoryBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// ============================================================================
// memorySub - 单个订阅者的无界队列游标
// ============================================================================

type memorySub struct {
	bus    *MemoryBus
	id     int
	notify chan struct{}

	mu    sync.Mutex
	queue []Event
}

func (s *memorySub) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next 非阻塞取出队头事件
func (s *memorySub) Next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Wait 等待新事件信号，最多等待 d
func (s *memorySub) Wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.notify:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Close 注销并丢弃积压事件
func (s *memorySub) Close() {
	s.bus.unsubscribe(s.id)
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// 确保 MemoryBus 实现了 Bus 接口
var _ Bus = (*MemoryBus)(nil)
