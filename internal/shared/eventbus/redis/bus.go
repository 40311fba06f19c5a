// Package redis 基于 Redis Streams 的事件总线实现
//
// 用于多副本部署时跨进程扇出事件：发布方 XAdd，订阅方各自 XRead（独立游标，
// 广播语义与内存总线一致）。单进程部署优先使用内存总线。
package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch-admin/internal/shared/eventbus"
)

const (
	// Stream key
	keyEvents = "dispatch:events"

	// Stream 最大长度
	maxStreamLength = 1000
)

// Bus Redis Streams 事件总线
type Bus struct {
	client *redis.Client
	cancel context.CancelFunc
	ctx    context.Context
}

// NewBus 连接 Redis 并创建总线
func NewBus(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithCancel(context.Background())
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	return &Bus{client: client, ctx: ctx, cancel: cancel}, nil
}

// PublishLog 发布日志行
func (b *Bus) PublishLog(message string) {
	b.publish(eventbus.Event{Kind: eventbus.KindLog, Timestamp: time.Now(), Log: message})
}

// PublishProgress 发布进度事件
func (b *Bus) PublishProgress(ev *eventbus.ProgressEvent) {
	b.publish(eventbus.Event{Kind: eventbus.KindProgress, Timestamp: time.Now(), Progress: ev})
}

func (b *Bus) publish(ev eventbus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Redis/EventBus] marshal event failed: %v", err)
		return
	}

	args := &redis.XAddArgs{
		Stream: keyEvents,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"kind":  string(ev.Kind),
			"event": string(payload),
		},
	}
	if err := b.client.XAdd(b.ctx, args).Err(); err != nil {
		log.Printf("[Redis/EventBus] publish failed: %v", err)
	}
}

// Subscribe 注册订阅者：独立 goroutine XRead 推入本地队列
func (b *Bus) Subscribe() eventbus.Subscription {
	ctx, cancel := context.WithCancel(b.ctx)
	sub := &redisSub{
		cancel: cancel,
		notify: make(chan struct{}, 1),
	}

	go func() {
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{keyEvents, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Redis/EventBus] subscription read error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					raw, ok := msg.Values["event"].(string)
					if !ok {
						continue
					}
					var ev eventbus.Event
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						log.Printf("[Redis/EventBus] unmarshal event failed: %v", err)
						continue
					}
					sub.push(ev)
				}
			}
		}
	}()

	return sub
}

// SubscriberCount Redis 后端不跟踪跨进程订阅者数量
func (b *Bus) SubscriberCount() int {
	return -1
}

// Close 关闭总线
func (b *Bus) Close() error {
	b.cancel()
	return b.client.Close()
}

// ============================================================================
// redisSub - 订阅者本地游标
// ============================================================================

type redisSub struct {
	cancel context.CancelFunc
	notify chan struct{}

	mu    sync.Mutex
	queue []eventbus.Event
}

func (s *redisSub) push(ev eventbus.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next 非阻塞取出队头事件
func (s *redisSub) Next() (eventbus.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return eventbus.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Wait 等待新事件信号，最多等待 d
func (s *redisSub) Wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.notify:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Close 停止订阅 goroutine 并丢弃积压事件
func (s *redisSub) Close() {
	s.cancel()
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// 确保 Bus 实现了 eventbus.Bus 接口
var _ eventbus.Bus = (*Bus)(nil)
