// Package server WebSocket 事件流端点
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dispatch-admin/internal/shared/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 管理面板可能跑在不同端口
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsEnvelope WebSocket 消息信封
type wsEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// StreamWebSocket WebSocket 实时事件流
//
// 路由: GET /ws/stream
//
// 与 SSE 端点推送相同的事件集合，供不方便用 EventSource 的客户端使用。
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer sub.Close()

	h.metrics.StreamConnectionOpened()
	defer h.metrics.StreamConnectionClosed()
	h.log.Info("stream connected", "transport", "websocket", "remote", r.RemoteAddr)
	defer h.log.Info("stream disconnected", "transport", "websocket", "remote", r.RemoteAddr)

	// 读 goroutine 只消费控制帧，read error 作为断连信号
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeWS(conn, wsEnvelope{Type: streamTypeConnected}); err != nil {
		return
	}

	ctx := r.Context()
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		default:
		}

		drained := false
		for {
			ev, ok := sub.Next()
			if !ok {
				break
			}
			drained = true
			env := envelopeFor(ev)
			if err := h.writeWS(conn, env); err != nil {
				return
			}
			h.metrics.RecordStreamEvent(env.Type)
		}
		if !drained {
			sub.Wait(ctx, h.stream.IdleWait)
		}
	}
}

func envelopeFor(ev eventbus.Event) wsEnvelope {
	if ev.Kind == eventbus.KindLog {
		return wsEnvelope{Type: streamTypeLog, Data: ev.Log}
	}
	return wsEnvelope{Type: streamTypeProgress, Data: ev.Progress}
}

func (h *Handler) writeWS(conn *websocket.Conn, env wsEnvelope) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(env)
}
