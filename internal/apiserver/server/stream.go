// Package server SSE 事件流端点
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dispatch-admin/internal/shared/eventbus"
)

// SSE 命名事件
const (
	streamTypeConnected = "connection_established"
	streamTypeLog       = "log_message"
	streamTypeProgress  = "progress_update"
	streamTypeKeepAlive = "keep-alive"
)

// StreamEvents SSE 实时事件流
//
// 路由: GET /api/v1/stream
//
// 连接即订阅：只推送订阅之后发布的事件（无历史回放）。
// 每帧是一个命名事件（EventSource 的 addEventListener 按名分发）：
//   - connection_established: 连接确认（首帧，data 为纯文本）
//   - log_message: 自由文本日志行（data 为 JSON 引号转义的字符串）
//   - progress_update: 结构化进度事件（data 为 JSON 对象）
//   - keep-alive: 空事件，空闲超过 keep_alive_after 时发送，防止代理断连
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.bus.Subscribe()
	defer sub.Close()

	h.metrics.StreamConnectionOpened()
	defer h.metrics.StreamConnectionClosed()
	h.log.Info("stream connected", "transport", "sse", "remote", r.RemoteAddr)
	defer h.log.Info("stream disconnected", "transport", "sse", "remote", r.RemoteAddr)

	if !writeNamed(w, streamTypeConnected, "event stream connected") {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	lastEvent := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wrote := false
		for {
			ev, ok := sub.Next()
			if !ok {
				break
			}
			if !h.writeEvent(w, ev) {
				return
			}
			wrote = true
		}
		if wrote {
			flusher.Flush()
			lastEvent = time.Now()
			continue
		}

		// 空闲保活
		if time.Since(lastEvent) >= h.stream.KeepAliveAfter {
			h.metrics.RecordStreamEvent(streamTypeKeepAlive)
			if !writeNamed(w, streamTypeKeepAlive, "") {
				return
			}
			flusher.Flush()
			lastEvent = time.Now()
		}

		sub.Wait(ctx, h.stream.IdleWait)
	}
}

// writeEvent 将总线事件编码为命名 SSE 帧
func (h *Handler) writeEvent(w http.ResponseWriter, ev eventbus.Event) bool {
	switch ev.Kind {
	case eventbus.KindLog:
		// 日志行作为 JSON 引号转义的字符串下发
		quoted, err := json.Marshal(ev.Log)
		if err != nil {
			h.log.WithError(err).Error("marshal log frame failed")
			return true
		}
		h.metrics.RecordStreamEvent(streamTypeLog)
		return writeNamed(w, streamTypeLog, string(quoted))
	case eventbus.KindProgress:
		buf, err := json.Marshal(ev.Progress)
		if err != nil {
			h.log.WithError(err).Error("marshal progress frame failed")
			return true
		}
		h.metrics.RecordStreamEvent(streamTypeProgress)
		return writeNamed(w, streamTypeProgress, string(buf))
	default:
		return true
	}
}

// writeNamed 写出一帧命名 SSE 事件（event: 名称 + data: 载荷）
func writeNamed(w http.ResponseWriter, event, data string) bool {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err == nil
}
