// Package server 提供 HTTP API 处理器
//
// 本包实现调度引擎的 RESTful API 与实时事件流，包括：
//   - 任务提交接口（委托 job 包）
//   - 认证接口（委托 auth 包）
//   - SSE 事件流（stream.go）
//   - WebSocket 事件流（websocket.go）
//   - Prometheus 指标（metrics.go）
//
// 文件组织：
//   - common.go: Handler 定义和通用工具函数
//   - handler.go: 路由配置
//   - stream.go: SSE 事件流端点
//   - websocket.go: WebSocket 事件流端点
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"dispatch-admin/internal/apiserver/auth"
	"dispatch-admin/internal/apiserver/job"
	"dispatch-admin/internal/config"
	"dispatch-admin/internal/shared/eventbus"
	"dispatch-admin/pkg/logging"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 路由请求到对应的处理函数
//   - 持有事件总线供流式端点订阅
//   - 暴露 Prometheus 指标
type Handler struct {
	runner  job.Submitter // 任务提交入口（dispatch.Runner）
	bus     eventbus.Bus  // 事件总线（流式端点订阅）
	authCfg auth.Config
	stream  config.StreamConfig
	metrics *Metrics
	log     *logging.Logger
}

// NewHandler 创建 Handler 实例
func NewHandler(runner job.Submitter, bus eventbus.Bus, authCfg auth.Config, streamCfg config.StreamConfig) *Handler {
	return &Handler{
		runner:  runner,
		bus:     bus,
		authCfg: authCfg,
		stream:  streamCfg,
		metrics: NewMetrics("dispatch"),
		log:     logging.Default("apiserver"),
	}
}

// SetRunner 注入任务提交入口
//
// Runner 的指标回调需要 Handler 先创建好 Metrics，因此提交入口在
// Handler 之后创建，通过本方法回填。
func (h *Handler) SetRunner(runner job.Submitter) {
	h.runner = runner
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": h.bus.SubscriberCount(),
	})
}
