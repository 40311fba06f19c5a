// Package server 路由配置与核心基础设施
package server

import (
	"net/http"

	"dispatch-admin/internal/apiserver/auth"
	"dispatch-admin/internal/apiserver/job"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//
// 认证 (Auth):
//   - POST /api/v1/auth/token - 管理员凭据换取访问令牌
//   - GET  /api/v1/auth/me    - 当前认证身份
//
// 任务提交 (Job):
//   - POST /api/v1/jobs/single - 提交单目标任务
//   - POST /api/v1/jobs/batch  - 提交批量任务
//
// 事件流 (Stream):
//   - GET /api/v1/stream - SSE 实时事件流
//   - GET /ws/stream     - WebSocket 实时事件流
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// Auth 路由
	authHandler := auth.NewHandler(h.authCfg)
	authHandler.RegisterRoutes(mux)

	// Job 提交接口
	jobHandler := job.NewHandler(h.runner)
	jobHandler.RegisterRoutes(mux)

	// SSE 事件流（长连接，指标只记连接数不记时延）
	mux.HandleFunc("GET /api/v1/stream", h.StreamEvents)

	// 应用指标中间件到 REST API
	apiHandler := h.metrics.MetricsMiddleware(mux)

	// 应用认证中间件
	authedHandler := auth.Middleware(h.authCfg)(apiHandler)

	// 应用 CORS 中间件
	corsHandler := corsMiddleware(authedHandler)

	// 创建顶层路由，WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.Handle("GET /ws/stream", auth.Middleware(h.authCfg)(http.HandlerFunc(h.StreamWebSocket)))
	topMux.Handle("/", corsHandler)

	return topMux
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
