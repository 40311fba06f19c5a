// Package server Prometheus 指标导出
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 API Server 指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 任务指标
	JobsSubmittedTotal *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec

	// 外部调用指标
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	LimiterWaitTime prometheus.Histogram

	// 事件流指标
	StreamConnectionsActive prometheus.Gauge
	StreamEventsTotal       *prometheus.CounterVec
}

// NewMetrics 创建指标实例
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		JobsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Total jobs accepted for background execution",
			},
			[]string{"kind"},
		),
		JobsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total jobs that reached a terminal event",
			},
			[]string{"kind", "success"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Job execution duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		CallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Total upstream calls by result",
			},
			[]string{"result"},
		),
		CallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"result"},
		),
		LimiterWaitTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "limiter_wait_seconds",
				Help:      "Time spent waiting for a rate limiter slot",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		StreamConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections_active",
				Help:      "Active SSE and WebSocket stream connections",
			},
		),
		StreamEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Total events written to stream connections",
			},
			[]string{"type"},
		),
	}
}

// MetricsMiddleware 创建 HTTP 指标中间件
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush 透传给底层 writer（SSE 需要）
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// normalizePath 规范化路径，避免指标标签高基数
func normalizePath(path string) string {
	// 当前路由都是固定路径，保留原样；未来带 ID 的路由在这里折叠
	return path
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ============================================================================
// dispatch.MetricsRecorder 实现
// ============================================================================

// RecordJobSubmitted 记录任务受理
func (m *Metrics) RecordJobSubmitted(kind string) {
	m.JobsSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordJobCompleted 记录任务终止
func (m *Metrics) RecordJobCompleted(kind string, success bool, duration time.Duration) {
	m.JobsCompletedTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCall 记录一次外部调用
func (m *Metrics) RecordCall(result string, duration time.Duration) {
	m.CallsTotal.WithLabelValues(result).Inc()
	m.CallDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordLimiterWait 记录限流等待时长
func (m *Metrics) RecordLimiterWait(duration time.Duration) {
	m.LimiterWaitTime.Observe(duration.Seconds())
}

// ============================================================================
// 事件流指标
// ============================================================================

// StreamConnectionOpened 流连接打开
func (m *Metrics) StreamConnectionOpened() {
	m.StreamConnectionsActive.Inc()
}

// StreamConnectionClosed 流连接关闭
func (m *Metrics) StreamConnectionClosed() {
	m.StreamConnectionsActive.Dec()
}

// RecordStreamEvent 记录写出的流事件
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEventsTotal.WithLabelValues(eventType).Inc()
}
