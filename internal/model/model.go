// Package model 定义调度引擎的核心数据模型
//
// 包含：
//   - Job: 一次提交的工作单元（单目标或批量）
//   - CallResult: 外部调用的原始结果（成功体或传输错误）
//   - Outcome: 从响应体分类出的成败判定
package model

import (
	"time"
)

// ============================================================================
// Job 模型
// ============================================================================

// JobKind 任务类型
type JobKind string

const (
	JobKindSingle JobKind = "single" // 单目标任务
	JobKindBatch  JobKind = "batch"  // 批量任务（有序目标列表）
)

// Job 一次提交的工作单元
//
// Job 只在执行期间存在：终止事件（single_result / multi_complete）发布后，
// 引擎不再保留任何对应状态（无历史、无持久化）。
type Job struct {
	ID          string    `json:"id"`           // 任务 ID（job-xxxxxxxxxxxx）
	Kind        JobKind   `json:"kind"`         // 任务类型
	Targets     []string  `json:"targets"`      // 有序目标列表（单目标任务长度为 1）
	Label       string    `json:"label"`        // 批量任务标签（如上传文件名）
	SubmittedBy string    `json:"submitted_by"` // 提交者身份（由认证层提供）
	CreatedAt   time.Time `json:"created_at"`   // 提交时间
}

// ============================================================================
// 外部调用结果
// ============================================================================

// TransportKind 传输层失败类别
type TransportKind string

const (
	TransportTimeout       TransportKind = "timeout"        // 整体 60s 超时
	TransportConnectFailed TransportKind = "connect_failed" // 连接失败
	TransportClientError   TransportKind = "client_error"   // 其他客户端错误
	TransportOther         TransportKind = "other"          // 未归类错误
)

// TransportError 传输层失败，保留原始 detail 用于诊断
type TransportError struct {
	Kind   TransportKind
	Detail string
}

func (e *TransportError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

// CallResult 一次外部调用的结果
//
// 两种情形互斥：
//   - Ok: 到达了服务器，Body 为原始响应体（即使是登录被拒页面）
//   - Err: 传输层失败，未取得响应体
type CallResult struct {
	Body string
	Err  *TransportError
}

// Ok 是否取得了响应体
func (r CallResult) Ok() bool {
	return r.Err == nil
}

// OkResult 构造成功结果
func OkResult(body string) CallResult {
	return CallResult{Body: body}
}

// FailedResult 构造传输失败结果
func FailedResult(kind TransportKind, detail string) CallResult {
	return CallResult{Err: &TransportError{Kind: kind, Detail: detail}}
}

// ============================================================================
// 分类结果
// ============================================================================

// Outcome 从 CallResult.Body 分类出的成败判定
//
// 仅对 Ok 结果产生；传输失败由任务层直接包装为失败事件。
type Outcome struct {
	Success bool   `json:"success"`          // 是否判定为成功
	Message string `json:"message"`          // 人类可读的结果摘要
	Status  string `json:"status,omitempty"` // 响应中提取的 Status 字段
	Target  string `json:"target,omitempty"` // 响应中提取的 Target 字段（缺失时回填提交目标）
	Info    string `json:"info,omitempty"`   // 响应中提取的 Info 字段
	Time    string `json:"time,omitempty"`   // 响应中提取的 Waktu（时间）字段
}
