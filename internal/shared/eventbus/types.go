// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// EventKind 事件流类别：自由文本日志行或结构化进度事件
type EventKind string

const (
	KindLog      EventKind = "log"      // 自由文本日志行
	KindProgress EventKind = "progress" // 结构化进度事件
)

// ProgressType 进度事件的阶段标签
type ProgressType string

const (
	ProgressSingleStatus ProgressType = "single_status"              // 单目标任务状态
	ProgressSingleResult ProgressType = "single_result"              // 单目标任务终止结果
	ProgressMultiStatus  ProgressType = "multi_status"               // 批量任务提交确认
	ProgressMultiStart   ProgressType = "multi_start"                // 批量任务开始
	ProgressMultiItem    ProgressType = "multi_progress_item_start"  // 批量条目开始
	ProgressMultiResult  ProgressType = "multi_progress_item_result" // 批量条目结果
	ProgressMultiDone    ProgressType = "multi_complete"             // 批量任务完成
	ProgressTaskError    ProgressType = "task_error"                 // 任务边界捕获的内部错误
)

// ProgressEvent 结构化进度事件
//
// 字段按阶段选用（omitempty），每个变体携带前端重建 UI 状态所需的字段。
type ProgressEvent struct {
	Type          ProgressType `json:"type"`                      // 阶段标签
	JobID         string       `json:"job_id,omitempty"`          // 任务 ID
	Target        string       `json:"target,omitempty"`          // 目标标识
	StatusMessage string       `json:"status_message,omitempty"`  // 阶段说明文本
	Success       *bool        `json:"success,omitempty"`         // 成败判定（处理中缺省）
	Message       string       `json:"message,omitempty"`         // 结果摘要
	DetailsStatus string       `json:"details_status,omitempty"`  // 分类出的 Status 字段
	DetailsInfo   string       `json:"details_info,omitempty"`    // 分类出的 Info 字段
	Label         string       `json:"label,omitempty"`           // 批量任务标签
	Total         int          `json:"total,omitempty"`           // 批量任务目标总数
	CurrentIndex  int          `json:"current_index,omitempty"`   // 当前条目序号（1 起）
	SuccessCount  int          `json:"success_count,omitempty"`   // 截至当前的成功计数
	FailureCount  int          `json:"failure_count,omitempty"`   // 截至当前的失败计数
	Summary       string       `json:"summary_message,omitempty"` // 完成摘要
	TaskName      string       `json:"task_name,omitempty"`       // task_error 的任务名
	Error         string       `json:"error,omitempty"`           // task_error 的错误文本
}

// Event 订阅侧看到的统一事件（两条逻辑流共用一个游标）
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Log       string         `json:"log,omitempty"`      // Kind == KindLog 时有效
	Progress  *ProgressEvent `json:"progress,omitempty"` // Kind == KindProgress 时有效
}
