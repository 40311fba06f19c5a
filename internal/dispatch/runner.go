// Package dispatch 后台任务执行器
//
// Runner 负责任务的完整生命周期：提交校验 → 立即返回受理确认 →
// 后台 goroutine 执行（限流 → 外部调用 → 结果分类）→ 进度事件发布。
// 任务一旦发布终止事件（single_result / multi_complete / task_error），
// Runner 不再保留任何对应状态。
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"dispatch-admin/internal/classify"
	"dispatch-admin/internal/model"
	"dispatch-admin/internal/shared/eventbus"
	"dispatch-admin/internal/upstream"
	"dispatch-admin/pkg/logging"
)

// ============================================================================
// 依赖接口
// ============================================================================

// Caller 外部端点调用方（生产实现为 upstream.Client）
type Caller interface {
	Call(ctx context.Context, target string, logf upstream.LogFunc) model.CallResult
}

// Classifier 响应体分类函数（生产实现为 classify.Classify）
type Classifier func(body, fallbackTarget string) model.Outcome

// MetricsRecorder 任务指标回调，避免 dispatch 包直接依赖 HTTP 层
type MetricsRecorder interface {
	RecordJobSubmitted(kind string)
	RecordJobCompleted(kind string, success bool, duration time.Duration)
	RecordCall(result string, duration time.Duration)
	RecordLimiterWait(duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordJobSubmitted(kind string)                                {}
func (nopMetrics) RecordJobCompleted(kind string, success bool, d time.Duration) {}
func (nopMetrics) RecordCall(result string, d time.Duration)                     {}
func (nopMetrics) RecordLimiterWait(d time.Duration)                             {}

// Limiter 全局节流器（生产实现为 ratelimit.Limiter）
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// ============================================================================
// Runner
// ============================================================================

// Options Runner 可选配置
type Options struct {
	ExternalReady bool            // 外部端点配置是否完整
	ItemDelay     time.Duration   // 批量条目之间的让步延迟
	Classify      Classifier      // 缺省 classify.Classify 由调用方注入
	Logger        *logging.Logger // 缺省使用 dispatch 组件日志器
	Metrics       MetricsRecorder // 缺省为空实现
}

// Runner 后台任务执行器
type Runner struct {
	limiter  Limiter
	caller   Caller
	bus      eventbus.Bus
	classify Classifier
	log      *logging.Logger
	metrics  MetricsRecorder

	externalReady bool
	itemDelay     time.Duration

	wg sync.WaitGroup
}

// NewRunner 创建执行器
func NewRunner(limiter Limiter, caller Caller, bus eventbus.Bus, opts Options) *Runner {
	r := &Runner{
		limiter:       limiter,
		caller:        caller,
		bus:           bus,
		classify:      opts.Classify,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		externalReady: opts.ExternalReady,
		itemDelay:     opts.ItemDelay,
	}
	if r.classify == nil {
		r.classify = classify.Classify
	}
	if r.log == nil {
		r.log = logging.Default("dispatch")
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.itemDelay <= 0 {
		r.itemDelay = 100 * time.Millisecond
	}
	return r
}

// ============================================================================
// 提交入口
// ============================================================================

// SubmitSingle 提交单目标任务
//
// 校验通过即返回受理确认，执行在后台 goroutine 进行；
// 外部配置缺失不在这里拒绝，而是以终止失败事件结束。
func (r *Runner) SubmitSingle(target, submittedBy string) (*model.Job, error) {
	if !ValidTarget(target) {
		return nil, ErrInvalidTarget
	}

	job := &model.Job{
		ID:          generateJobID(),
		Kind:        model.JobKindSingle,
		Targets:     []string{target},
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now(),
	}
	r.metrics.RecordJobSubmitted(string(job.Kind))
	r.log.JobLog("submitted", job.ID, target, "kind", string(job.Kind))

	r.publishLogf("Request for target %s accepted, processing in background", target)
	r.bus.PublishProgress(&eventbus.ProgressEvent{
		Type:          eventbus.ProgressSingleStatus,
		JobID:         job.ID,
		Target:        target,
		StatusMessage: "Request sent to server, processing in background...",
	})

	r.wg.Add(1)
	go r.runSingle(job)
	return job, nil
}

// SubmitBatch 提交批量任务
//
// targets 必须已经过 FilterTargets 清洗；空列表在这里拒绝。
func (r *Runner) SubmitBatch(targets []string, label, submittedBy string) (*model.Job, error) {
	if len(targets) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, t := range targets {
		if !ValidTarget(t) {
			return nil, ErrInvalidTarget
		}
	}

	job := &model.Job{
		ID:          generateJobID(),
		Kind:        model.JobKindBatch,
		Targets:     append([]string(nil), targets...),
		Label:       label,
		SubmittedBy: submittedBy,
		CreatedAt:   time.Now(),
	}
	r.metrics.RecordJobSubmitted(string(job.Kind))
	r.log.JobLog("submitted", job.ID, "", "kind", string(job.Kind), "total", len(targets), "label", label)

	r.publishLogf("Batch %q with %d targets accepted, processing in background", label, len(targets))
	r.bus.PublishProgress(&eventbus.ProgressEvent{
		Type:          eventbus.ProgressMultiStatus,
		JobID:         job.ID,
		Label:         label,
		Total:         len(targets),
		StatusMessage: fmt.Sprintf("Batch of %d targets accepted, processing in background...", len(targets)),
	})

	r.wg.Add(1)
	go r.runBatch(job)
	return job, nil
}

// Shutdown 等待在途任务完成，最多等到 ctx 截止
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// 后台执行
// ============================================================================

func (r *Runner) runSingle(job *model.Job) {
	defer r.wg.Done()
	defer r.recoverTask(job, "single_dispatch")

	start := time.Now()
	target := job.Targets[0]

	if !r.externalReady {
		r.failNotConfigured(job, target)
		r.metrics.RecordJobCompleted(string(job.Kind), false, time.Since(start))
		return
	}

	res := r.executeCall(job, target)

	ev := &eventbus.ProgressEvent{
		Type:   eventbus.ProgressSingleResult,
		JobID:  job.ID,
		Target: target,
	}
	var success bool
	if !res.Ok() {
		ev.Success = boolPtr(false)
		ev.Message = "API call failed: " + res.Err.Error()
		r.publishLogf("Target %s (API): call failed: %s", target, res.Err.Error())
	} else {
		outcome := r.classify(res.Body, target)
		success = outcome.Success
		ev.Success = boolPtr(outcome.Success)
		ev.Message = outcome.Message
		ev.Target = orDefault(outcome.Target, target)
		ev.DetailsStatus = outcome.Status
		ev.DetailsInfo = outcome.Info
		r.publishLogf("Target %s (API): %s", target, outcome.Message)
	}
	r.bus.PublishProgress(ev)
	r.metrics.RecordJobCompleted(string(job.Kind), success, time.Since(start))
	r.log.JobLog("completed", job.ID, target, "success", success, "duration", time.Since(start).String())
}

func (r *Runner) runBatch(job *model.Job) {
	defer r.wg.Done()
	defer r.recoverTask(job, "batch_dispatch")

	start := time.Now()
	total := len(job.Targets)

	if !r.externalReady {
		r.publishLogf("Batch %q rejected: server is missing external endpoint configuration", job.Label)
		r.bus.PublishProgress(&eventbus.ProgressEvent{
			Type:         eventbus.ProgressMultiDone,
			JobID:        job.ID,
			Label:        job.Label,
			Total:        total,
			FailureCount: total,
			Error:        "server is missing external endpoint configuration",
		})
		r.metrics.RecordJobCompleted(string(job.Kind), false, time.Since(start))
		return
	}

	r.bus.PublishProgress(&eventbus.ProgressEvent{
		Type:  eventbus.ProgressMultiStart,
		JobID: job.ID,
		Label: job.Label,
		Total: total,
	})

	successCount, failureCount := 0, 0
	for i, target := range job.Targets {
		r.bus.PublishProgress(&eventbus.ProgressEvent{
			Type:         eventbus.ProgressMultiItem,
			JobID:        job.ID,
			Label:        job.Label,
			Target:       target,
			Total:        total,
			CurrentIndex: i + 1,
		})
		r.publishLogf("Batch %q: processing target %s (%d/%d)", job.Label, target, i+1, total)

		res := r.executeCall(job, target)

		ev := &eventbus.ProgressEvent{
			Type:         eventbus.ProgressMultiResult,
			JobID:        job.ID,
			Label:        job.Label,
			Target:       target,
			Total:        total,
			CurrentIndex: i + 1,
		}
		if !res.Ok() {
			failureCount++
			ev.Success = boolPtr(false)
			ev.Message = "API call failed: " + res.Err.Error()
		} else {
			outcome := r.classify(res.Body, target)
			if outcome.Success {
				successCount++
			} else {
				failureCount++
			}
			ev.Success = boolPtr(outcome.Success)
			ev.Message = outcome.Message
			ev.Target = orDefault(outcome.Target, target)
			ev.DetailsStatus = outcome.Status
			ev.DetailsInfo = outcome.Info
		}
		ev.SuccessCount = successCount
		ev.FailureCount = failureCount
		r.bus.PublishProgress(ev)

		// 条目之间让步，避免饿死同进程的其他工作
		if i < total-1 {
			time.Sleep(r.itemDelay)
		}
	}

	summary := fmt.Sprintf("Batch %q complete: %d succeeded, %d failed out of %d",
		job.Label, successCount, failureCount, total)
	r.bus.PublishProgress(&eventbus.ProgressEvent{
		Type:         eventbus.ProgressMultiDone,
		JobID:        job.ID,
		Label:        job.Label,
		Total:        total,
		SuccessCount: successCount,
		FailureCount: failureCount,
		Summary:      summary,
	})
	r.publishLogf("%s", summary)
	r.metrics.RecordJobCompleted(string(job.Kind), failureCount == 0, time.Since(start))
	r.log.JobLog("completed", job.ID, "",
		"total", total, "success", successCount, "failure", failureCount,
		"duration", time.Since(start).String())
}

// executeCall 限流放行后执行一次外部调用
//
// 使用 Background 上下文：任务一旦受理就执行到底，不随提交连接取消。
func (r *Runner) executeCall(job *model.Job, target string) model.CallResult {
	waitStart := time.Now()
	release, err := r.limiter.Acquire(context.Background())
	if err != nil {
		return model.FailedResult(model.TransportOther, "rate limiter: "+err.Error())
	}
	defer release()
	r.metrics.RecordLimiterWait(time.Since(waitStart))

	logf := func(msg string) {
		r.publishLogf("Target %s (API): %s", target, msg)
	}

	callStart := time.Now()
	res := r.caller.Call(context.Background(), target, logf)
	result := "ok"
	if !res.Ok() {
		result = string(res.Err.Kind)
	}
	r.metrics.RecordCall(result, time.Since(callStart))
	return res
}

// failNotConfigured 配置缺失时的单任务终止事件
func (r *Runner) failNotConfigured(job *model.Job, target string) {
	msg := "server is missing external endpoint configuration"
	r.publishLogf("Target %s: %s", target, msg)
	r.bus.PublishProgress(&eventbus.ProgressEvent{
		Type:    eventbus.ProgressSingleResult,
		JobID:   job.ID,
		Target:  target,
		Success: boolPtr(false),
		Message: msg,
	})
}

// recoverTask 任务边界的 panic 兜底：转成 task_error 终止事件
//
// 完整错误细节只进服务端日志，流上只给出通用错误文本。
func (r *Runner) recoverTask(job *model.Job, taskName string) {
	if rec := recover(); rec != nil {
		r.log.WithJobID(job.ID).Error("task panicked", "task", taskName, "panic", fmt.Sprintf("%v", rec))
		r.bus.PublishProgress(&eventbus.ProgressEvent{
			Type:     eventbus.ProgressTaskError,
			JobID:    job.ID,
			TaskName: taskName,
			Error:    "internal server error during task execution",
		})
	}
}

// publishLogf 发布带时钟前缀的日志行
func (r *Runner) publishLogf(format string, args ...interface{}) {
	r.bus.PublishLog(fmt.Sprintf("[%s] ", time.Now().Format("15:04:05")) + fmt.Sprintf(format, args...))
}

// ============================================================================
// 目标校验
// ============================================================================

// ValidTarget 目标必须是非空纯数字串
func ValidTarget(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FilterTargets 清洗批量目标：逐行去空白，丢弃空行和非数字行
func FilterTargets(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if ValidTarget(t) {
			out = append(out, t)
		}
	}
	return out
}

// generateJobID 生成 job-xxxxxxxxxxxx 形式的任务 ID
func generateJobID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("job-%012d", time.Now().UnixNano()%1e12)
	}
	return "job-" + hex.EncodeToString(b)
}

func boolPtr(b bool) *bool { return &b }

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
