package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-admin/internal/model"
	"dispatch-admin/internal/shared/eventbus"
	"dispatch-admin/internal/upstream"
)

// ============================================================================
// 测试替身
// ============================================================================

type fakeLimiter struct{}

func (fakeLimiter) Acquire(ctx context.Context) (func(), error) {
	return func() {}, nil
}

// fakeCaller 按目标返回预设结果，并记录调用顺序
type fakeCaller struct {
	results map[string]model.CallResult
	calls   []string
}

func (c *fakeCaller) Call(ctx context.Context, target string, logf upstream.LogFunc) model.CallResult {
	c.calls = append(c.calls, target)
	if res, ok := c.results[target]; ok {
		return res
	}
	return model.OkResult("ok body")
}

// markerClassify 响应体含 "GOOD" 即判成功
func markerClassify(body, fallback string) model.Outcome {
	if strings.Contains(body, "GOOD") {
		return model.Outcome{Success: true, Message: "Success for " + fallback, Target: fallback}
	}
	return model.Outcome{Success: false, Message: "Failure for " + fallback, Target: fallback}
}

func newTestRunner(caller Caller, ready bool) (*Runner, *eventbus.MemoryBus) {
	bus := eventbus.NewMemoryBus()
	r := NewRunner(fakeLimiter{}, caller, bus, Options{
		ExternalReady: ready,
		ItemDelay:     time.Millisecond,
		Classify:      markerClassify,
	})
	return r, bus
}

// collectProgress 等待并收集 n 个进度事件（日志事件跳过）
func collectProgress(t *testing.T, sub eventbus.Subscription, n int) []*eventbus.ProgressEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var out []*eventbus.ProgressEvent
	for len(out) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d progress events, got %d", n, len(out))
		}
		ev, ok := sub.Next()
		if !ok {
			sub.Wait(context.Background(), 50*time.Millisecond)
			continue
		}
		if ev.Kind == eventbus.KindProgress {
			out = append(out, ev.Progress)
		}
	}
	return out
}

// ============================================================================
// 单目标任务
// ============================================================================

// TC1: 传输超时 → 先 single_status 受理，再 single_result 失败且消息含 timeout
func TestRunner_SingleTimeout(t *testing.T) {
	caller := &fakeCaller{results: map[string]model.CallResult{
		"12345": model.FailedResult(model.TransportTimeout, "API request timed out after 60s"),
	}}
	r, bus := newTestRunner(caller, true)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	job, err := r.SubmitSingle("12345", "admin")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, strings.HasPrefix(job.ID, "job-"))
	assert.Equal(t, model.JobKindSingle, job.Kind)
	require.NoError(t, r.Shutdown(context.Background()))

	events := collectProgress(t, sub, 2)
	assert.Equal(t, eventbus.ProgressSingleStatus, events[0].Type)
	assert.Equal(t, "12345", events[0].Target)

	result := events[1]
	assert.Equal(t, eventbus.ProgressSingleResult, result.Type)
	require.NotNil(t, result.Success)
	assert.False(t, *result.Success)
	assert.Contains(t, result.Message, "timeout")
}

// TC2: 调用成功 → single_result 按分类结果给出成功判定
func TestRunner_SingleSuccess(t *testing.T) {
	caller := &fakeCaller{results: map[string]model.CallResult{
		"777": model.OkResult("GOOD response"),
	}}
	r, bus := newTestRunner(caller, true)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := r.SubmitSingle("777", "admin")
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))

	events := collectProgress(t, sub, 2)
	result := events[1]
	assert.Equal(t, eventbus.ProgressSingleResult, result.Type)
	require.NotNil(t, result.Success)
	assert.True(t, *result.Success)
	assert.Equal(t, "777", result.Target)
}

// TC3: 目标非纯数字 → 拒绝且不发布任何进度事件
func TestRunner_SingleInvalidTarget(t *testing.T) {
	caller := &fakeCaller{}
	r, bus := newTestRunner(caller, true)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	for _, bad := range []string{"", "abc", "12a45", " 123"} {
		_, err := r.SubmitSingle(bad, "admin")
		assert.ErrorIs(t, err, ErrInvalidTarget, "target %q", bad)
	}
	if _, ok := sub.Next(); ok {
		t.Fatal("rejected submissions must not publish events")
	}
	assert.Empty(t, caller.calls)
}

// TC4: 外部配置缺失 → 受理后不调用外部端点，直接以终止失败事件结束
func TestRunner_SingleNotConfigured(t *testing.T) {
	caller := &fakeCaller{}
	r, bus := newTestRunner(caller, false)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	job, err := r.SubmitSingle("555", "admin")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, r.Shutdown(context.Background()))

	events := collectProgress(t, sub, 2)
	result := events[1]
	assert.Equal(t, eventbus.ProgressSingleResult, result.Type)
	require.NotNil(t, result.Success)
	assert.False(t, *result.Success)
	assert.Contains(t, result.Message, "configuration")
	assert.Empty(t, caller.calls, "caller must not be invoked without configuration")
}

// ============================================================================
// 批量任务
// ============================================================================

// TC5: 两目标批量（第一个超时，第二个成功）→ 完整事件序列与计数
func TestRunner_BatchSequence(t *testing.T) {
	caller := &fakeCaller{results: map[string]model.CallResult{
		"111": model.FailedResult(model.TransportTimeout, "API request timed out"),
		"222": model.OkResult("GOOD response"),
	}}
	r, bus := newTestRunner(caller, true)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	job, err := r.SubmitBatch([]string{"111", "222"}, "targets.txt", "admin")
	require.NoError(t, err)
	assert.Equal(t, model.JobKindBatch, job.Kind)
	require.NoError(t, r.Shutdown(context.Background()))

	// multi_status + multi_start + 2×(item_start + item_result) + multi_complete
	events := collectProgress(t, sub, 7)

	assert.Equal(t, eventbus.ProgressMultiStatus, events[0].Type)
	assert.Equal(t, 2, events[0].Total)

	assert.Equal(t, eventbus.ProgressMultiStart, events[1].Type)
	assert.Equal(t, "targets.txt", events[1].Label)
	assert.Equal(t, 2, events[1].Total)

	assert.Equal(t, eventbus.ProgressMultiItem, events[2].Type)
	assert.Equal(t, "111", events[2].Target)
	assert.Equal(t, 1, events[2].CurrentIndex)

	first := events[3]
	assert.Equal(t, eventbus.ProgressMultiResult, first.Type)
	require.NotNil(t, first.Success)
	assert.False(t, *first.Success)
	assert.Equal(t, 0, first.SuccessCount)
	assert.Equal(t, 1, first.FailureCount)

	assert.Equal(t, eventbus.ProgressMultiItem, events[4].Type)
	assert.Equal(t, "222", events[4].Target)
	assert.Equal(t, 2, events[4].CurrentIndex)

	second := events[5]
	assert.Equal(t, eventbus.ProgressMultiResult, second.Type)
	require.NotNil(t, second.Success)
	assert.True(t, *second.Success)
	assert.Equal(t, 1, second.SuccessCount)
	assert.Equal(t, 1, second.FailureCount)

	done := events[6]
	assert.Equal(t, eventbus.ProgressMultiDone, done.Type)
	assert.Equal(t, 1, done.SuccessCount)
	assert.Equal(t, 1, done.FailureCount)
	assert.NotEmpty(t, done.Summary)

	// 严格串行：调用顺序与提交顺序一致
	assert.Equal(t, []string{"111", "222"}, caller.calls)
}

// TC6: 空批量 → 拒绝且不发布事件
func TestRunner_BatchEmpty(t *testing.T) {
	caller := &fakeCaller{}
	r, bus := newTestRunner(caller, true)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := r.SubmitBatch(nil, "empty.txt", "admin")
	assert.ErrorIs(t, err, ErrEmptyBatch)
	if _, ok := sub.Next(); ok {
		t.Fatal("rejected batch must not publish events")
	}
}

// TC7: 配置缺失的批量 → 受理确认后直接 multi_complete（全部失败）
func TestRunner_BatchNotConfigured(t *testing.T) {
	caller := &fakeCaller{}
	r, bus := newTestRunner(caller, false)
	defer bus.Close()
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := r.SubmitBatch([]string{"1", "2", "3"}, "batch.txt", "admin")
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))

	events := collectProgress(t, sub, 2)
	done := events[1]
	assert.Equal(t, eventbus.ProgressMultiDone, done.Type)
	assert.Equal(t, 0, done.SuccessCount)
	assert.Equal(t, 3, done.FailureCount)
	assert.NotEmpty(t, done.Error)
	assert.Empty(t, caller.calls)
}

// ============================================================================
// 任务边界兜底
// ============================================================================

// TC8: 分类函数 panic → 转成 task_error 终止事件而不是崩掉进程
func TestRunner_PanicBecomesTaskError(t *testing.T) {
	caller := &fakeCaller{}
	bus := eventbus.NewMemoryBus()
	defer bus.Close()
	r := NewRunner(fakeLimiter{}, caller, bus, Options{
		ExternalReady: true,
		Classify: func(body, fallback string) model.Outcome {
			panic("classifier exploded")
		},
	})
	sub := bus.Subscribe()
	defer sub.Close()

	_, err := r.SubmitSingle("999", "admin")
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(context.Background()))

	events := collectProgress(t, sub, 2)
	errEv := events[1]
	assert.Equal(t, eventbus.ProgressTaskError, errEv.Type)
	assert.NotEmpty(t, errEv.TaskName)
	// 流上不应泄漏内部错误细节
	assert.NotContains(t, errEv.Error, "classifier exploded")
	assert.NotEmpty(t, errEv.Error)
}

// ============================================================================
// 目标清洗
// ============================================================================

func TestFilterTargets(t *testing.T) {
	in := []string{"  111  ", "abc", "", "222", "3 3", "\t444\n"}
	assert.Equal(t, []string{"111", "222", "444"}, FilterTargets(in))
}

func TestValidTarget(t *testing.T) {
	assert.True(t, ValidTarget("0123456789"))
	assert.False(t, ValidTarget(""))
	assert.False(t, ValidTarget("12a"))
	assert.False(t, ValidTarget("-12"))
	assert.False(t, ValidTarget("1 2"))
}
