package job

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-admin/internal/dispatch"
	"dispatch-admin/internal/model"
)

// mockSubmitter 记录提交内容，按预设返回
type mockSubmitter struct {
	singleTarget string
	batchTargets []string
	batchLabel   string
	by           string
	err          error
}

func (m *mockSubmitter) SubmitSingle(target, submittedBy string) (*model.Job, error) {
	m.singleTarget = target
	m.by = submittedBy
	if m.err != nil {
		return nil, m.err
	}
	return &model.Job{ID: "job-abc123def456", Kind: model.JobKindSingle,
		Targets: []string{target}, CreatedAt: time.Now()}, nil
}

func (m *mockSubmitter) SubmitBatch(targets []string, label, submittedBy string) (*model.Job, error) {
	m.batchTargets = targets
	m.batchLabel = label
	m.by = submittedBy
	if m.err != nil {
		return nil, m.err
	}
	return &model.Job{ID: "job-fed321cba654", Kind: model.JobKindBatch,
		Targets: targets, Label: label, CreatedAt: time.Now()}, nil
}

func newTestMux(m *mockSubmitter) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(m).RegisterRoutes(mux)
	return mux
}

// ============================================================================
// 单目标提交
// ============================================================================

// TC1: 合法目标 → 202 受理确认
func TestSubmitSingle_Accepted(t *testing.T) {
	m := &mockSubmitter{}
	mux := newTestMux(m)

	body, _ := json.Marshal(map[string]string{"target": "628123456789"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/jobs/single", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, "job-abc123def456", resp.JobID)
	assert.Equal(t, "628123456789", m.singleTarget)
	assert.Equal(t, "anonymous", m.by)
}

// TC2: 非法目标 → 400
func TestSubmitSingle_InvalidTarget(t *testing.T) {
	m := &mockSubmitter{err: dispatch.ErrInvalidTarget}
	mux := newTestMux(m)

	body, _ := json.Marshal(map[string]string{"target": "not-digits"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/jobs/single", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TC3: 缺 target 字段 → 400，且不触发提交
func TestSubmitSingle_MissingTarget(t *testing.T) {
	m := &mockSubmitter{}
	mux := newTestMux(m)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/jobs/single", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, m.singleTarget)
}

// ============================================================================
// 批量提交
// ============================================================================

// TC4: JSON 列表提交 → 清洗后受理
func TestSubmitBatch_JSON(t *testing.T) {
	m := &mockSubmitter{}
	mux := newTestMux(m)

	body, _ := json.Marshal(batchRequest{
		Targets: []string{" 111 ", "abc", "222", ""},
		Label:   "my batch",
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/jobs/batch", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"111", "222"}, m.batchTargets)
	assert.Equal(t, "my batch", m.batchLabel)
}

// TC5: 上传 .txt 文件 → 逐行清洗，文件名作为标签
func TestSubmitBatch_Upload(t *testing.T) {
	m := &mockSubmitter{}
	mux := newTestMux(m)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("targets", "targets.txt")
	require.NoError(t, err)
	fw.Write([]byte("111\nnot a number\n 222 \n\n333\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/jobs/batch", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"111", "222", "333"}, m.batchTargets)
	assert.Equal(t, "targets.txt", m.batchLabel)
}

// TC6: 非 .txt 上传 → 400
func TestSubmitBatch_RejectsNonTxt(t *testing.T) {
	m := &mockSubmitter{}
	mux := newTestMux(m)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("targets", "targets.csv")
	fw.Write([]byte("111\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/jobs/batch", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, m.batchTargets)
}

// TC7: 全部行无效 → 400
func TestSubmitBatch_Empty(t *testing.T) {
	m := &mockSubmitter{err: dispatch.ErrEmptyBatch}
	mux := newTestMux(m)

	body, _ := json.Marshal(batchRequest{Targets: []string{"abc", ""}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/jobs/batch", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
