// Package job 任务提交接口
//
// 路由：
//   - POST /api/v1/jobs/single - 提交单目标任务
//   - POST /api/v1/jobs/batch  - 提交批量任务（JSON 列表或上传 .txt 文件）
//
// 提交接口只做校验和受理：执行在后台进行，进度通过事件流推送。
package job

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dispatch-admin/internal/apiserver/auth"
	"dispatch-admin/internal/dispatch"
	"dispatch-admin/internal/model"
)

// 上传文件大小上限（目标列表是纯文本，1MB 足够数十万行）
const maxUploadBytes = 1 << 20

// Submitter 任务提交接口（生产实现为 dispatch.Runner）
type Submitter interface {
	SubmitSingle(target, submittedBy string) (*model.Job, error)
	SubmitBatch(targets []string, label, submittedBy string) (*model.Job, error)
}

// Handler 任务提交 HTTP 处理器
type Handler struct {
	runner Submitter
}

// NewHandler 创建任务提交处理器
func NewHandler(runner Submitter) *Handler {
	return &Handler{runner: runner}
}

// RegisterRoutes 注册任务提交路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs/single", h.SubmitSingle)
	mux.HandleFunc("POST /api/v1/jobs/batch", h.SubmitBatch)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type singleRequest struct {
	Target string `json:"target"`
}

type batchRequest struct {
	Targets []string `json:"targets"`
	Label   string   `json:"label"`
}

// acceptedResponse 受理确认：任务已进入后台，结果走事件流
type acceptedResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// ============================================================================
// Handlers
// ============================================================================

// SubmitSingle 提交单目标任务
func (h *Handler) SubmitSingle(w http.ResponseWriter, r *http.Request) {
	var req singleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Target = strings.TrimSpace(req.Target)
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	jb, err := h.runner.SubmitSingle(req.Target, submittedBy(r))
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidTarget) {
			writeError(w, http.StatusBadRequest, "target must contain digits only")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Success: true,
		Status:  "processing",
		JobID:   jb.ID,
		Message: fmt.Sprintf("Request for target %s accepted, results will stream in", req.Target),
	})
}

// SubmitBatch 提交批量任务
//
// 两种提交形式：
//   - multipart/form-data: 上传 .txt 文件（字段名 targets），逐行一个目标
//   - application/json: {"targets": [...], "label": "..."}
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var (
		targets []string
		label   string
	)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		var err error
		targets, label, err = parseUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		targets = dispatch.FilterTargets(req.Targets)
		label = req.Label
	}
	if label == "" {
		label = "batch"
	}

	jb, err := h.runner.SubmitBatch(targets, label, submittedBy(r))
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrEmptyBatch):
			writeError(w, http.StatusBadRequest, "no valid targets found (digits-only lines required)")
		case errors.Is(err, dispatch.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, "targets must contain digits only")
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Success: true,
		Status:  "processing",
		JobID:   jb.ID,
		Message: fmt.Sprintf("Batch of %d targets accepted, results will stream in", len(targets)),
	})
}

// parseUpload 解析上传的目标文件，返回清洗后的目标和文件名标签
func parseUpload(r *http.Request) ([]string, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("invalid multipart form")
	}
	file, header, err := r.FormFile("targets")
	if err != nil {
		return nil, "", fmt.Errorf("targets file is required")
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".txt") {
		return nil, "", fmt.Errorf("only .txt files are accepted")
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to read targets file")
	}
	return dispatch.FilterTargets(lines), header.Filename, nil
}

// submittedBy 提交者身份：认证启用时来自 JWT，否则匿名
func submittedBy(r *http.Request) string {
	if user := auth.GetAuthUser(r.Context()); user != nil {
		return user.Username
	}
	return "anonymous"
}

// ============================================================================
// 工具函数
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
