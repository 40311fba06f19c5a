package auth

import (
	"encoding/json"
	"log"
	"net/http"
)

// Handler 认证 HTTP 处理器
//
// 单管理员账号模式：凭据来自环境变量，没有用户存储。
type Handler struct {
	cfg Config
}

// NewHandler 创建认证处理器
func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/token", h.Token)
	mux.HandleFunc("GET /api/v1/auth/me", h.Me)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // 秒
}

// ============================================================================
// Handlers
// ============================================================================

// Token 用管理员凭据换取访问令牌
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if h.cfg.AdminUsername == "" || h.cfg.AdminPassword == "" {
		writeError(w, http.StatusServiceUnavailable, "admin credentials are not configured")
		return
	}

	if req.Username != h.cfg.AdminUsername || !CheckPassword(req.Password, h.cfg.AdminPassword) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, req.Username, "admin")
	if err != nil {
		log.Printf("[auth.token] GenerateAccessToken error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("[auth] Token issued for %s", req.Username)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.cfg.AccessTokenTTL.Seconds()),
	})
}

// Me 获取当前认证身份
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": user.Username,
		"role":     user.Role,
	})
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
