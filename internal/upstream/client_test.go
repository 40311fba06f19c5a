package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-admin/internal/config"
	"dispatch-admin/internal/model"
	"dispatch-admin/pkg/logging"
)

func testConfig(baseURL string) config.ExternalConfig {
	return config.ExternalConfig{
		Username:    "operator",
		Key:         "sekrit",
		BaseURL:     baseURL,
		LoginPath:   "api/do-login",
		ExecutePath: "panel/execute",
		Timeout:     5 * time.Second,
	}
}

// newUpstreamServer 模拟外部端点：POST 登录（校验表单+种 cookie+重定向到执行页），
// GET 执行页（校验 cookie 和 Referer，有 target 参数时返回执行结果）
func newUpstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/do-login", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "operator" || r.FormValue("key") != "sekrit" {
			w.Write([]byte(`<title>HASCLAW API Login</title>Login akun anda`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "tok-123", Path: "/"})
		http.Redirect(w, r, "/panel/execute", http.StatusFound)
	})
	mux.HandleFunc("GET /panel/execute", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "tok-123" {
			w.Write([]byte(`<title>HASCLAW API Login</title>Login akun anda`))
			return
		}
		target := r.URL.Query().Get("target")
		if target == "" {
			w.Write([]byte("<html>execution panel</html>"))
			return
		}
		// 执行请求必须携带登录后页面作为 Referer
		if r.Header.Get("Referer") == "" {
			http.Error(w, "missing referer", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`<div class="info"><p>Status: S U C C E S !!</p><p>Target: ` + target + `</p></div>`))
	})
	return httptest.NewServer(mux)
}

// TestCall_Success 两步调用成功，返回执行页响应体
func TestCall_Success(t *testing.T) {
	srv := newUpstreamServer(t)
	defer srv.Close()

	var logs []string
	c := NewClient(testConfig(srv.URL), logging.Default("upstream-test"))
	res := c.Call(context.Background(), "6281234567890", func(m string) { logs = append(logs, m) })

	require.True(t, res.Ok(), "expected ok result, got %v", res.Err)
	assert.Contains(t, res.Body, "S U C C E S")
	assert.Contains(t, res.Body, "6281234567890")
	assert.NotEmpty(t, logs)
}

// TestCall_LoginRejected 登录被拒时返回 Ok（携带登录页体），不是传输错误
func TestCall_LoginRejected(t *testing.T) {
	srv := newUpstreamServer(t)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Key = "wrong-key"
	c := NewClient(cfg, logging.Default("upstream-test"))
	res := c.Call(context.Background(), "6281234567890", nil)

	require.True(t, res.Ok(), "login rejection must surface as Ok with the login body")
	assert.Contains(t, res.Body, "Login akun anda")
}

// TestCall_NoRedirect 登录成功但未跳转到执行页也算登录失败
func TestCall_NoRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/do-login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/somewhere/else", http.StatusFound)
	})
	mux.HandleFunc("GET /somewhere/else", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not the execution panel</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logging.Default("upstream-test"))
	res := c.Call(context.Background(), "111", nil)

	require.True(t, res.Ok())
	assert.Contains(t, res.Body, "not the execution panel")
}

// TestCall_Timeout 整体超时映射为 Timeout 类别
func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewClient(cfg, logging.Default("upstream-test"))
	res := c.Call(context.Background(), "111", nil)

	require.False(t, res.Ok())
	assert.Equal(t, model.TransportTimeout, res.Err.Kind)
	assert.Contains(t, res.Err.Detail, "timed out")
}

// TestCall_ConnectFailed 连接失败映射为 ConnectFailed 类别
func TestCall_ConnectFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 立即关闭，连接必然被拒

	c := NewClient(testConfig(srv.URL), logging.Default("upstream-test"))
	res := c.Call(context.Background(), "111", nil)

	require.False(t, res.Ok())
	assert.Equal(t, model.TransportConnectFailed, res.Err.Kind)
	assert.NotEmpty(t, res.Err.Detail)
}
