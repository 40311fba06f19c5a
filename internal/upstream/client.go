// Package upstream 外部端点的两步调用客户端
//
// 调用序列（每次 Call 独立会话，cookie 在两步之间共享）：
//  1. POST 登录凭据到 base/loginPath，跟随重定向
//  2. 登录判定通过后 GET base/executePath?target=ID，Referer 指向登录后 URL
//
// 登录被拒时返回 Ok（携带登录页响应体）而不是传输错误，
// 用于区分“到达了服务器但被拒绝”与“服务器不可达”。
// 整个序列共用一个 60s 墙钟超时；引擎从不自动重试。
package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"dispatch-admin/internal/config"
	"dispatch-admin/internal/model"
	"dispatch-admin/pkg/logging"
)

// 登录页标记：响应体中出现任意一个即视为登录未通过
var loginPageMarkers = []string{
	"<title>HASCLAW API Login</title>",
	"Login akun anda",
}

var baseHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/99.0.4844.51 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
	"Accept-Language": "en-US,en;q=0.9,id;q=0.8",
}

// LogFunc 每次调用的日志回调（通常发布到事件总线）
type LogFunc func(message string)

// Client 外部端点客户端
type Client struct {
	cfg config.ExternalConfig
	log *logging.Logger
}

// NewClient 创建客户端
func NewClient(cfg config.ExternalConfig, log *logging.Logger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Call 对单个目标执行认证+执行两步调用
//
// logf 可为 nil；返回值永远是 Ok 或带类别的 TransportError，不会 panic。
func (c *Client) Call(ctx context.Context, target string, logf LogFunc) model.CallResult {
	emit := func(msg string) {
		if logf != nil {
			logf(msg)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return model.FailedResult(model.TransportOther, err.Error())
	}
	client := &http.Client{Jar: jar}

	loginURL := c.cfg.BaseURL + "/" + c.cfg.LoginPath
	executeURL := c.cfg.BaseURL + "/" + c.cfg.ExecutePath

	// 第一步：登录
	emit("attempting API login")
	form := url.Values{
		"username": {c.cfg.Username},
		"key":      {c.cfg.Key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.FailedResult(model.TransportOther, err.Error())
	}
	applyHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	req.Header.Set("Origin", c.cfg.BaseURL)

	loginResp, err := client.Do(req)
	if err != nil {
		res := classifyTransportError(ctx, err)
		emit("API login failed: " + res.Err.Detail)
		return res
	}
	loginBody, err := readBody(loginResp)
	if err != nil {
		res := classifyTransportError(ctx, err)
		emit("API login read failed: " + res.Err.Detail)
		return res
	}
	finalURL := loginResp.Request.URL.String()
	c.log.Debug("login POST done", "status", loginResp.StatusCode, "final_url", finalURL)
	emit("login POST status: " + loginResp.Status)

	if !c.loginSucceeded(loginResp.StatusCode, finalURL, loginBody, executeURL) {
		// 到达了服务器但被拒：返回 Ok，让分类器给出判定
		emit("API login rejected or did not redirect as expected")
		return model.OkResult(loginBody)
	}
	emit("API login successful")

	// 第二步：执行
	emit("executing action for target " + target)
	execURL := executeURL + "?" + url.Values{"target": {target}}.Encode()
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, execURL, nil)
	if err != nil {
		return model.FailedResult(model.TransportOther, err.Error())
	}
	applyHeaders(req)
	req.Header.Set("Referer", finalURL)

	execResp, err := client.Do(req)
	if err != nil {
		res := classifyTransportError(ctx, err)
		emit("execute request failed: " + res.Err.Detail)
		return res
	}
	execBody, err := readBody(execResp)
	if err != nil {
		res := classifyTransportError(ctx, err)
		emit("execute read failed: " + res.Err.Detail)
		return res
	}
	emit("execute GET status: " + execResp.Status)

	// 状态码不参与判定：响应体交给分类器
	return model.OkResult(execBody)
}

// loginSucceeded 登录判定
//
// 失败条件（任一满足即失败）：
//   - 状态码不在 2xx
//   - 最终 URL 仍包含登录路径
//   - 响应体包含登录页标记
//   - 最终 URL 不以 base/executePath 开头
func (c *Client) loginSucceeded(status int, finalURL, body, executeURL string) bool {
	if status < 200 || status >= 300 {
		return false
	}
	if strings.Contains(finalURL, c.cfg.LoginPath) {
		return false
	}
	for _, marker := range loginPageMarkers {
		if strings.Contains(body, marker) {
			return false
		}
	}
	return strings.HasPrefix(finalURL, executeURL)
}

func applyHeaders(req *http.Request) {
	for k, v := range baseHeaders {
		req.Header.Set(k, v)
	}
}

func readBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// classifyTransportError 传输错误归类
//
// 超时（整体 60s 或网络层超时）→ Timeout；
// 拨号/连接失败 → ConnectFailed；其余 url.Error → ClientError；
// 再往外的一切 → Other。detail 原样保留用于诊断。
func classifyTransportError(ctx context.Context, err error) model.CallResult {
	detail := err.Error()

	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return model.FailedResult(model.TransportTimeout, "API request timed out: "+detail)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailedResult(model.TransportTimeout, "API request timed out: "+detail)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.FailedResult(model.TransportConnectFailed, "connection to API failed: "+detail)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return model.FailedResult(model.TransportClientError, "client error calling API: "+detail)
	}
	return model.FailedResult(model.TransportOther, "unexpected error calling API: "+detail)
}
