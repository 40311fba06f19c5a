// Package classify 外部响应体的成败分类
//
// 纯函数：字符串进、Outcome 出，无网络和并发依赖。
// 规则按顺序匹配（先命中先生效）：
//  1. 登录端点错误页（Cannot POST）
//  2. 登录页标记（凭据错误或会话过期）
//  3. 被退回输入表单（目标未被处理）
//  4. info 区块字段提取 + 关键词判定
//  5. 小写全文的正则兜底提取
//  6. 无法识别 → Parse Error 失败结果（不会崩溃）
package classify

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"dispatch-admin/internal/model"
)

// 判定 Status/Info 字段成败的关键词表（匹配远端返回的印尼语/英语混合文案）
var (
	successKeywords = []string{"s u c c e s", "success", "berhasil", "sukses", "execution", "sent", "delivered", "terkirim", "berjalan"}
	failureKeywords = []string{"gagal", "failed", "error", "limit", "tidak valid", "invalid"}
	successMarkers  = []string{"✅", "🧬", "⚡"}
)

var (
	cannotPostRe   = regexp.MustCompile(`Cannot POST (/\S+)`)
	fallbackTarget = regexp.MustCompile(`target:\s*(\+?\d+)`)
	fallbackStatus = regexp.MustCompile(`status:\s*([^\n<]+)`)
	fallbackInfo   = regexp.MustCompile(`info:\s*([^\n<]+)`)
)

// Classify 将原始响应体分类为 Outcome
//
// fallback 为提交的目标标识，在响应中提取不到 Target 字段时回填。
func Classify(body, fallback string) model.Outcome {
	// 规则 1：登录端点不存在或方法不对
	if strings.Contains(body, "Cannot POST /") && strings.Contains(body, "<title>Error</title>") {
		path := "unknown path"
		if m := cannotPostRe.FindStringSubmatch(body); m != nil {
			path = m[1]
		}
		return model.Outcome{
			Success: false,
			Message: "API login failed: endpoint (" + path + ") not found or wrong method",
			Status:  "API Login Endpoint Error",
			Target:  fallback,
			Info:    "login endpoint (" + path + ") missing or does not accept POST",
		}
	}

	// 规则 2：仍停留在登录页
	if strings.Contains(body, "<title>HASCLAW API Login</title>") || strings.Contains(body, "Login akun anda") {
		return model.Outcome{
			Success: false,
			Message: "API login failed: wrong credentials or expired session",
			Status:  "Authentication Required",
			Target:  fallback,
			Info:    "API requires login; credentials may be wrong or the session has expired",
		}
	}

	// 规则 3：被退回目标输入表单，目标可能未被处理
	isFormPage := strings.Contains(body, "Travas Andros Execution") &&
		(strings.Contains(body, "Info: Masukkan nomor target") || strings.Contains(body, "Masukkan nomor target (62xxxx)"))
	isNotResult := strings.Contains(body, "Status: Server ON") &&
		!(strings.Contains(body, "Status: S U C C E S !!") || strings.Contains(body, `<div class="info">`))
	if isFormPage && isNotResult {
		return model.Outcome{
			Success: false,
			Message: "API error: input form returned, target may not have been processed",
			Status:  "API Returned Input Form",
			Target:  fallback,
			Info:    "API returned the target input form instead of an execution result",
		}
	}

	// 规则 4：info 区块字段提取
	doc, err := html.Parse(strings.NewReader(body))
	if err == nil {
		if out, ok := classifyInfoDiv(doc, fallback); ok {
			return out
		}
	}

	// 规则 5：小写全文兜底
	lower := strings.ToLower(body)
	if strings.Contains(lower, "s u c c e s !!") ||
		(strings.Contains(lower, "hasclaw execution target") && strings.Contains(lower, "status:") && strings.Contains(lower, "target:")) {
		target := fallback
		if m := fallbackTarget.FindStringSubmatch(lower); m != nil {
			target = strings.TrimSpace(m[1])
		}
		status := "Execution Success (Fallback)"
		if m := fallbackStatus.FindStringSubmatch(lower); m != nil {
			status = strings.ToUpper(strings.TrimSpace(m[1]))
		}
		info := "request processed (fallback detection)"
		if m := fallbackInfo.FindStringSubmatch(lower); m != nil {
			info = strings.TrimSpace(m[1])
		}
		return model.Outcome{
			Success: true,
			Message: "Status: " + status + ", Info: " + info,
			Status:  status,
			Target:  target,
			Info:    info,
		}
	}

	// 规则 6：格式无法识别
	return model.Outcome{
		Success: false,
		Message: "parse failed: unrecognized API response format",
		Status:  "Parse Error",
		Target:  fallback,
		Info:    "could not extract status information from the API response",
	}
}

// classifyInfoDiv 提取 <div class="info"> 中的字段并判定成败
func classifyInfoDiv(doc *html.Node, fallback string) (model.Outcome, bool) {
	infoDiv := findByClass(doc, "div", "info")
	if infoDiv == nil {
		return model.Outcome{}, false
	}

	var status, target, info, waktu string
	for _, p := range findAll(infoDiv, "p") {
		text := nodeText(p)
		switch {
		case strings.Contains(text, "Status:"):
			status = strings.TrimSpace(splitAfter(text, "Status:"))
		case strings.Contains(text, "Target:"):
			target = strings.TrimSpace(splitAfter(text, "Target:"))
		case strings.Contains(text, "Info:"):
			info = strings.TrimSpace(splitAfter(text, "Info:"))
		case strings.Contains(text, "Waktu:"):
			waktu = strings.TrimSpace(splitAfter(text, "Waktu:"))
		}
	}

	success := false
	if status != "" {
		statusLower := strings.ToLower(status)
		if containsAny(statusLower, successKeywords) && !containsAny(statusLower, failureKeywords) {
			success = true
		}
		if containsAny(status, successMarkers) {
			success = true
		}
	}

	if !success && info != "" {
		infoLower := strings.ToLower(info)
		positive := strings.Contains(infoLower, "execution") || strings.Contains(infoLower, "hasclaw") ||
			strings.Contains(infoLower, "travas") || strings.Contains(infoLower, "berhasil") ||
			strings.Contains(infoLower, "sukses")
		if positive && !containsAny(infoLower, failureKeywords) {
			success = true
		}
	}

	if !success && status != "" && target != "" {
		if title := findAll(doc, "title"); len(title) > 0 {
			titleText := nodeText(title[0])
			if strings.Contains(titleText, "FreezeDroid API") || strings.Contains(titleText, "Execution Result") {
				success = true
			}
		}
	}

	if target == "" {
		target = fallback
	}
	return model.Outcome{
		Success: success,
		Message: "Status: " + orNA(status) + ", Info: " + orNA(info),
		Status:  status,
		Target:  target,
		Info:    info,
		Time:    waktu,
	}, true
}

// ============================================================================
// HTML 遍历辅助
// ============================================================================

func findByClass(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		for _, attr := range n.Attr {
			if attr.Key == "class" && hasClass(attr.Val, class) {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(attr, class string) bool {
	for _, c := range strings.Fields(attr) {
		if c == class {
			return true
		}
	}
	return false
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	if n.Type == html.ElementNode && n.Data == tag {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, findAll(c, tag)...)
	}
	return out
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func splitAfter(s, sep string) string {
	_, after, _ := strings.Cut(s, sep)
	return after
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
