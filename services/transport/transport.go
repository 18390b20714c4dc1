package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthStrategy 外部服务的认证方式。不同版本的 Wizarr/Plex 接口
// 对 API Key 的接受方式不一致，只能按固定顺序逐个尝试。
type AuthStrategy string

const (
	AuthHeaderXAPIKeyUpper AuthStrategy = "header:X-API-KEY"
	AuthHeaderXApiKey      AuthStrategy = "header:X-Api-Key"
	AuthHeaderBearer       AuthStrategy = "header:bearer"
	AuthHeaderToken        AuthStrategy = "header:token"
	AuthHeaderRaw          AuthStrategy = "header:authorization"
	AuthQueryAPIKey        AuthStrategy = "query:api_key"
)

// 认证方式的固定尝试顺序。query 参数永远是最后手段，
// 且不会与任何 header 方式组合使用。
var authStrategies = []AuthStrategy{
	AuthHeaderXAPIKeyUpper,
	AuthHeaderXApiKey,
	AuthHeaderBearer,
	AuthHeaderToken,
	AuthHeaderRaw,
	AuthQueryAPIKey,
}

// BodyFormat 请求体编码格式
type BodyFormat string

const (
	FormatNone BodyFormat = ""
	FormatJSON BodyFormat = "json"
	FormatForm BodyFormat = "form"
)

// Attempt 单次请求尝试的记录，终态失败信息里会带上全部尝试列表
type Attempt struct {
	URL      string       `json:"url"`
	Strategy AuthStrategy `json:"strategy"`
	Format   BodyFormat   `json:"format"`
	Status   int          `json:"status"`
	Err      string       `json:"error,omitempty"`
}

// Response 归一化后的响应
type Response struct {
	Status   int
	Body     []byte
	Header   http.Header
	URL      string
	Attempts []Attempt

	// 胜出的认证方式，415 表单重试时沿用
	winner AuthStrategy
}

// IsOK 2xx 即视为成功
func (r *Response) IsOK() bool {
	return r.Status >= 200 && r.Status < 300
}

// JSON 尝试把响应体解析为 JSON 对象，失败返回 nil
func (r *Response) JSON() map[string]interface{} {
	var out map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(r.Body), &out); err != nil {
		return nil
	}
	return out
}

// LooksLikeHTML 响应体是否是 HTML 错误页（此时不向用户透传内容）
func (r *Response) LooksLikeHTML() bool {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(ct), "text/html") {
		return true
	}
	body := strings.TrimSpace(strings.ToLower(string(r.Body)))
	return strings.HasPrefix(body, "<!doctype") || strings.HasPrefix(body, "<html")
}

// Error 传输层的终态错误：所有候选地址都不可达
type Error struct {
	Message  string
	Attempts []Attempt
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, FormatAttempts(e.Attempts))
}

// FormatAttempts 把尝试列表拼成一行，便于写进日志和错误消息
func FormatAttempts(attempts []Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		s := fmt.Sprintf("%s %s [%s]", a.URL, a.Strategy, a.Format)
		if a.Err != "" {
			s += " => " + a.Err
		} else {
			s += fmt.Sprintf(" => %d", a.Status)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// Requester 传输层的唯一入口，测试时整体替换
type Requester interface {
	Request(ctx context.Context, method string, urls []string, body map[string]interface{}, apiKey string) (*Response, error)
}

// Client 默认的传输层实现
type Client struct {
	httpClient *http.Client
	// 测试时注入，替换底层的单次请求
	do func(req *http.Request) (*http.Response, error)
}

// DefaultTimeout 单次外呼的墙钟超时上限
const DefaultTimeout = 20 * time.Second

// NewClient 创建传输层客户端，timeout 为 0 时取默认值
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{httpClient: &http.Client{Timeout: timeout}}
	c.do = c.httpClient.Do
	return c
}

// NewClientWithDoer 测试用：注入底层请求函数
func NewClientWithDoer(do func(req *http.Request) (*http.Response, error)) *Client {
	return &Client{do: do}
}

// Request 对候选地址列表依次发起请求：
//  1. 对同一地址按固定顺序协商认证方式，遇到非 401/403 即停止；
//     若全部 401/403，直接把最后一个这样的响应返回给调用方，不再尝试后续地址。
//  2. 404/405 表示"不是这个路径"，换下一个候选地址；
//     415 且响应体是 JSON 时，用表单编码对同一地址重试一次；
//     其余响应原样返回。
//  3. 网络错误计一次尝试，换下一个认证方式/地址，传输层自身不做重试。
func (c *Client) Request(ctx context.Context, method string, urls []string, body map[string]interface{}, apiKey string) (*Response, error) {
	var attempts []Attempt

	for _, candidate := range urls {
		resp, done := c.tryPath(ctx, method, candidate, body, apiKey, &attempts)
		if done {
			resp.Attempts = attempts
			return resp, nil
		}
	}

	return nil, &Error{
		Message:  fmt.Sprintf("所有候选地址均不可用: %s %s", method, strings.Join(urls, ", ")),
		Attempts: attempts,
	}
}

// tryPath 对单个候选地址完成认证协商和 415 重试。
// 返回 done=true 表示该响应应交给调用方（包括 401/403 穷尽的情况）。
func (c *Client) tryPath(ctx context.Context, method, candidate string, body map[string]interface{}, apiKey string, attempts *[]Attempt) (*Response, bool) {
	format := FormatJSON
	if body == nil {
		format = FormatNone
	}

	resp := c.negotiateAuth(ctx, method, candidate, body, format, apiKey, attempts)
	if resp == nil {
		// 全部认证方式都遇到网络错误，换下一个地址
		return nil, false
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		// 认证方式穷尽，按规范不再尝试后续地址
		return resp, true
	}

	if resp.Status == http.StatusNotFound || resp.Status == http.StatusMethodNotAllowed {
		return nil, false
	}

	if resp.Status == http.StatusUnsupportedMediaType && format == FormatJSON {
		// 老版本接口只认表单编码，对同一地址重试一次
		retry := c.attemptOnce(ctx, method, candidate, body, FormatForm, resp.winner, apiKey, attempts)
		if retry == nil {
			return nil, false
		}
		if retry.Status == http.StatusNotFound || retry.Status == http.StatusMethodNotAllowed {
			return nil, false
		}
		return retry, true
	}

	return resp, true
}

// negotiateAuth 对同一地址按顺序尝试每种认证方式。
// 返回 nil 表示所有方式都因网络错误失败。
func (c *Client) negotiateAuth(ctx context.Context, method, candidate string, body map[string]interface{}, format BodyFormat, apiKey string, attempts *[]Attempt) *Response {
	var lastDenied *Response

	for _, strategy := range authStrategies {
		resp := c.attemptOnce(ctx, method, candidate, body, format, strategy, apiKey, attempts)
		if resp == nil {
			continue
		}
		if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
			lastDenied = resp
			continue
		}
		return resp
	}

	return lastDenied
}

// attemptOnce 发出一次请求并记录尝试，网络错误时返回 nil
func (c *Client) attemptOnce(ctx context.Context, method, candidate string, body map[string]interface{}, format BodyFormat, strategy AuthStrategy, apiKey string, attempts *[]Attempt) *Response {
	reqURL := candidate
	if strategy == AuthQueryAPIKey && apiKey != "" {
		reqURL = AppendQueryParam(reqURL, "api_key", apiKey)
	}

	var reader io.Reader
	contentType := ""
	switch format {
	case FormatJSON:
		encoded, err := json.Marshal(body)
		if err != nil {
			*attempts = append(*attempts, Attempt{URL: reqURL, Strategy: strategy, Format: format, Err: err.Error()})
			return nil
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	case FormatForm:
		reader = strings.NewReader(encodeForm(body))
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		*attempts = append(*attempts, Attempt{URL: reqURL, Strategy: strategy, Format: format, Err: err.Error()})
		return nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	applyAuth(req, strategy, apiKey)

	httpResp, err := c.do(req)
	if err != nil {
		*attempts = append(*attempts, Attempt{URL: reqURL, Strategy: strategy, Format: format, Err: err.Error()})
		return nil
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		*attempts = append(*attempts, Attempt{URL: reqURL, Strategy: strategy, Format: format, Status: httpResp.StatusCode, Err: err.Error()})
		return nil
	}

	*attempts = append(*attempts, Attempt{URL: reqURL, Strategy: strategy, Format: format, Status: httpResp.StatusCode})
	return &Response{
		Status: httpResp.StatusCode,
		Body:   respBody,
		Header: httpResp.Header,
		URL:    reqURL,
		winner: strategy,
	}
}

// applyAuth 按策略设置认证信息，header 和 query 永不同时出现
func applyAuth(req *http.Request, strategy AuthStrategy, apiKey string) {
	if apiKey == "" {
		return
	}
	switch strategy {
	case AuthHeaderXAPIKeyUpper:
		req.Header.Set("X-API-KEY", apiKey)
	case AuthHeaderXApiKey:
		req.Header.Set("X-Api-Key", apiKey)
	case AuthHeaderBearer:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	case AuthHeaderToken:
		req.Header.Set("Authorization", "Token "+apiKey)
	case AuthHeaderRaw:
		req.Header.Set("Authorization", apiKey)
	case AuthQueryAPIKey:
		// 已在 URL 上追加
	}
}

// encodeForm 把请求体编码为表单。切片展开为重复键，其余值用 fmt.Sprint。
func encodeForm(body map[string]interface{}) string {
	values := url.Values{}
	for key, val := range body {
		switch v := val.(type) {
		case []string:
			for _, item := range v {
				values.Add(key, item)
			}
		case []interface{}:
			for _, item := range v {
				values.Add(key, fmt.Sprint(item))
			}
		default:
			values.Set(key, fmt.Sprint(v))
		}
	}
	return values.Encode()
}

// AppendQueryParam 在 URL 上追加查询参数
func AppendQueryParam(rawURL, key, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
