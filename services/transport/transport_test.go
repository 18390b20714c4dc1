package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

// scriptedDoer 按请求序号回放预设响应，并记录每个到达的请求
type scriptedDoer struct {
	requests  []*http.Request
	bodies    []string
	responses []func(req *http.Request) (*http.Response, error)
}

func (d *scriptedDoer) do(req *http.Request) (*http.Response, error) {
	body := ""
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	d.requests = append(d.requests, req)
	d.bodies = append(d.bodies, body)

	idx := len(d.requests) - 1
	if idx >= len(d.responses) {
		idx = len(d.responses) - 1
	}
	return d.responses[idx](req)
}

func jsonResponse(status int, body string) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		return &http.Response{
			StatusCode: status,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func TestRequestAuthNegotiationOrder(t *testing.T) {
	// 前两种认证方式被 401 拒绝，第三种（Bearer）成功
	doer := &scriptedDoer{responses: []func(req *http.Request) (*http.Response, error){
		jsonResponse(401, `{}`),
		jsonResponse(401, `{}`),
		jsonResponse(200, `{"ok":true}`),
	}}
	client := NewClientWithDoer(doer.do)

	resp, err := client.Request(context.Background(), "GET",
		[]string{"http://portal/api/v1/invitations"}, nil, "secret")
	if err != nil {
		t.Fatalf("期望成功，得到错误: %v", err)
	}
	if !resp.IsOK() {
		t.Fatalf("期望 2xx，得到 %d", resp.Status)
	}

	if got := doer.requests[0].Header.Get("X-API-KEY"); got != "secret" {
		t.Errorf("第一次尝试应使用 X-API-KEY，得到 %q", got)
	}
	if got := doer.requests[1].Header.Get("X-Api-Key"); got != "secret" {
		t.Errorf("第二次尝试应使用 X-Api-Key，得到 %q", got)
	}
	if got := doer.requests[2].Header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("第三次尝试应使用 Bearer，得到 %q", got)
	}
	if len(resp.Attempts) != 3 {
		t.Errorf("期望记录 3 次尝试，得到 %d", len(resp.Attempts))
	}
}

func TestRequestAllStrategiesDeniedStopsImmediately(t *testing.T) {
	doer := &scriptedDoer{responses: []func(req *http.Request) (*http.Response, error){
		jsonResponse(401, `{"error":"bad key"}`),
	}}
	client := NewClientWithDoer(doer.do)

	resp, err := client.Request(context.Background(), "GET",
		[]string{"http://portal/api/v1/invitations", "http://portal/api/invites"}, nil, "secret")
	if err != nil {
		t.Fatalf("401 穷尽应返回响应而不是错误: %v", err)
	}
	if resp.Status != 401 {
		t.Fatalf("期望 401，得到 %d", resp.Status)
	}

	// 六种认证方式都试过后不再尝试第二个地址
	if len(doer.requests) != 6 {
		t.Errorf("期望 6 次请求（单地址穷尽认证），得到 %d", len(doer.requests))
	}
	for _, req := range doer.requests {
		if !strings.HasPrefix(req.URL.String(), "http://portal/api/v1/invitations") {
			t.Errorf("不应尝试第二个地址: %s", req.URL)
		}
	}
}

func TestRequestQueryAuthIsLastAndNeverCombined(t *testing.T) {
	doer := &scriptedDoer{responses: []func(req *http.Request) (*http.Response, error){
		jsonResponse(401, `{}`),
		jsonResponse(401, `{}`),
		jsonResponse(401, `{}`),
		jsonResponse(401, `{}`),
		jsonResponse(401, `{}`),
		jsonResponse(200, `{}`),
	}}
	client := NewClientWithDoer(doer.do)

	resp, err := client.Request(context.Background(), "GET",
		[]string{"http://portal/api/invites"}, nil, "secret")
	if err != nil || !resp.IsOK() {
		t.Fatalf("期望最后的 query 方式成功: err=%v", err)
	}

	last := doer.requests[len(doer.requests)-1]
	if got := last.URL.Query().Get("api_key"); got != "secret" {
		t.Errorf("最后一次尝试应带 api_key 查询参数，得到 %q", got)
	}
	if got := last.Header.Get("Authorization"); got != "" {
		t.Errorf("query 方式不应再带 Authorization 头，得到 %q", got)
	}
	if got := last.Header.Get("X-API-KEY"); got != "" {
		t.Errorf("query 方式不应再带 X-API-KEY 头，得到 %q", got)
	}
}

func TestRequestPathFallbackOn404(t *testing.T) {
	doer := &scriptedDoer{responses: []func(req *http.Request) (*http.Response, error){
		jsonResponse(404, `{}`),
		jsonResponse(200, `{"ok":true}`),
	}}
	client := NewClientWithDoer(doer.do)

	resp, err := client.Request(context.Background(), "GET",
		[]string{"http://portal/api/v1/invitations", "http://portal/api/invites"}, nil, "secret")
	if err != nil {
		t.Fatalf("期望成功: %v", err)
	}
	if resp.URL != "http://portal/api/invites" {
		t.Errorf("期望第二个地址胜出，得到 %s", resp.URL)
	}
	if len(resp.Attempts) != 2 {
		t.Errorf("期望 2 次尝试，得到 %d", len(resp.Attempts))
	}
}

func TestRequestFormRetryOn415(t *testing.T) {
	doer := &scriptedDoer{responses: []func(req *http.Request) (*http.Response, error){
		jsonResponse(415, `{"error":"unsupported"}`),
		jsonResponse(200, `{"ok":true}`),
	}}
	client := NewClientWithDoer(doer.do)

	body := map[string]interface{}{"code": "ABC123XYZ0", "unlimited": false}
	resp, err := client.Request(context.Background(), "POST",
		[]string{"http://portal/api/invites"}, body, "secret")
	if err != nil || !resp.IsOK() {
		t.Fatalf("期望表单重试成功: err=%v", err)
	}

	if got := doer.requests[0].Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("首次请求应为 JSON，得到 %q", got)
	}
	if got := doer.requests[1].Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
		t.Errorf("重试应为表单编码，得到 %q", got)
	}
	if !strings.Contains(doer.bodies[1], "code=ABC123XYZ0") {
		t.Errorf("表单体应包含 code 字段: %s", doer.bodies[1])
	}
	// 重试沿用同一个地址
	if doer.requests[1].URL.Path != doer.requests[0].URL.Path {
		t.Errorf("415 重试不应换地址: %s vs %s", doer.requests[1].URL, doer.requests[0].URL)
	}
}

func TestRequestNetworkErrorAdvances(t *testing.T) {
	calls := 0
	client := NewClientWithDoer(func(req *http.Request) (*http.Response, error) {
		calls++
		if strings.Contains(req.URL.Host, "dead") {
			return nil, errors.New("connection refused")
		}
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		return &http.Response{
			StatusCode: 200,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
		}, nil
	})

	resp, err := client.Request(context.Background(), "GET",
		[]string{"http://dead-host/api", "http://live-host/api"}, nil, "secret")
	if err != nil || !resp.IsOK() {
		t.Fatalf("期望换地址后成功: err=%v", err)
	}
	if resp.URL != "http://live-host/api" {
		t.Errorf("期望第二个地址胜出，得到 %s", resp.URL)
	}
	// 第一个地址的每种认证方式各计一次网络错误尝试
	if len(resp.Attempts) != len(authStrategies)+1 {
		t.Errorf("期望 %d 次尝试，得到 %d", len(authStrategies)+1, len(resp.Attempts))
	}
}

func TestRequestAllExhaustedReturnsError(t *testing.T) {
	client := NewClientWithDoer(func(req *http.Request) (*http.Response, error) {
		header := http.Header{}
		return &http.Response{
			StatusCode: 404,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(``)),
		}, nil
	})

	_, err := client.Request(context.Background(), "GET",
		[]string{"http://portal/a", "http://portal/b"}, nil, "secret")
	if err == nil {
		t.Fatal("所有地址 404 应返回错误")
	}

	var terminal *Error
	if !errors.As(err, &terminal) {
		t.Fatalf("期望 *transport.Error，得到 %T", err)
	}
	if len(terminal.Attempts) != 2 {
		t.Errorf("期望错误里带 2 次尝试，得到 %d", len(terminal.Attempts))
	}
	if !strings.Contains(terminal.Error(), "http://portal/a") {
		t.Errorf("错误消息应包含尝试过的地址: %s", terminal.Error())
	}
}

func TestResponseLooksLikeHTML(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"json", "application/json", `{"a":1}`, false},
		{"html content-type", "text/html; charset=utf-8", "oops", true},
		{"doctype body", "text/plain", "<!DOCTYPE html><html>", true},
		{"html tag body", "", "  <html><body>502</body></html>", true},
		{"plain text", "text/plain", "service down", false},
	}

	for _, tc := range cases {
		header := http.Header{}
		if tc.contentType != "" {
			header.Set("Content-Type", tc.contentType)
		}
		resp := &Response{Header: header, Body: []byte(tc.body)}
		if got := resp.LooksLikeHTML(); got != tc.want {
			t.Errorf("%s: LooksLikeHTML = %v, 期望 %v", tc.name, got, tc.want)
		}
	}
}
