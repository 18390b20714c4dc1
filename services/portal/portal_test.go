package portal

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// fakeRequester 回放预设响应并记录每次调用
type fakeRequester struct {
	calls     []fakeCall
	responses []*transport.Response
	errs      []error
}

type fakeCall struct {
	method string
	urls   []string
	body   map[string]interface{}
}

func (f *fakeRequester) Request(ctx context.Context, method string, urls []string, body map[string]interface{}, apiKey string) (*transport.Response, error) {
	f.calls = append(f.calls, fakeCall{method: method, urls: urls, body: body})
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	return f.responses[idx], err
}

func jsonBody(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestAdapter(cfg Config, tp transport.Requester) *Adapter {
	a := New(tp, cfg)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestBuildInviteBodyDefaults(t *testing.T) {
	a := newTestAdapter(Config{
		BaseURL:             "https://wizarr.test",
		DefaultDurationDays: 30,
		DefaultProfile:      "standard",
		DefaultLibraries:    []string{"电影", "剧集", "电影"},
		DefaultServerIDs:    []string{"srv-1", "srv-2"},
	}, nil)

	body, err := a.buildInviteBody(CreateInviteRequest{Email: "user@example.com"})
	require.NoError(t, err)

	// 未指定 unlimited 时默认单次使用
	assert.Equal(t, false, body["unlimited"])
	assert.Equal(t, 1, body["max_uses"])

	// 没有任何过期候选时用 defaultDurationDays，两个时间戳取同值
	assert.Equal(t, "2026-03-31T12:00:00Z", body["duration_at"])
	assert.Equal(t, body["duration_at"], body["expires_at"])

	assert.Equal(t, "standard", body["profile"])
	assert.Equal(t, []string{"电影", "剧集"}, body["libraries"])

	// 服务器偏好：server 取首个，server_ids 全量
	assert.Equal(t, "srv-1", body["server"])
	assert.Equal(t, []string{"srv-1", "srv-2"}, body["server_ids"])
	assert.Equal(t, "user@example.com", body["email"])
}

func TestBuildInviteBodyUnlimitedOmitsMaxUses(t *testing.T) {
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, nil)

	body, err := a.buildInviteBody(CreateInviteRequest{Unlimited: true})
	require.NoError(t, err)

	assert.Equal(t, true, body["unlimited"])
	_, present := body["max_uses"]
	assert.False(t, present, "unlimited 时不应出现 max_uses")
}

func TestBuildInviteBodyExpiryMirroring(t *testing.T) {
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, nil)

	// 只给了 expires_in_days，duration_at 取相同值
	body, err := a.buildInviteBody(CreateInviteRequest{ExpiresInDays: 7})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-08T12:00:00Z", body["expires_at"])
	assert.Equal(t, body["expires_at"], body["duration_at"])

	// 嵌套 invitation 里的绝对时间优先于天数
	body, err = a.buildInviteBody(CreateInviteRequest{
		ExpiresInDays: 7,
		Invitation:    map[string]interface{}{"expires_at": "2026-06-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01T00:00:00Z", body["expires_at"])
}

func TestBuildInviteBodyCallerCodeSanitized(t *testing.T) {
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, nil)

	body, err := a.buildInviteBody(CreateInviteRequest{Code: "  my  invite\tcode "})
	require.NoError(t, err)
	assert.Equal(t, "my-invite-code", body["code"])
}

func TestGenerateCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{10}$`)
	for i := 0; i < 20; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
	}
}

func TestCreateInviteServerSelectionSingleRetries(t *testing.T) {
	tp := &fakeRequester{responses: []*transport.Response{
		{
			Status: 400,
			URL:    "https://wizarr.test/api/v1/invitations",
			Body: jsonBody(t, map[string]interface{}{
				"available_servers": []interface{}{
					map[string]interface{}{"id": float64(1), "name": "Main", "server_type": "plex", "identifier": "srv-abc"},
				},
			}),
		},
		{
			Status: 200,
			URL:    "https://wizarr.test/api/v1/invitations",
			Body:   jsonBody(t, map[string]interface{}{"code": "ABCDEFGH12", "url": "https://wizarr.test/j/ABCDEFGH12"}),
		},
	}}
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, tp)

	result, err := a.CreateInvite(context.Background(), CreateInviteRequest{Email: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGH12", result.InviteCode)

	require.Len(t, tp.calls, 2)
	// 重试只打胜出的那个地址，并带上门户指定的服务器
	assert.Equal(t, []string{"https://wizarr.test/api/v1/invitations"}, tp.calls[1].urls)
	assert.Equal(t, "srv-abc", tp.calls[1].body["server"])
}

func TestCreateInviteServerSelectionMultipleFails(t *testing.T) {
	tp := &fakeRequester{responses: []*transport.Response{
		{
			Status: 422,
			URL:    "https://wizarr.test/api/v1/invitations",
			Body: jsonBody(t, map[string]interface{}{
				"available_servers": []interface{}{
					map[string]interface{}{"id": float64(1), "name": "A", "server_type": "plex"},
					map[string]interface{}{"id": float64(2), "name": "B", "server_type": "jellyfin"},
				},
			}),
		},
	}}
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, tp)

	_, err := a.CreateInvite(context.Background(), CreateInviteRequest{})
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindServerSelectionRequired))

	ae, ok := transport.AsAdapterError(err)
	require.True(t, ok)
	servers, ok := ae.Details["available_servers"].([]ServerOption)
	require.True(t, ok)
	require.Len(t, servers, 2)
	assert.Equal(t, "A", servers[0].Name)
	assert.Equal(t, "jellyfin", servers[1].Type)

	// 多个候选时不重试
	assert.Len(t, tp.calls, 1)
}

func TestCreateInviteUnauthorized(t *testing.T) {
	tp := &fakeRequester{responses: []*transport.Response{
		{Status: 401, URL: "https://wizarr.test/api/v1/invitations", Body: []byte(`{}`)},
	}}
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, tp)

	_, err := a.CreateInvite(context.Background(), CreateInviteRequest{})
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindUnauthorized))
}

func TestRevokeInviteAllGoneIsSuccess(t *testing.T) {
	tp := &fakeRequester{
		responses: []*transport.Response{nil},
		errs: []error{&transport.Error{
			Message: "所有候选地址都未成功",
			Attempts: []transport.Attempt{
				{URL: "https://wizarr.test/api/v1/invitations/CODE", Status: 404},
				{URL: "https://wizarr.test/api/invites/CODE", Status: 405},
				{URL: "https://wizarr.test/api/invitations/CODE", Status: 410},
			},
		}},
	}
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, tp)

	// 门户上已不存在的邀请，撤销按幂等语义算成功
	err := a.RevokeInvite(context.Background(), "CODE")
	assert.NoError(t, err)
}

func TestRevokeInviteNetworkFailure(t *testing.T) {
	tp := &fakeRequester{
		responses: []*transport.Response{nil},
		errs: []error{&transport.Error{
			Message: "所有候选地址都未成功",
			Attempts: []transport.Attempt{
				{URL: "https://wizarr.test/api/v1/invitations/CODE", Err: "connection refused"},
			},
		}},
	}
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test"}, tp)

	err := a.RevokeInvite(context.Background(), "CODE")
	require.Error(t, err)
	assert.True(t, transport.IsKind(err, ErrKindUnreachable))
}

func TestNormalizeCreateResponseSynthesizesURL(t *testing.T) {
	a := newTestAdapter(Config{BaseURL: "https://wizarr.test/api/v1"}, nil)

	// 响应缺 url 时用站点源 + /j/{code} 合成
	result := a.normalizeCreateResponse(map[string]interface{}{"code": "XYZ987WQ00"})
	assert.Equal(t, "XYZ987WQ00", result.InviteCode)
	assert.Equal(t, "https://wizarr.test/j/XYZ987WQ00", result.InviteURL)

	// 嵌套 invitation 对象也能解出来
	result = a.normalizeCreateResponse(map[string]interface{}{
		"invitation": map[string]interface{}{"code": "NESTED1234", "url": "https://wizarr.test/j/NESTED1234"},
	})
	assert.Equal(t, "NESTED1234", result.InviteCode)
	assert.Equal(t, "https://wizarr.test/j/NESTED1234", result.InviteURL)

	// 数值 id 兜底为邀请码
	result = a.normalizeCreateResponse(map[string]interface{}{"id": float64(42)})
	assert.Equal(t, "42", result.InviteCode)
}
