package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// 门户适配器错误 kind
const (
	ErrKindUnreachable             = "PortalUnreachable"
	ErrKindUnauthorized            = "PortalUnauthorized"
	ErrKindServerSelectionRequired = "PortalServerSelectionRequired"
	ErrKindRequestFailed           = "PortalRequestFailed"
)

// 不同版本 Wizarr 的路由前缀不一致，只能按序探测。
// 撤销只用基础集合，创建在每个基础路径后再补一个 /create 变体。
var inviteBases = []string{
	"/api/v1/invitations",
	"/api/v1/invites",
	"/api/invites",
	"/api/invitations",
	"/api/v2/invitations",
	"/api/v2/invites",
	"/api/v1/admin/invitations",
	"/api/admin/invitations",
}

// Config 门户配置（来自 settings 的 portal 组）
type Config struct {
	BaseURL             string
	APIKey              string
	DefaultDurationDays int
	DefaultServerIDs    []string
	DefaultProfile      string
	DefaultLibraries    []string
	InvitePath          string // 合成邀请链接用的路径段，默认 "j"
}

// ServerOption 门户可用的后端服务器，server-selection 失败时带给管理员
type ServerOption struct {
	ID         interface{} `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Identifier string      `json:"identifier,omitempty"`
}

// CreateInviteResult 归一化后的创建结果
type CreateInviteResult struct {
	InviteCode string                 `json:"invite_code"`
	InviteURL  string                 `json:"invite_url"`
	Raw        map[string]interface{} `json:"raw"`
}

// VerifyResult 连通性检查结果
type VerifyResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Adapter Wizarr 门户适配器
type Adapter struct {
	tp  transport.Requester
	cfg Config
	now func() time.Time
}

// New 创建门户适配器
func New(tp transport.Requester, cfg Config) *Adapter {
	if cfg.InvitePath == "" {
		cfg.InvitePath = "j"
	}
	return &Adapter{tp: tp, cfg: cfg, now: time.Now}
}

// createCandidates 创建邀请的候选地址（基础路径 + /create 变体）
func (a *Adapter) createCandidates() []string {
	urls := make([]string, 0, len(inviteBases)*2)
	for _, base := range inviteBases {
		urls = append(urls,
			transport.JoinBaseAndPath(a.cfg.BaseURL, base),
			transport.JoinBaseAndPath(a.cfg.BaseURL, base+"/create"),
		)
	}
	return urls
}

// revokeCandidates 撤销邀请的候选地址（仅基础集合 + /{code}）
func (a *Adapter) revokeCandidates(code string) []string {
	urls := make([]string, 0, len(inviteBases))
	for _, base := range inviteBases {
		urls = append(urls, transport.JoinBaseAndPath(a.cfg.BaseURL, base+"/"+url.PathEscape(code)))
	}
	return urls
}

// CreateInvite 在门户上创建一条邀请。
// 服务器选择协议：首次请求带上偏好列表；门户若以 400/422 返回
// available_servers，只有一个候选时用它重试一次，多于一个则报
// PortalServerSelectionRequired 交管理员决定。
func (a *Adapter) CreateInvite(ctx context.Context, req CreateInviteRequest) (*CreateInviteResult, error) {
	body, err := a.buildInviteBody(req)
	if err != nil {
		return nil, transport.NewAdapterError(ErrKindRequestFailed, err.Error())
	}

	resp, err := a.tp.Request(ctx, http.MethodPost, a.createCandidates(), body, a.cfg.APIKey)
	if err != nil {
		return nil, wrapUnreachable(err)
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, transport.NewAdapterError(ErrKindUnauthorized, "门户拒绝了所有认证方式").
			WithStatus(resp.Status).
			WithDetail("attempts", resp.Attempts)
	}

	if resp.Status == http.StatusBadRequest || resp.Status == http.StatusUnprocessableEntity {
		offered := extractAvailableServers(resp.JSON())
		if len(offered) == 1 {
			// 门户只提供了一个服务器，按协议用它重试一次
			body["server"] = serverRetryValue(offered[0])
			body["server_ids"] = []string{fmt.Sprint(serverRetryValue(offered[0]))}
			retry, rerr := a.tp.Request(ctx, http.MethodPost, []string{resp.URL}, body, a.cfg.APIKey)
			if rerr != nil {
				return nil, wrapUnreachable(rerr)
			}
			resp = retry
		} else if len(offered) > 1 {
			e := transport.NewAdapterError(ErrKindServerSelectionRequired,
				"门户要求选择 server，请在后台 portal 设置 defaultServerIds 中指定一个").
				WithStatus(resp.Status).
				WithDetail("available_servers", offered)
			return nil, e
		}
	}

	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}

	return a.normalizeCreateResponse(resp.JSON()), nil
}

// RevokeInvite 撤销一条邀请。撤销是幂等的：邀请已不存在视为成功。
func (a *Adapter) RevokeInvite(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return transport.NewAdapterError(ErrKindRequestFailed, "邀请码不能为空")
	}

	resp, err := a.tp.Request(ctx, http.MethodDelete, a.revokeCandidates(code), nil, a.cfg.APIKey)
	if err != nil {
		// 所有候选地址都返回 404 说明邀请已经不在了，按幂等语义算成功
		if te, ok := err.(*transport.Error); ok && allGone(te.Attempts) {
			return nil
		}
		return wrapUnreachable(err)
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return transport.NewAdapterError(ErrKindUnauthorized, "门户拒绝了所有认证方式").
			WithStatus(resp.Status)
	}
	if resp.IsOK() || resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
		return nil
	}
	return requestFailed(resp)
}

// VerifyConnection 连通性检查。400/422 说明认证通过、参数校验按预期拒绝，
// 报告为成功；401/403 才是硬失败。
func (a *Adapter) VerifyConnection(ctx context.Context) *VerifyResult {
	resp, err := a.tp.Request(ctx, http.MethodPost, a.createCandidates(), map[string]interface{}{}, a.cfg.APIKey)
	if err != nil {
		return &VerifyResult{
			Status:  "error",
			Message: "门户不可达: " + err.Error(),
		}
	}

	switch {
	case resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden:
		return &VerifyResult{
			Status:  "error",
			Message: fmt.Sprintf("门户认证失败 (status %d)，请检查 apiKey", resp.Status),
			Details: map[string]interface{}{"attempts": resp.Attempts},
		}
	case resp.IsOK(), resp.Status == http.StatusBadRequest, resp.Status == http.StatusUnprocessableEntity:
		return &VerifyResult{
			Status:  "ok",
			Message: fmt.Sprintf("门户连接正常 (status %d)", resp.Status),
			Details: map[string]interface{}{"url": resp.URL},
		}
	default:
		return &VerifyResult{
			Status:  "error",
			Message: fmt.Sprintf("门户返回异常状态 %d", resp.Status),
			Details: map[string]interface{}{"body": string(resp.Body)},
		}
	}
}

// normalizeCreateResponse 把门户五花八门的响应字段归一化
func (a *Adapter) normalizeCreateResponse(raw map[string]interface{}) *CreateInviteResult {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	// 有些版本把结果套在 invitation/invite 对象里
	source := raw
	for _, key := range []string{"invitation", "invite"} {
		if nested, ok := raw[key].(map[string]interface{}); ok {
			source = nested
			break
		}
	}

	code := firstString(source, "code", "invite_code", "inviteCode", "id")
	inviteURL := firstString(source, "url", "invite_url", "link", "inviteUrl", "full_url")
	if inviteURL == "" && code != "" {
		origin := transport.StripAPIPath(a.cfg.BaseURL)
		inviteURL = origin + "/" + strings.Trim(a.cfg.InvitePath, "/") + "/" + url.PathEscape(code)
	}

	return &CreateInviteResult{InviteCode: code, InviteURL: inviteURL, Raw: raw}
}

// GenerateCode 生成 10 位 A-Z0-9 邀请码
func GenerateCode() (string, error) {
	return utils.GenerateInviteCode(10)
}

func wrapUnreachable(err error) error {
	e := transport.NewAdapterError(ErrKindUnreachable, "门户不可达: "+err.Error())
	if te, ok := err.(*transport.Error); ok {
		e.WithDetail("attempts", te.Attempts)
	}
	return e
}

func requestFailed(resp *transport.Response) error {
	e := transport.NewAdapterError(ErrKindRequestFailed,
		fmt.Sprintf("门户返回异常状态 %d", resp.Status)).WithStatus(resp.Status)
	if parsed := resp.JSON(); parsed != nil {
		if msg := firstString(parsed, "error", "message", "detail"); msg != "" {
			e.WithDetail("error", msg)
		}
	}
	return e
}

// allGone 所有有状态码的尝试都是 404/405/410
func allGone(attempts []transport.Attempt) bool {
	seen := false
	for _, a := range attempts {
		if a.Status == 0 {
			continue
		}
		seen = true
		switch a.Status {
		case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusGone:
		default:
			return false
		}
	}
	return seen
}

// extractAvailableServers 解析 400/422 响应里的 available_servers 列表
func extractAvailableServers(parsed map[string]interface{}) []ServerOption {
	if parsed == nil {
		return nil
	}
	rawList, ok := parsed["available_servers"].([]interface{})
	if !ok {
		// 有的版本套在 details 里
		if details, ok := parsed["details"].(map[string]interface{}); ok {
			rawList, _ = details["available_servers"].([]interface{})
		}
	}

	var servers []ServerOption
	for _, item := range rawList {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		servers = append(servers, ServerOption{
			ID:         entry["id"],
			Name:       firstString(entry, "name", "friendly_name"),
			Type:       firstString(entry, "server_type", "type"),
			Identifier: firstString(entry, "identifier", "machine_identifier", "client_identifier"),
		})
	}
	return servers
}

// serverRetryValue 重试时优先用 identifier，缺了退回 id
func serverRetryValue(s ServerOption) interface{} {
	if s.Identifier != "" {
		return s.Identifier
	}
	return s.ID
}

// firstString 返回第一个非空字符串字段；数值 id 也转成字符串
func firstString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		}
	}
	return ""
}
