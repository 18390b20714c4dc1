package mediaserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// CreateInviteRequest 创建共享的请求
type CreateInviteRequest struct {
	Email        string   `json:"email"`
	FriendlyName string   `json:"friendly_name,omitempty"`
	LibraryIDs   []string `json:"library_ids,omitempty"`
}

// CreateInviteResult 创建共享的结果
type CreateInviteResult struct {
	InviteID   string                 `json:"invite_id"`
	InvitedID  string                 `json:"invited_id"`
	SectionIDs []string               `json:"section_ids"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// CancelResult 取消共享的结果。邀请已不存在时 Success=false 但不报错。
type CancelResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// CreateInvite 在 Plex 上创建共享：
// 先完成服务器发现和分区重映射，再解析受邀人的账户 id
// （没登录过 Plex 的邮箱会命中 RecipientNotFound），
// 最后 POST v2 shared_servers。设置里的布尔量按 Plex 的习惯编码成 "0"/"1"。
func (a *Adapter) CreateInvite(ctx context.Context, req CreateInviteRequest) (*CreateInviteResult, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, transport.NewAdapterError(ErrKindRequestFailed, "受邀人邮箱不能为空")
	}

	desc, err := a.ResolveServer(ctx)
	if err != nil {
		return nil, err
	}

	sectionIDs, err := a.resolveSectionIDs(ctx, desc, req.LibraryIDs)
	if err != nil {
		return nil, err
	}

	invitedID, err := a.resolveInvitedID(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"machineIdentifier": desc.MachineIdentifier,
		"librarySectionIds": sectionIDs,
		"invitedId":         invitedID,
		"invitedEmail":      req.Email,
		"settings": map[string]interface{}{
			"allowSync":         boolFlag(a.cfg.AllowSync),
			"allowCameraUpload": boolFlag(a.cfg.AllowCameraUpload),
			"allowChannels":     boolFlag(a.cfg.AllowChannels),
		},
	}
	if req.FriendlyName != "" {
		body["friendlyName"] = req.FriendlyName
	}

	resp, err := a.tp.Request(ctx, http.MethodPost,
		[]string{a.tokenURL("/api/v2/shared_servers")}, body, "")
	if err != nil {
		return nil, unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized(resp.Status)
	}
	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}

	result := &CreateInviteResult{
		InvitedID:  invitedID,
		SectionIDs: sectionIDs,
		Raw:        resp.JSON(),
	}
	if result.Raw != nil {
		result.InviteID = firstJSONString(result.Raw, "id", "inviteId", "invitedId")
	}
	return result, nil
}

// CancelInvite 取消一条共享。遗留路径只认数字服务器 id。
// 404/410 说明邀请已经不在了，按非致命处理。
func (a *Adapter) CancelInvite(ctx context.Context, inviteID string) (*CancelResult, error) {
	inviteID = strings.TrimSpace(inviteID)
	if inviteID == "" {
		return nil, transport.NewAdapterError(ErrKindRequestFailed, "邀请 id 不能为空")
	}

	desc, err := a.ResolveServer(ctx)
	if err != nil {
		return nil, err
	}
	if desc.LegacyID == "" {
		return nil, transport.NewAdapterError(ErrKindRequestFailed,
			"没有解析到遗留数字服务器 id，无法取消共享")
	}

	cancelURL := a.tokenURL(fmt.Sprintf("/api/servers/%s/shared_servers/%s",
		url.PathEscape(desc.LegacyID), url.PathEscape(inviteID)))

	resp, err := a.tp.Request(ctx, http.MethodDelete, []string{cancelURL}, nil, "")
	if err != nil {
		if te, ok := err.(*transport.Error); ok && allGone(te.Attempts) {
			return &CancelResult{Success: false, Reason: "Invite not found on Plex server"}, nil
		}
		return nil, unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized(resp.Status)
	}
	if resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
		return &CancelResult{Success: false, Reason: "Invite not found on Plex server"}, nil
	}
	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}
	return &CancelResult{Success: true}, nil
}

// resolveInvitedID 受邀人必须已经在 Plex 注册过。
// 先查 home-users 接口，查不到再扫一遍用户列表按邮箱大小写不敏感匹配。
func (a *Adapter) resolveInvitedID(ctx context.Context, email string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(email))

	resp, err := a.tp.Request(ctx, http.MethodGet,
		[]string{a.tokenURL("/api/v2/home/users"), a.tokenURL("/api/home/users")}, nil, "")
	if err == nil && resp.IsOK() {
		if users, perr := parseUsers(resp.Body); perr == nil {
			for _, u := range users {
				if strings.ToLower(u.Email) == want || strings.ToLower(u.Username) == want {
					if u.ID != "" {
						return u.ID, nil
					}
				}
			}
		}
	} else if err == nil && (resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden) {
		return "", unauthorized(resp.Status)
	}

	users, _, lerr := a.ListUsers(ctx)
	if lerr != nil {
		return "", lerr
	}
	for _, u := range users {
		for _, candidate := range []string{u.Email, u.Username, u.Title} {
			if candidate != "" && strings.ToLower(candidate) == want {
				if u.ID != "" {
					return u.ID, nil
				}
			}
		}
	}

	return "", transport.NewAdapterError(ErrKindRecipientMissing,
		fmt.Sprintf("邮箱 %s 从未登录过 Plex，无法创建共享", email))
}

// boolFlag Plex 的共享设置布尔量用 "0"/"1" 字符串编码
func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
