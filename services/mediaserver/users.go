package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// User 归一化后的媒体服务器用户
type User struct {
	ID       string `json:"id"`
	UUID     string `json:"uuid,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Title    string `json:"title,omitempty"`
}

// RevokeUserRequest 按账户 id 或邮箱撤销用户，两者至少给一个
type RevokeUserRequest struct {
	Email     string `json:"email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// RevokeResult 撤销结果。用户本来就不存在时 Success=false 但不报错。
type RevokeResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// 用户列表的候选端点，按序探测，胜出的路径按 baseURL 缓存
var userListPaths = []string{
	"/accounts",
	"/api/v2/home/users",
	"/api/home/users",
}

// ListUsers 列出服务器用户。先用缓存的胜出路径，缓存未命中时
// 依序探测候选端点（404 自动跳过），并把胜出路径记入缓存。
func (a *Adapter) ListUsers(ctx context.Context) ([]User, string, error) {
	base := strings.TrimRight(a.cfg.BaseURL, "/")

	cacheMu.Lock()
	cached := userPathCache[base]
	cacheMu.Unlock()

	var urls []string
	if cached != "" {
		urls = []string{a.tokenURL(cached)}
	} else {
		for _, path := range userListPaths {
			urls = append(urls, a.tokenURL(path))
		}
	}

	resp, err := a.tp.Request(ctx, http.MethodGet, urls, nil, "")
	if err != nil {
		if cached != "" {
			// 缓存的路径失效了，清掉重新探测
			cacheMu.Lock()
			delete(userPathCache, base)
			cacheMu.Unlock()
		}
		return nil, "", unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, "", unauthorized(resp.Status)
	}
	if !resp.IsOK() {
		return nil, "", requestFailed(resp)
	}

	winner := winningPath(resp.URL, userListPaths)
	if winner == "" {
		winner = cached
	}
	if winner != "" {
		cacheMu.Lock()
		userPathCache[base] = winner
		cacheMu.Unlock()
	}

	users, err := parseUsers(resp.Body)
	if err != nil {
		return nil, "", transport.NewAdapterError(ErrKindRequestFailed,
			"用户列表解析失败: "+err.Error())
	}
	return users, winner, nil
}

// RevokeUser 撤销一个用户的访问。匹配优先级：账户 id（id/uuid 等
// 大小写不敏感），其次邮箱（email/username/title）。
// 用户不存在返回非致命的未找到结果。
func (a *Adapter) RevokeUser(ctx context.Context, req RevokeUserRequest) (*RevokeResult, error) {
	if req.Email == "" && req.AccountID == "" {
		return nil, transport.NewAdapterError(ErrKindRequestFailed, "必须提供 email 或 account_id")
	}

	users, winner, err := a.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	matched := matchUser(users, req)
	if matched == nil {
		return &RevokeResult{Success: false, Reason: "用户在 Plex 服务器上不存在 (not found)"}, nil
	}

	if winner == "" {
		winner = userListPaths[0]
	}
	deleteURL := a.tokenURL(winner + "/" + url.PathEscape(matched.ID))
	resp, err := a.tp.Request(ctx, http.MethodDelete, []string{deleteURL}, nil, "")
	if err != nil {
		if te, ok := err.(*transport.Error); ok && allGone(te.Attempts) {
			return &RevokeResult{Success: false, Reason: "用户在 Plex 服务器上不存在 (not found)", UserID: matched.ID}, nil
		}
		return nil, unreachable(err)
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, unauthorized(resp.Status)
	}
	if resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
		return &RevokeResult{Success: false, Reason: "用户在 Plex 服务器上不存在 (not found)", UserID: matched.ID}, nil
	}
	if !resp.IsOK() {
		return nil, requestFailed(resp)
	}
	return &RevokeResult{Success: true, UserID: matched.ID}, nil
}

// matchUser 先按账户 id 匹配，再按邮箱匹配，都大小写不敏感
func matchUser(users []User, req RevokeUserRequest) *User {
	if req.AccountID != "" {
		want := strings.ToLower(strings.TrimSpace(req.AccountID))
		for i := range users {
			u := &users[i]
			for _, candidate := range []string{u.ID, u.UUID} {
				if candidate != "" && strings.ToLower(candidate) == want {
					return u
				}
			}
		}
	}
	if req.Email != "" {
		want := strings.ToLower(strings.TrimSpace(req.Email))
		for i := range users {
			u := &users[i]
			for _, candidate := range []string{u.Email, u.Username, u.Title} {
				if candidate != "" && strings.ToLower(candidate) == want {
					return u
				}
			}
		}
	}
	return nil
}

// winningPath 从最终请求的 URL 反推出胜出的候选路径
func winningPath(requestURL string, candidates []string) string {
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return ""
	}
	for _, candidate := range candidates {
		if strings.HasSuffix(strings.TrimRight(parsed.Path, "/"), candidate) {
			return candidate
		}
	}
	return ""
}

// parseUsers 用户列表既可能是 JSON（数组或包一层对象），也可能是 XML
func parseUsers(body []byte) ([]User, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return parseUsersJSON(trimmed)
	}
	return parseUsersXML(trimmed)
}

func parseUsersJSON(body []byte) ([]User, error) {
	var rawList []map[string]interface{}
	if err := json.Unmarshal(body, &rawList); err != nil {
		var wrapper map[string]interface{}
		if err2 := json.Unmarshal(body, &wrapper); err2 != nil {
			return nil, err
		}
		for _, key := range []string{"users", "accounts", "User"} {
			if items, ok := wrapper[key].([]interface{}); ok {
				for _, item := range items {
					if m, ok := item.(map[string]interface{}); ok {
						rawList = append(rawList, m)
					}
				}
				break
			}
		}
	}

	users := make([]User, 0, len(rawList))
	for _, raw := range rawList {
		user := User{
			ID:       firstJSONString(raw, "id", "userID", "machineIdentifier"),
			UUID:     firstJSONString(raw, "uuid", "machineIdentifier"),
			Email:    firstJSONString(raw, "email"),
			Username: firstJSONString(raw, "username"),
			Title:    firstJSONString(raw, "title", "name"),
		}
		// 有的形态把邮箱藏在 account 对象里
		if user.Email == "" {
			if account, ok := raw["account"].(map[string]interface{}); ok {
				user.Email = jsonString(account, "email")
			}
		}
		if user.ID != "" || user.Email != "" {
			users = append(users, user)
		}
	}
	return users, nil
}

func parseUsersXML(body []byte) ([]User, error) {
	var container struct {
		Users []struct {
			ID       string `xml:"id,attr"`
			UUID     string `xml:"uuid,attr"`
			Email    string `xml:"email,attr"`
			Username string `xml:"username,attr"`
			Title    string `xml:"title,attr"`
		} `xml:"User"`
		Accounts []struct {
			ID       string `xml:"id,attr"`
			UUID     string `xml:"uuid,attr"`
			Email    string `xml:"email,attr"`
			Username string `xml:"username,attr"`
			Title    string `xml:"title,attr"`
		} `xml:"Account"`
	}
	if err := xml.Unmarshal(body, &container); err != nil {
		return nil, err
	}

	var users []User
	for _, u := range container.Users {
		users = append(users, User{ID: u.ID, UUID: u.UUID, Email: u.Email, Username: u.Username, Title: u.Title})
	}
	for _, u := range container.Accounts {
		users = append(users, User{ID: u.ID, UUID: u.UUID, Email: u.Email, Username: u.Username, Title: u.Title})
	}
	return users, nil
}

func firstJSONString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := jsonString(m, key); s != "" {
			return s
		}
	}
	return ""
}
