package portal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CreateInviteRequest 创建邀请的异构输入。调用方既可以用顶层字段，
// 也可以把门户原生字段塞进嵌套的 Invitation 对象，两边都会被当作候选。
type CreateInviteRequest struct {
	Code          string                 `json:"code,omitempty"`
	Email         string                 `json:"email,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Note          string                 `json:"note,omitempty"`
	Username      string                 `json:"username,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Profile       string                 `json:"profile,omitempty"`
	Libraries     []string               `json:"libraries,omitempty"`
	Unlimited     bool                   `json:"unlimited,omitempty"`
	MaxUses       int                    `json:"max_uses,omitempty"`
	ExpiresInDays int                    `json:"expires_in_days,omitempty"`
	DurationDays  int                    `json:"duration_days,omitempty"`
	ExpiresAt     string                 `json:"expires_at,omitempty"`
	DurationAt    string                 `json:"duration_at,omitempty"`
	Servers       []string               `json:"servers,omitempty"`
	ExtraFields   map[string]interface{} `json:"extra_fields,omitempty"`
	Invitation    map[string]interface{} `json:"invitation,omitempty"`
}

// buildInviteBody 把异构输入合成为门户请求体
func (a *Adapter) buildInviteBody(req CreateInviteRequest) (map[string]interface{}, error) {
	body := make(map[string]interface{})

	// 调用方自带字段原样透传，后面计算出的核心字段覆盖同名项
	for key, val := range req.ExtraFields {
		body[key] = val
	}

	code := SanitizeCode(firstNonEmpty(req.Code, nestedString(req.Invitation, "code")))
	if code == "" {
		generated, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("生成邀请码失败: %w", err)
		}
		code = generated
	}
	body["code"] = code

	unlimited := req.Unlimited || nestedBool(req.Invitation, "unlimited")
	body["unlimited"] = unlimited
	if !unlimited {
		maxUses := req.MaxUses
		if maxUses <= 0 {
			maxUses = nestedInt(req.Invitation, "max_uses")
		}
		if maxUses <= 0 {
			maxUses = 1
		}
		body["max_uses"] = maxUses
	}

	durationAt, expiresAt := a.resolveExpiry(req)
	body["duration_at"] = durationAt.UTC().Format(time.RFC3339)
	body["expires_at"] = expiresAt.UTC().Format(time.RFC3339)

	if profile := firstNonEmpty(req.Profile, nestedString(req.Invitation, "profile"), a.cfg.DefaultProfile); profile != "" {
		body["profile"] = profile
	}
	libraries := req.Libraries
	if len(libraries) == 0 {
		libraries = nestedStrings(req.Invitation, "libraries")
	}
	if len(libraries) == 0 {
		libraries = a.cfg.DefaultLibraries
	}
	if deduped := dedupeStrings(libraries); len(deduped) > 0 {
		body["libraries"] = deduped
	}

	if msg := firstNonEmpty(req.Message, nestedString(req.Invitation, "message")); msg != "" {
		body["message"] = msg
	}
	if username := firstNonEmpty(req.Username, nestedString(req.Invitation, "username")); username != "" {
		body["username"] = username
	}
	if email := firstNonEmpty(req.Email, nestedString(req.Invitation, "email")); email != "" {
		body["email"] = email
	}
	if req.Note != "" {
		body["note"] = req.Note
	}
	if req.Name != "" {
		body["name"] = req.Name
	}

	// 服务器偏好：调用方在前，配置的默认值在后
	prefs := dedupeStrings(append(append([]string{}, req.Servers...), a.cfg.DefaultServerIDs...))
	if len(prefs) > 0 {
		body["server"] = prefs[0]
		body["server_ids"] = prefs
	}

	return body, nil
}

// resolveExpiry 计算 duration_at / expires_at：
// 优先绝对时间候选，其次天数候选加到当前时间；只解析出一个时
// 另一个取相同值；都没有则兜底 1 天。
func (a *Adapter) resolveExpiry(req CreateInviteRequest) (time.Time, time.Time) {
	base := a.now()

	duration, durationOK := resolveTimestamp(base,
		[]string{req.DurationAt, nestedString(req.Invitation, "duration_at"), nestedString(req.Invitation, "duration")},
		[]int{req.DurationDays, nestedInt(req.Invitation, "duration_days"), nestedInt(req.Invitation, "days")})

	expires, expiresOK := resolveTimestamp(base,
		[]string{req.ExpiresAt, nestedString(req.Invitation, "expires_at"), nestedString(req.Invitation, "expires")},
		[]int{req.ExpiresInDays, nestedInt(req.Invitation, "expires_in_days")})

	switch {
	case durationOK && !expiresOK:
		expires = duration
	case expiresOK && !durationOK:
		duration = expires
	case !durationOK && !expiresOK:
		days := a.cfg.DefaultDurationDays
		if days <= 0 {
			days = 1
		}
		duration = base.AddDate(0, 0, days)
		expires = duration
	}
	return duration, expires
}

// resolveTimestamp 先找绝对时间候选，再找天数候选
func resolveTimestamp(base time.Time, absolutes []string, days []int) (time.Time, bool) {
	for _, raw := range absolutes {
		if ts, ok := parseTimestamp(raw); ok {
			return ts, true
		}
	}
	for _, d := range days {
		if d > 0 {
			return base.AddDate(0, 0, d), true
		}
	}
	return time.Time{}, false
}

// parseTimestamp 接受 RFC3339 或纯日期
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SanitizeCode 清洗调用方提供的邀请码：空白折叠为短横线，截断到 64
func SanitizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	code = strings.Join(strings.Fields(code), "-")
	if len(code) > 64 {
		code = code[:64]
	}
	return code
}

// dedupeStrings 去除空白项并按大小写不敏感去重，保持原有顺序
func dedupeStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func nestedString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func nestedBool(m map[string]interface{}, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}

func nestedInt(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

func nestedStrings(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
