package mediaserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// 媒体服务器适配器错误 kind
const (
	ErrKindUnreachable      = "MediaServerUnreachable"
	ErrKindUnauthorized     = "MediaServerUnauthorized"
	ErrKindRequestFailed    = "MediaServerRequestFailed"
	ErrKindRecipientMissing = "RecipientNotFound"
)

// Config 媒体服务器配置（来自 settings 的 mediaServer 组）
type Config struct {
	BaseURL           string // 一般是 https://plex.tv
	Token             string
	ServerIdentifier  string // 配置的服务器 UUID
	LibrarySectionIDs []string
	AllowSync         bool
	AllowCameraUpload bool
	AllowChannels     bool
}

// ServerDescriptor 解析出的服务器描述：v2 接口用 machineIdentifier，
// 一些遗留路径只认数字 id，两个都要缓存。
type ServerDescriptor struct {
	Name              string `json:"name"`
	MachineIdentifier string `json:"machine_identifier"`
	LegacyID          string `json:"legacy_id"`
}

// Adapter Plex 适配器
type Adapter struct {
	tp  transport.Requester
	cfg Config
}

// New 创建媒体服务器适配器
func New(tp transport.Requester, cfg Config) *Adapter {
	return &Adapter{tp: tp, cfg: cfg}
}

// 进程级缓存：服务器描述按 (token, 配置的 uuid) 缓存，
// 用户列表路径按 baseURL 缓存。覆盖写入是幂等的，交错执行安全。
var (
	cacheMu         sync.Mutex
	serverDescCache = make(map[string]*ServerDescriptor)
	userPathCache   = make(map[string]string)
)

// ResetCaches 设置变更时清空发现缓存
func ResetCaches() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	serverDescCache = make(map[string]*ServerDescriptor)
	userPathCache = make(map[string]string)
}

func (a *Adapter) cacheKey() string {
	return a.cfg.Token + "|" + NormalizeServerID(a.cfg.ServerIdentifier)
}

// NormalizeServerID 服务器标识归一化：小写并去掉短横线。
// 归一化相等即视为同一台服务器。
func NormalizeServerID(id string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(id)), "-", "")
}

// tokenURL 在地址上追加 Plex 要求的 X-Plex-Token 查询参数。
// Plex 不走通用认证协商，token 永远挂在 query 上。
func (a *Adapter) tokenURL(path string) string {
	joined := transport.JoinBaseAndPath(a.cfg.BaseURL, path)
	return transport.AppendQueryParam(joined, "X-Plex-Token", a.cfg.Token)
}

func unauthorized(status int) error {
	return transport.NewAdapterError(ErrKindUnauthorized,
		"Plex 拒绝了当前 token，请检查 mediaServer 设置").WithStatus(status)
}

func unreachable(err error) error {
	e := transport.NewAdapterError(ErrKindUnreachable, "Plex 不可达: "+err.Error())
	if te, ok := err.(*transport.Error); ok {
		e.WithDetail("attempts", te.Attempts)
	}
	return e
}

func requestFailed(resp *transport.Response) error {
	e := transport.NewAdapterError(ErrKindRequestFailed,
		"Plex 返回异常状态").WithStatus(resp.Status)
	// HTML 错误页不透传给用户
	if !resp.LooksLikeHTML() {
		if parsed := resp.JSON(); parsed != nil {
			for _, key := range []string{"error", "message", "detail"} {
				if msg, ok := parsed[key].(string); ok && msg != "" {
					e.Message = "Plex 返回异常状态: " + msg
					break
				}
			}
		} else if body := strings.TrimSpace(string(resp.Body)); body != "" && len(body) < 512 {
			e.WithDetail("body", body)
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
