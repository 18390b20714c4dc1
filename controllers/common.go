package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/membership"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// Response 通用响应结构
type Response struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError 把服务层错误映射为 HTTP 响应。
// 状态码一律按错误 kind 映射：上游 401/403 属于我们的配置问题，
// 不能原样透传给匿名调用方，原始状态放进 upstream_status 供排障。
func respondError(c *gin.Context, err error) {
	var adapterErr *transport.AdapterError
	if errors.As(err, &adapterErr) {
		status := statusForKind(adapterErr.Kind)
		body := gin.H{"error": adapterErr.Message, "kind": adapterErr.Kind}
		if len(adapterErr.Details) > 0 {
			body["details"] = adapterErr.Details
		}
		if adapterErr.Status > 0 && adapterErr.Status != status {
			body["upstream_status"] = adapterErr.Status
		}
		c.JSON(status, body)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "记录不存在"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// statusForKind 适配器错误 kind 到 HTTP 状态的缺省映射
func statusForKind(kind string) int {
	switch kind {
	case membership.ErrKindValidation:
		return http.StatusBadRequest
	case membership.ErrKindUnauthorized:
		return http.StatusUnauthorized
	case membership.ErrKindForbidden:
		return http.StatusForbidden
	case membership.ErrKindNotFound:
		return http.StatusNotFound
	case membership.ErrKindDisabled:
		return http.StatusServiceUnavailable
	case "PortalServerSelectionRequired":
		return http.StatusConflict
	case "PortalUnreachable", "MediaServerUnreachable",
		"PortalRequestFailed", "MediaServerRequestFailed":
		return http.StatusBadGateway
	case "PortalUnauthorized", "MediaServerUnauthorized",
		"UpstreamRequestFailed":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
