package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// 上游 401 属于我们的门户配置问题，对调用方必须呈现为 502，
// 原始状态只进 upstream_status
func TestRespondErrorMapsKindBeforeUpstreamStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := transport.NewAdapterError("PortalUnauthorized", "门户拒绝了所有认证方式").WithStatus(401)
	respondError(c, err)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"upstream_status":401`)
	assert.Contains(t, w.Body.String(), "PortalUnauthorized")
}

func TestRespondErrorStatusForKind(t *testing.T) {
	cases := []struct {
		kind string
		want int
	}{
		{"Validation", http.StatusBadRequest},
		{"Unauthorized", http.StatusUnauthorized},
		{"SubscriptionInactive", http.StatusForbidden},
		{"NotFound", http.StatusNotFound},
		{"ProviderDisabled", http.StatusServiceUnavailable},
		{"PortalServerSelectionRequired", http.StatusConflict},
		{"PortalUnreachable", http.StatusBadGateway},
		{"MediaServerRequestFailed", http.StatusBadGateway},
		{"UpstreamRequestFailed", http.StatusBadGateway},
		{"Internal", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForKind(tc.kind); got != tc.want {
			t.Errorf("statusForKind(%q) = %d, 期望 %d", tc.kind, got, tc.want)
		}
	}
}

// 本地错误信封的状态与 kind 映射一致时不附带 upstream_status
func TestRespondErrorLocalKindsOmitUpstreamStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := transport.NewAdapterError("Validation", "邮箱格式不正确").WithStatus(400)
	respondError(c, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "upstream_status")
}
