package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/mail"
	"github.com/jjermany/Plex-Donate-sub002/services/mediaserver"
	"github.com/jjermany/Plex-Donate-sub002/services/portal"
	"github.com/jjermany/Plex-Donate-sub002/services/settings"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
)

// SettingsController 后台配置管理：分组读写 + 连通性测试
type SettingsController struct {
	repo     *repository.Repository
	settings *settings.Service
	mail     *mail.MailService
	tp       transport.Requester
}

// NewSettingsController 创建配置管理控制器
func NewSettingsController(repo *repository.Repository, settingsService *settings.Service, mailService *mail.MailService, tp transport.Requester) *SettingsController {
	return &SettingsController{repo: repo, settings: settingsService, mail: mailService, tp: tp}
}

// GetGroup godoc
// @Summary      读取配置组
// @Description  返回归一化后的配置组，敏感字段打码
// @Tags         配置管理
// @Produce      json
// @Security     Bearer
// @Param        group path string true "配置组名"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/settings/{group} [get]
func (sc *SettingsController) GetGroup(c *gin.Context) {
	group := c.Param("group")
	if !settings.KnownGroup(group) {
		c.JSON(http.StatusNotFound, Response{Error: "未知的配置组: " + group})
		return
	}

	values, err := sc.settings.GetGroupMasked(group)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Data: values})
}

// UpdateGroup godoc
// @Summary      写入配置组
// @Description  归一化后保存配置组；敏感字段传空串或打码值表示保持不变
// @Tags         配置管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        group path string true "配置组名"
// @Param        request body map[string]interface{} true "配置键值"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/settings/{group} [put]
func (sc *SettingsController) UpdateGroup(c *gin.Context) {
	group := c.Param("group")
	if !settings.KnownGroup(group) {
		c.JSON(http.StatusNotFound, Response{Error: "未知的配置组: " + group})
		return
	}

	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}

	if _, err := sc.settings.UpdateGroup(group, input); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	sc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action": "update_settings",
		"group":  group,
	})

	masked, err := sc.settings.GetGroupMasked(group)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Message: "配置已保存", Data: masked})
}

// GetAnnouncements godoc
// @Summary      获取站点公告
// @Description  返回公告横幅配置（公开接口）
// @Tags         配置管理
// @Produce      json
// @Success      200  {object}  Response
// @Router       /announcements [get]
func (sc *SettingsController) GetAnnouncements(c *gin.Context) {
	values, err := sc.settings.GetGroup(settings.GroupAnnouncements)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Data: values})
}

// overridesFrom 解析测试请求体里的 override 设置，体可以为空
func overridesFrom(c *gin.Context) map[string]interface{} {
	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		return map[string]interface{}{}
	}
	return input
}

// TestPortal godoc
// @Summary      测试门户连通性
// @Description  用当前配置叠加请求体里的 override 调门户探活
// @Tags         配置管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        request body map[string]interface{} false "override 设置"
// @Success      200  {object}  Response
// @Router       /admin/settings/portal/test-portal [post]
func (sc *SettingsController) TestPortal(c *gin.Context) {
	values, err := sc.settings.PreviewWithOverrides(settings.GroupPortal, overridesFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	adapter := portal.New(sc.tp, settings.PortalConfigFrom(values))
	result := adapter.VerifyConnection(c.Request.Context())
	c.JSON(http.StatusOK, Response{Data: result})
}

// TestMediaServer godoc
// @Summary      测试媒体服务器连通性
// @Description  用当前配置叠加 override 做服务器发现，返回解析出的服务器信息
// @Tags         配置管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        request body map[string]interface{} false "override 设置"
// @Success      200  {object}  Response
// @Router       /admin/settings/mediaServer/test-media-server [post]
func (sc *SettingsController) TestMediaServer(c *gin.Context) {
	values, err := sc.settings.PreviewWithOverrides(settings.GroupMediaServer, overridesFrom(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	adapter := mediaserver.New(sc.tp, settings.MediaServerConfigFrom(values))
	result := adapter.VerifyConnection(c.Request.Context())
	c.JSON(http.StatusOK, Response{Data: result})
}

// TestSMTPRequest SMTP 测试请求体：override 设置 + 收件地址
type TestSMTPRequest struct {
	To        string                 `json:"to" binding:"required"`
	Overrides map[string]interface{} `json:"overrides"`
}

// TestSMTP godoc
// @Summary      测试邮件发送
// @Description  用当前配置叠加 override 发送一封测试邮件
// @Tags         配置管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        request body TestSMTPRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Router       /admin/settings/smtp/test-smtp [post]
func (sc *SettingsController) TestSMTP(c *gin.Context) {
	var req TestSMTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}

	values, err := sc.settings.PreviewWithOverrides(settings.GroupSMTP, req.Overrides)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	if err := sc.mail.SendTestMailWith(settings.SMTPConfigFrom(values), req.To); err != nil {
		c.JSON(http.StatusBadGateway, Response{Error: "测试邮件发送失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Message: "测试邮件已发送"})
}
