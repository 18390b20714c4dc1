package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/membership"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// WebhookController PayPal webhook 入口。
// 验签通过后事件进队列异步处理，HTTP 层始终回 200，
// 避免 PayPal 因非 2xx 触发重投风暴。
type WebhookController struct {
	repo  *repository.Repository
	svc   *membership.Service
	queue *membership.WebhookQueue
}

// NewWebhookController 创建 webhook 控制器
func NewWebhookController(repo *repository.Repository, svc *membership.Service, queue *membership.WebhookQueue) *WebhookController {
	return &WebhookController{repo: repo, svc: svc, queue: queue}
}

// HandlePayPal godoc
// @Summary      接收 PayPal webhook
// @Description  验签并异步处理 PayPal 订阅/收款事件
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Router       /api/webhook/paypal [post]
func (wc *WebhookController) HandlePayPal(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, Response{Error: "读取请求体失败"})
		return
	}

	evt, err := membership.ParseWebhookEvent(raw)
	if err != nil {
		utils.LogWarn("收到无法解析的 webhook 载荷: " + err.Error())
		wc.repo.LogEvent(models.EventWebhookError, map[string]interface{}{
			"stage": "parse",
			"error": err.Error(),
		})
		// 坏载荷重投没有意义，照样回 200
		c.JSON(http.StatusOK, Response{Message: "已接收"})
		return
	}

	pay, err := wc.svc.PayPalClient()
	if err != nil {
		utils.LogError("读取 PayPal 配置失败", err)
		wc.repo.LogEvent(models.EventWebhookError, map[string]interface{}{
			"stage":      "config",
			"event_type": evt.Type,
			"error":      err.Error(),
		})
		c.JSON(http.StatusOK, Response{Message: "已接收"})
		return
	}

	verified, err := pay.VerifyWebhookSignature(c.Request.Context(), c.Request.Header, evt.Raw)
	if err != nil {
		utils.LogError("PayPal webhook 验签失败", err)
		wc.repo.LogEvent(models.EventWebhookError, map[string]interface{}{
			"stage":      "signature",
			"event_type": evt.Type,
			"error":      err.Error(),
		})
		c.JSON(http.StatusOK, Response{Message: "已接收"})
		return
	}
	if !verified {
		utils.LogWarn("收到验签不通过的 webhook 事件: " + evt.Type)
		wc.repo.LogEvent(models.EventWebhookIgnored, map[string]interface{}{
			"event_type": evt.Type,
			"reason":     "签名验证不通过",
		})
		c.JSON(http.StatusOK, Response{Message: "已接收"})
		return
	}

	wc.queue.Enqueue(evt)
	c.JSON(http.StatusOK, Response{Message: "已接收"})
}
