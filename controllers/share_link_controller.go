package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/services/membership"
)

// ShareLinkController 分享链接的匿名入口：
// 查看投影、设置账号、生成邀请、发起 PayPal 结账。
type ShareLinkController struct {
	svc *membership.Service
}

// NewShareLinkController 创建分享链接控制器
func NewShareLinkController(svc *membership.Service) *ShareLinkController {
	return &ShareLinkController{svc: svc}
}

// sessionTokenFrom 从三个位置取会话令牌：
// Authorization: Bearer、X-Share-Session 头、请求体字段。
func sessionTokenFrom(c *gin.Context, bodyToken string) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	if token := strings.TrimSpace(c.GetHeader("X-Share-Session")); token != "" {
		return token
	}
	return strings.TrimSpace(bodyToken)
}

// GetShareLink godoc
// @Summary      查看分享链接
// @Description  返回分享链接的公开投影（会员、意向用户、当前邀请、支付参数）
// @Tags         分享链接
// @Produce      json
// @Param        token path string true "分享令牌"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /share/{token} [get]
func (sc *ShareLinkController) GetShareLink(c *gin.Context) {
	projection, err := sc.svc.GetShareLink(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Data: projection})
}

// GenerateInviteRequest 生成邀请请求体
type GenerateInviteRequest struct {
	Email         string `json:"email" binding:"required"`
	Name          string `json:"name"`
	Note          string `json:"note"`
	ExpiresInDays int    `json:"expiresInDays"`
	SessionToken  string `json:"sessionToken"`
}

// GenerateInvite godoc
// @Summary      生成邀请
// @Description  为 active 会员通过门户生成一条邀请，同邮箱的未撤销邀请直接复用
// @Tags         分享链接
// @Accept       json
// @Produce      json
// @Param        token path string true "分享令牌"
// @Param        request body GenerateInviteRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Failure      401  {object}  Response
// @Failure      403  {object}  Response
// @Router       /share/{token} [post]
func (sc *ShareLinkController) GenerateInvite(c *gin.Context) {
	var req GenerateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}

	invite, err := sc.svc.GenerateShareInvite(c.Request.Context(),
		c.Param("token"), sessionTokenFrom(c, req.SessionToken),
		membership.GenerateInviteInput{
			Email:         req.Email,
			Name:          req.Name,
			Note:          req.Note,
			ExpiresInDays: req.ExpiresInDays,
		})
	if err != nil {
		respondError(c, err)
		return
	}

	projection, err := sc.svc.GetShareLink(c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Message: "邀请已生成",
		Data: gin.H{
			"invite": gin.H{
				"code":            invite.Code,
				"url":             invite.URL,
				"recipient_email": invite.RecipientEmail,
				"created_at":      invite.CreatedAt,
			},
			"projection": projection,
		},
	})
}

// AccountSetupRequest 账号设置请求体
type AccountSetupRequest struct {
	Email           string `json:"email" binding:"required"`
	Name            string `json:"name"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword"`
	SubscriptionID  string `json:"subscriptionId"`
	SessionToken    string `json:"sessionToken"`
}

// SetupAccount godoc
// @Summary      设置账号
// @Description  会员设置/重设登录密码；意向用户在此转正为会员
// @Tags         分享链接
// @Accept       json
// @Produce      json
// @Param        token path string true "分享令牌"
// @Param        request body AccountSetupRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Failure      401  {object}  Response
// @Failure      403  {object}  Response
// @Router       /share/{token}/account [post]
func (sc *ShareLinkController) SetupAccount(c *gin.Context) {
	var req AccountSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}

	projection, err := sc.svc.SetupAccount(c.Request.Context(),
		c.Param("token"), sessionTokenFrom(c, req.SessionToken),
		membership.AccountSetupInput{
			Email:           req.Email,
			Name:            req.Name,
			Password:        req.Password,
			ConfirmPassword: req.ConfirmPassword,
			SubscriptionID:  req.SubscriptionID,
		})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Message: "账号设置成功", Data: projection})
}

// CheckoutRequest PayPal 结账请求体
type CheckoutRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	SessionToken string `json:"sessionToken"`
}

// CreateCheckout godoc
// @Summary      发起 PayPal 结账
// @Description  为分享链接创建一笔待批准的 PayPal 订阅并返回跳转链接
// @Tags         分享链接
// @Accept       json
// @Produce      json
// @Param        token path string true "分享令牌"
// @Param        request body CheckoutRequest false "请求参数"
// @Success      200  {object}  Response
// @Failure      401  {object}  Response
// @Failure      502  {object}  Response
// @Failure      503  {object}  Response
// @Router       /share/{token}/paypal-checkout [post]
func (sc *ShareLinkController) CreateCheckout(c *gin.Context) {
	var req CheckoutRequest
	// 请求体可以为空
	_ = c.ShouldBindJSON(&req)

	result, err := sc.svc.CreateCheckout(c.Request.Context(),
		c.Param("token"), sessionTokenFrom(c, req.SessionToken), req.Email, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Data: result})
}
