package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/membership"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// InviteController 后台邀请管理
type InviteController struct {
	repo *repository.Repository
	svc  *membership.Service
}

// NewInviteController 创建邀请管理控制器
func NewInviteController(repo *repository.Repository, svc *membership.Service) *InviteController {
	return &InviteController{repo: repo, svc: svc}
}

// ListInvites godoc
// @Summary      获取邀请列表
// @Description  分页获取全部邀请记录，可按撤销状态过滤
// @Tags         邀请管理
// @Produce      json
// @Security     Bearer
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Param        active query bool false "只看未撤销的"
// @Success      200  {object}  Response
// @Router       /admin/invites [get]
func (ic *InviteController) ListInvites(c *gin.Context) {
	page := utils.GetPage(c)
	pageSize := utils.GetPageSize(c)

	query := ic.repo.DB().Model(&models.Invite{})
	if active, _ := strconv.ParseBool(c.DefaultQuery("active", "false")); active {
		query = query.Where("revoked_at IS NULL")
	}

	var total int64
	query.Count(&total)

	var invites []models.Invite
	if err := query.Preload("Donor", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "email", "name", "status")
	}).Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&invites).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "获取邀请列表失败"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"items":     invites,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}})
}

// RevokeInvite godoc
// @Summary      撤销邀请
// @Description  在门户上撤销邀请（404 视为已撤销）并盖本地撤销时间戳
// @Tags         邀请管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "邀请ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/invites/{id} [delete]
func (ic *InviteController) RevokeInvite(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的邀请ID"})
		return
	}

	var invite models.Invite
	if err := ic.repo.DB().First(&invite, id).Error; err != nil {
		c.JSON(http.StatusNotFound, Response{Error: "邀请不存在"})
		return
	}
	if invite.IsRevoked() {
		c.JSON(http.StatusOK, Response{Message: "邀请已是撤销状态"})
		return
	}

	if err := ic.svc.RevokePortalInvite(c.Request.Context(), &invite); err != nil {
		respondError(c, err)
		return
	}

	ic.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":    "revoke_invite",
		"invite_id": invite.ID,
		"code":      invite.Code,
	})
	c.JSON(http.StatusOK, Response{Message: "邀请已撤销"})
}
