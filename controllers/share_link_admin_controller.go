package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// ShareLinkAdminController 后台分享链接管理
type ShareLinkAdminController struct {
	repo *repository.Repository
}

// NewShareLinkAdminController 创建分享链接管理控制器
func NewShareLinkAdminController(repo *repository.Repository) *ShareLinkAdminController {
	return &ShareLinkAdminController{repo: repo}
}

// ListShareLinks godoc
// @Summary      获取分享链接列表
// @Description  分页获取全部分享链接及其挂载对象
// @Tags         分享链接管理
// @Produce      json
// @Security     Bearer
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Success      200  {object}  Response
// @Router       /admin/share-links [get]
func (sc *ShareLinkAdminController) ListShareLinks(c *gin.Context) {
	page := utils.GetPage(c)
	pageSize := utils.GetPageSize(c)

	query := sc.repo.DB().Model(&models.InviteLink{})
	var total int64
	query.Count(&total)

	var links []models.InviteLink
	if err := query.Preload("Donor", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "email", "name", "status")
	}).Preload("Prospect", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "email", "name")
	}).Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&links).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "获取分享链接列表失败"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"items":     links,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}})
}

// GetShareLink godoc
// @Summary      获取单个分享链接
// @Description  返回分享链接详情（含会话令牌，仅后台可见）
// @Tags         分享链接管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "分享链接ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/share-links/{id} [get]
func (sc *ShareLinkAdminController) GetShareLink(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的分享链接ID"})
		return
	}

	var link models.InviteLink
	if err := sc.repo.DB().Preload("Donor").Preload("Prospect").
		First(&link, id).Error; err != nil {
		c.JSON(http.StatusNotFound, Response{Error: "分享链接不存在"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"link":          link,
		"session_token": link.SessionToken,
	}})
}

// DeleteShareLink godoc
// @Summary      删除分享链接
// @Description  作废一条分享链接，持有旧令牌的人将无法再访问
// @Tags         分享链接管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "分享链接ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/share-links/{id} [delete]
func (sc *ShareLinkAdminController) DeleteShareLink(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的分享链接ID"})
		return
	}

	result := sc.repo.DB().Delete(&models.InviteLink{}, id)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "删除分享链接失败"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, Response{Error: "分享链接不存在"})
		return
	}

	sc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":  "delete_share_link",
		"link_id": id,
	})
	c.JSON(http.StatusOK, Response{Message: "分享链接删除成功"})
}
