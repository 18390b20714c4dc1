package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// ProspectController 后台意向用户管理
type ProspectController struct {
	repo *repository.Repository
}

// NewProspectController 创建意向用户管理控制器
func NewProspectController(repo *repository.Repository) *ProspectController {
	return &ProspectController{repo: repo}
}

// GetAllProspects godoc
// @Summary      获取意向用户列表
// @Description  分页获取全部意向用户
// @Tags         意向用户管理
// @Produce      json
// @Security     Bearer
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Success      200  {object}  Response
// @Router       /admin/prospects [get]
func (pc *ProspectController) GetAllProspects(c *gin.Context) {
	page := utils.GetPage(c)
	pageSize := utils.GetPageSize(c)

	query := pc.repo.DB().Model(&models.Prospect{})
	var total int64
	query.Count(&total)

	var prospects []models.Prospect
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&prospects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "获取意向用户列表失败"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"items":     prospects,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}})
}

// CreateProspectRequest 创建意向用户请求体
type CreateProspectRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateProspect godoc
// @Summary      创建意向用户
// @Description  录入一个意向用户并附带铸造分享链接
// @Tags         意向用户管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        request body CreateProspectRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Router       /admin/prospects [post]
func (pc *ProspectController) CreateProspect(c *gin.Context) {
	var req CreateProspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}
	if req.Email != "" && !utils.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, Response{Error: "邮箱格式不正确"})
		return
	}

	prospect := &models.Prospect{Email: req.Email, Name: req.Name}
	if err := pc.repo.CreateProspect(prospect); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "创建意向用户失败"})
		return
	}

	link, err := pc.repo.CreateShareLink(nil, &prospect.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "创建分享链接失败"})
		return
	}

	pc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":      "create_prospect",
		"prospect_id": prospect.ID,
		"link_id":     link.ID,
	})
	c.JSON(http.StatusOK, Response{
		Message: "意向用户创建成功",
		Data: gin.H{
			"prospect":      prospect,
			"token":         link.Token,
			"session_token": link.SessionToken,
		},
	})
}

// GetProspect godoc
// @Summary      获取单个意向用户
// @Tags         意向用户管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "意向用户ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/prospects/{id} [get]
func (pc *ProspectController) GetProspect(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的意向用户ID"})
		return
	}

	prospect, err := pc.repo.GetProspectByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	var links []models.InviteLink
	pc.repo.DB().Where("prospect_id = ?", prospect.ID).Find(&links)

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"prospect":    prospect,
		"share_links": links,
	}})
}

// DeleteProspect godoc
// @Summary      删除意向用户
// @Description  删除未转化的意向用户
// @Tags         意向用户管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "意向用户ID"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/prospects/{id} [delete]
func (pc *ProspectController) DeleteProspect(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的意向用户ID"})
		return
	}

	prospect, err := pc.repo.GetProspectByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	if prospect.ConvertedAt != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "意向用户已转化为会员，不能删除"})
		return
	}

	if err := pc.repo.DB().Delete(&models.Prospect{}, prospect.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "删除意向用户失败"})
		return
	}
	c.JSON(http.StatusOK, Response{Message: "意向用户删除成功"})
}
