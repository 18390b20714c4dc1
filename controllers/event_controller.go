package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// EventController 后台审计日志查询（webhook 事件、邀请签发/撤销、管理操作）
type EventController struct {
	repo *repository.Repository
}

// NewEventController 创建审计日志控制器
func NewEventController(repo *repository.Repository) *EventController {
	return &EventController{repo: repo}
}

// ListEvents godoc
// @Summary      获取审计事件列表
// @Description  分页获取审计事件，可按类型前缀过滤（如 webhook、invite）
// @Tags         审计日志
// @Produce      json
// @Security     Bearer
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Param        type query string false "事件类型前缀"
// @Success      200  {object}  Response
// @Router       /admin/events [get]
func (ec *EventController) ListEvents(c *gin.Context) {
	page := utils.GetPage(c)
	pageSize := utils.GetPageSize(c)

	query := ec.repo.DB().Model(&models.Event{})
	if prefix := c.Query("type"); prefix != "" {
		query = query.Where("type LIKE ?", prefix+"%")
	}

	var total int64
	query.Count(&total)

	var events []models.Event
	if err := query.Order("occurred_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&events).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "获取审计事件失败"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"items":     events,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}})
}
