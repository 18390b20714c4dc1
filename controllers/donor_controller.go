package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/membership"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// DonorController 后台会员管理
type DonorController struct {
	repo *repository.Repository
	svc  *membership.Service
}

// NewDonorController 创建会员管理控制器
func NewDonorController(repo *repository.Repository, svc *membership.Service) *DonorController {
	return &DonorController{repo: repo, svc: svc}
}

// GetAllDonors godoc
// @Summary      获取会员列表
// @Description  分页获取全部会员，可按状态或关键字过滤
// @Tags         会员管理
// @Produce      json
// @Security     Bearer
// @Param        page query int false "页码"
// @Param        page_size query int false "每页数量"
// @Param        status query string false "状态过滤"
// @Param        search query string false "按邮箱或姓名搜索"
// @Success      200  {object}  Response
// @Router       /admin/donors [get]
func (dc *DonorController) GetAllDonors(c *gin.Context) {
	page := utils.GetPage(c)
	pageSize := utils.GetPageSize(c)

	query := dc.repo.DB().Model(&models.Donor{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("email LIKE ? OR name LIKE ?", like, like)
	}

	var total int64
	query.Count(&total)

	var donors []models.Donor
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&donors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "获取会员列表失败"})
		return
	}

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"items":     donors,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}})
}

// GetDonor godoc
// @Summary      获取单个会员
// @Description  返回会员详情及其邀请和支付记录
// @Tags         会员管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "会员ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/donors/{id} [get]
func (dc *DonorController) GetDonor(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的会员ID"})
		return
	}

	donor, err := dc.repo.GetDonorByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	invites, _ := dc.repo.GetActiveInvitesForDonor(donor.ID)

	var payments []models.Payment
	dc.repo.DB().Where("donor_id = ?", donor.ID).
		Order("occurred_at DESC").Limit(50).Find(&payments)

	var links []models.InviteLink
	dc.repo.DB().Where("donor_id = ?", donor.ID).Find(&links)

	c.JSON(http.StatusOK, Response{Data: gin.H{
		"donor":       donor,
		"invites":     invites,
		"payments":    payments,
		"share_links": links,
	}})
}

// CreateDonorRequest 创建会员请求体
type CreateDonorRequest struct {
	Email          string `json:"email" binding:"required"`
	Name           string `json:"name"`
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
}

// CreateDonor godoc
// @Summary      创建会员
// @Description  管理员手工录入一个会员
// @Tags         会员管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        request body CreateDonorRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      400  {object}  Response
// @Router       /admin/donors [post]
func (dc *DonorController) CreateDonor(c *gin.Context) {
	var req CreateDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}
	if !utils.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, Response{Error: "邮箱格式不正确"})
		return
	}

	status := req.Status
	if status == "" {
		status = models.DonorStatusPending
	}
	donor := &models.Donor{
		Email:  req.Email,
		Name:   req.Name,
		Status: status,
	}
	if req.SubscriptionID != "" {
		donor.SubscriptionID = &req.SubscriptionID
	}

	if err := dc.repo.CreateDonor(donor); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "创建会员失败，邮箱或订阅ID可能已存在"})
		return
	}

	dc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":   "create_donor",
		"donor_id": donor.ID,
	})
	c.JSON(http.StatusOK, Response{Message: "会员创建成功", Data: donor})
}

// UpdateDonorRequest 更新会员请求体
type UpdateDonorRequest struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
}

// UpdateDonor godoc
// @Summary      更新会员信息
// @Description  更新会员的联系方式、订阅ID或状态
// @Tags         会员管理
// @Accept       json
// @Produce      json
// @Security     Bearer
// @Param        id path int true "会员ID"
// @Param        request body UpdateDonorRequest true "请求参数"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/donors/{id} [put]
func (dc *DonorController) UpdateDonor(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的会员ID"})
		return
	}

	donor, err := dc.repo.GetDonorByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	var req UpdateDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的请求参数: " + err.Error()})
		return
	}

	if req.Email != "" && !utils.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, Response{Error: "邮箱格式不正确"})
		return
	}
	if req.Email != "" || req.Name != "" {
		if err := dc.repo.UpdateDonorContact(donor.ID, req.Email, req.Name); err != nil {
			c.JSON(http.StatusInternalServerError, Response{Error: "更新会员失败"})
			return
		}
	}
	if req.SubscriptionID != "" {
		if err := dc.repo.UpdateDonorSubscriptionID(donor.ID, req.SubscriptionID); err != nil {
			c.JSON(http.StatusBadRequest, Response{Error: "订阅ID已被其他会员占用"})
			return
		}
	}
	if req.Status != "" {
		switch req.Status {
		case models.DonorStatusPending, models.DonorStatusActive,
			models.DonorStatusCancelled, models.DonorStatusSuspended, models.DonorStatusExpired:
			if err := dc.repo.UpdateDonorStatus(donor.ID, req.Status, nil); err != nil {
				c.JSON(http.StatusInternalServerError, Response{Error: "更新会员状态失败"})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, Response{Error: "无效的会员状态"})
			return
		}
	}

	dc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":   "update_donor",
		"donor_id": donor.ID,
	})

	updated, err := dc.repo.GetDonorByID(donor.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Message: "会员更新成功", Data: updated})
}

// ForceRevoke godoc
// @Summary      强制收回会员访问
// @Description  撤销会员全部邀请并移除媒体服务器用户，状态转为 cancelled
// @Tags         会员管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "会员ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/donors/{id}/revoke [post]
func (dc *DonorController) ForceRevoke(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的会员ID"})
		return
	}

	if err := dc.svc.ForceRevokeDonor(c.Request.Context(), uint(id)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Message: "会员访问已收回"})
}

// IssueInvite godoc
// @Summary      为会员签发邀请
// @Description  管理员手工为会员签发一条门户邀请（同邮箱未撤销邀请直接复用）
// @Tags         会员管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "会员ID"
// @Success      200  {object}  Response
// @Failure      403  {object}  Response
// @Failure      404  {object}  Response
// @Failure      409  {object}  Response
// @Router       /admin/donors/{id}/invite [post]
func (dc *DonorController) IssueInvite(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的会员ID"})
		return
	}

	donor, err := dc.repo.GetDonorByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	if !donor.IsActive() {
		c.JSON(http.StatusForbidden, Response{Error: "订阅未处于生效状态，无法签发邀请 (subscription inactive)"})
		return
	}

	invite, err := dc.svc.EnsureActiveInvite(c.Request.Context(), donor, donor.Email, "后台手工签发")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Message: "邀请已签发", Data: invite})
}

// CreateShareLink godoc
// @Summary      为会员铸造分享链接
// @Description  生成一条挂在会员名下的分享链接及配套会话令牌
// @Tags         会员管理
// @Produce      json
// @Security     Bearer
// @Param        id path int true "会员ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  Response
// @Router       /admin/donors/{id}/share-link [post]
func (dc *DonorController) CreateShareLink(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "无效的会员ID"})
		return
	}

	donor, err := dc.repo.GetDonorByID(uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	link, err := dc.repo.CreateShareLink(&donor.ID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Error: "创建分享链接失败"})
		return
	}

	dc.repo.LogEvent(models.EventAdminAction, map[string]interface{}{
		"action":   "create_share_link",
		"donor_id": donor.ID,
		"link_id":  link.ID,
	})
	c.JSON(http.StatusOK, Response{
		Message: "分享链接创建成功",
		Data: gin.H{
			"token":         link.Token,
			"session_token": link.SessionToken,
		},
	})
}
