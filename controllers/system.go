package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"github.com/jjermany/Plex-Donate-sub002/models"
)

type SystemStatsResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type SystemStats struct {
	TotalDonors    int64 `json:"total_donors"`
	ActiveDonors   int64 `json:"active_donors"`
	TotalProspects int64 `json:"total_prospects"`
	ActiveInvites  int64 `json:"active_invites"`
	TotalPayments  int64 `json:"total_payments"`
}

type SystemStatus struct {
	CPUUsage      float64        `json:"cpuUsage"`
	MemoryTotal   uint64         `json:"memoryTotal"`
	MemoryUsed    uint64         `json:"memoryUsed"`
	MemoryUsage   float64        `json:"memoryUsage"`
	DiskTotal     uint64         `json:"diskTotal"`
	DiskUsed      uint64         `json:"diskUsed"`
	DiskUsage     float64        `json:"diskUsage"`
	NetworkStatus NetworkMetrics `json:"networkStatus"`
	Uptime        float64        `json:"uptime"`
}

type NetworkMetrics struct {
	RxBytes     uint64 `json:"rxBytes"`
	TxBytes     uint64 `json:"txBytes"`
	Connections int    `json:"connections"`
}

// GetSystemStats 获取系统统计信息
// @Summary 获取系统统计信息
// @Description 获取会员、意向用户、邀请和支付的总量统计
// @Tags 系统管理
// @Produce json
// @Success 200 {object} SystemStatsResponse
// @Router /admin/stats [get]
func GetSystemStats(c *gin.Context) {
	var stats SystemStats

	// 统计会员总数和生效会员数
	models.DB.Model(&models.Donor{}).Count(&stats.TotalDonors)
	models.DB.Model(&models.Donor{}).Where("status = ?", models.DonorStatusActive).Count(&stats.ActiveDonors)

	// 统计意向用户总数
	models.DB.Model(&models.Prospect{}).Count(&stats.TotalProspects)

	// 统计未撤销邀请数
	models.DB.Model(&models.Invite{}).Where("revoked_at IS NULL").Count(&stats.ActiveInvites)

	// 统计支付笔数
	models.DB.Model(&models.Payment{}).Count(&stats.TotalPayments)

	c.JSON(http.StatusOK, SystemStatsResponse{
		Code:    http.StatusOK,
		Message: "获取系统统计信息成功",
		Data:    stats,
	})
}

// GetSystemStatus 获取系统状态信息
// @Summary 获取系统状态信息
// @Description 获取系统CPU、内存、磁盘和网络等实时状态信息
// @Tags 系统管理
// @Produce json
// @Success 200 {object} SystemStatsResponse
// @Router /admin/system/status [get]
func GetSystemStatus(c *gin.Context) {
	status := SystemStatus{}

	// 获取系统运行时间
	if uptime, err := host.Uptime(); err == nil {
		status.Uptime = float64(uptime)
	}

	// 获取CPU使用率
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		status.CPUUsage = cpuPercent[0]
	}

	// 获取内存信息
	if memInfo, err := mem.VirtualMemory(); err == nil {
		status.MemoryTotal = memInfo.Total
		status.MemoryUsed = memInfo.Used
		status.MemoryUsage = memInfo.UsedPercent
	}

	// 获取磁盘信息
	if diskInfo, err := disk.Usage("/"); err == nil {
		status.DiskTotal = diskInfo.Total
		status.DiskUsed = diskInfo.Used
		status.DiskUsage = diskInfo.UsedPercent
	}

	// 获取网络信息
	networkMetrics := NetworkMetrics{}
	if netStats, err := net.IOCounters(false); err == nil && len(netStats) > 0 {
		networkMetrics.RxBytes = netStats[0].BytesRecv
		networkMetrics.TxBytes = netStats[0].BytesSent
	}

	if connections, err := net.Connections("all"); err == nil {
		networkMetrics.Connections = len(connections)
	}

	status.NetworkStatus = networkMetrics

	c.JSON(http.StatusOK, SystemStatsResponse{
		Code:    http.StatusOK,
		Message: "获取系统状态信息成功",
		Data:    status,
	})
}
