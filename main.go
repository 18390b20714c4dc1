package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jjermany/Plex-Donate-sub002/config"
	"github.com/jjermany/Plex-Donate-sub002/controllers"
	_ "github.com/jjermany/Plex-Donate-sub002/docs" // 导入 swagger 生成的文档
	"github.com/jjermany/Plex-Donate-sub002/middleware"
	"github.com/jjermany/Plex-Donate-sub002/migrations"
	"github.com/jjermany/Plex-Donate-sub002/models"
	"github.com/jjermany/Plex-Donate-sub002/repository"
	"github.com/jjermany/Plex-Donate-sub002/services/mail"
	"github.com/jjermany/Plex-Donate-sub002/services/mediaserver"
	"github.com/jjermany/Plex-Donate-sub002/services/membership"
	"github.com/jjermany/Plex-Donate-sub002/services/settings"
	"github.com/jjermany/Plex-Donate-sub002/services/transport"
	"github.com/jjermany/Plex-Donate-sub002/utils"
)

// @title           Plex 捐赠订阅 API
// @version         1.0
// @description     打通 PayPal 订阅、Wizarr 邀请门户和 Plex 服务器的会员后端服务

// @host      localhost:8081
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description 请在此输入 Bearer token
func main() {
	// 初始化日志系统
	if err := utils.InitLogger(); err != nil {
		log.Fatal("Error initializing logger:", err)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用环境变量")
	}

	db, err := config.InitDB()
	if err != nil {
		log.Fatal("Error connecting to database:", err)
	}

	// 设置全局数据库连接
	models.SetDB(db)

	// 启动期数据修补
	migrations.SeedAdminUser()
	migrations.NormalizeDonorEmails()

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// 添加 swagger 路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 初始化各种服务
	repo := repository.New(db)
	settingsService := settings.NewService(db)
	mailService := mail.NewMailService(settingsService)
	tp := transport.NewClient(transport.DefaultTimeout)
	membershipService := membership.NewService(repo, settingsService, mailService, tp)

	// mediaServer 配置一变就清掉服务器发现缓存
	settingsService.OnChange(func(group string) {
		if group == settings.GroupMediaServer {
			mediaserver.ResetCaches()
		}
	})

	// webhook 事件异步处理队列
	webhookQueue := membership.NewWebhookQueue(membershipService)
	webhookQueue.Start()

	// 初始化控制器
	authController := controllers.NewAuthController(db)
	shareLinkController := controllers.NewShareLinkController(membershipService)
	webhookController := controllers.NewWebhookController(repo, membershipService, webhookQueue)
	donorController := controllers.NewDonorController(repo, membershipService)
	prospectController := controllers.NewProspectController(repo)
	inviteController := controllers.NewInviteController(repo, membershipService)
	shareLinkAdminController := controllers.NewShareLinkAdminController(repo)
	settingsController := controllers.NewSettingsController(repo, settingsService, mailService, tp)
	eventController := controllers.NewEventController(repo)

	// 分享链接公开路由（凭 token + 会话令牌访问，无需登录）
	share := r.Group("/share")
	{
		share.GET("/:token", shareLinkController.GetShareLink)
		share.POST("/:token", shareLinkController.GenerateInvite)
		share.POST("/:token/account", shareLinkController.SetupAccount)
		share.POST("/:token/paypal-checkout", shareLinkController.CreateCheckout)
	}

	// PayPal 回调地址（在 PayPal 后台配置，不走 v1 前缀）
	r.POST("/api/webhook/paypal", webhookController.HandlePayPal)

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		// 公开路由
		v1.POST("/login", authController.Login)
		v1.GET("/announcements", settingsController.GetAnnouncements)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.GET("/user/info", authController.GetUserInfo)
		}

		// 管理员路由组
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware())
		admin.Use(middleware.RequireRoles(models.RoleAdmin))
		{
			// 会员管理路由
			admin.GET("/donors", donorController.GetAllDonors)
			admin.POST("/donors", donorController.CreateDonor)
			admin.GET("/donors/:id", donorController.GetDonor)
			admin.PUT("/donors/:id", donorController.UpdateDonor)
			admin.POST("/donors/:id/revoke", donorController.ForceRevoke)
			admin.POST("/donors/:id/invite", donorController.IssueInvite)
			admin.POST("/donors/:id/share-link", donorController.CreateShareLink)

			// 意向用户管理路由
			admin.GET("/prospects", prospectController.GetAllProspects)
			admin.POST("/prospects", prospectController.CreateProspect)
			admin.GET("/prospects/:id", prospectController.GetProspect)
			admin.DELETE("/prospects/:id", prospectController.DeleteProspect)

			// 邀请管理路由
			admin.GET("/invites", inviteController.ListInvites)
			admin.DELETE("/invites/:id", inviteController.RevokeInvite)

			// 分享链接管理路由
			admin.GET("/share-links", shareLinkAdminController.ListShareLinks)
			admin.GET("/share-links/:id", shareLinkAdminController.GetShareLink)
			admin.DELETE("/share-links/:id", shareLinkAdminController.DeleteShareLink)

			// 配置管理路由
			admin.GET("/settings/:group", settingsController.GetGroup)
			admin.PUT("/settings/:group", settingsController.UpdateGroup)
			admin.POST("/settings/:group/test-portal", settingsController.TestPortal)
			admin.POST("/settings/:group/test-media-server", settingsController.TestMediaServer)
			admin.POST("/settings/:group/test-smtp", settingsController.TestSMTP)

			// 审计日志路由
			admin.GET("/events", eventController.ListEvents)

			// 系统统计和状态路由
			admin.GET("/stats", controllers.GetSystemStats)
			admin.GET("/system/status", controllers.GetSystemStatus)
			admin.GET("/logs", controllers.GetLogs)
		}

		// ！！！单独注册WebSocket日志路由，不加任何中间件！！！
		v1.GET("/admin/logs/watch", controllers.WatchLogs)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	r.Run(":" + port)
}
