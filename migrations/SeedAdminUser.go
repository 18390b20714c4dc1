package migrations

import (
	"log"
	"os"

	"github.com/jjermany/Plex-Donate-sub002/models"
)

// SeedAdminUser 没有任何后台用户时，用环境变量种一个管理员。
// ADMIN_USERNAME / ADMIN_PASSWORD / ADMIN_EMAIL 缺省为 admin / admin123 / admin@localhost。
func SeedAdminUser() {
	var count int64
	if err := models.DB.Model(&models.User{}).Count(&count).Error; err != nil {
		log.Printf("统计后台用户失败: %v", err)
		return
	}
	if count > 0 {
		return
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = "admin"
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		email = "admin@localhost"
	}

	admin := models.User{
		Username: username,
		Password: password,
		Email:    email,
		Role:     models.RoleAdmin,
	}
	if err := admin.HashPassword(); err != nil {
		log.Printf("初始管理员密码加密失败: %v", err)
		return
	}
	if err := models.DB.Create(&admin).Error; err != nil {
		log.Printf("创建初始管理员失败: %v", err)
		return
	}

	log.Printf("已创建初始管理员 %s，请尽快修改密码", username)
}

// NormalizeDonorEmails 把历史数据里的会员邮箱统一成小写。
// 邮箱唯一索引按原样比较，大小写混用的旧数据会绕过去重。
func NormalizeDonorEmails() {
	var donors []models.Donor
	if err := models.DB.Find(&donors).Error; err != nil {
		log.Printf("读取会员列表失败: %v", err)
		return
	}

	updated := 0
	for i := range donors {
		normalized := models.NormalizeEmail(donors[i].Email)
		if normalized == donors[i].Email {
			continue
		}
		if err := models.DB.Model(&models.Donor{}).
			Where("id = ?", donors[i].ID).
			Update("email", normalized).Error; err != nil {
			log.Printf("归一化会员 %d 邮箱失败: %v", donors[i].ID, err)
			continue
		}
		updated++
	}
	if updated > 0 {
		log.Printf("成功归一化了 %d 个会员邮箱", updated)
	}
}
