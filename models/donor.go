package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 捐赠会员状态常量
const (
	DonorStatusPending   = "pending"   // 已创建但尚未收到付款
	DonorStatusActive    = "active"    // 订阅生效中
	DonorStatusCancelled = "cancelled" // 订阅已取消
	DonorStatusSuspended = "suspended" // 订阅被暂停
	DonorStatusExpired   = "expired"   // 订阅已过期
)

// Donor 捐赠会员模型（数据库模型）
type Donor struct {
	gorm.Model
	Email          string     `json:"email" gorm:"type:varchar(191);uniqueIndex;not null"`
	Name           string     `json:"name" gorm:"type:varchar(100)"`
	PasswordHash   string     `json:"-" gorm:"type:varchar(255)"`
	SubscriptionID *string    `json:"subscription_id" gorm:"type:varchar(191);uniqueIndex"`
	Status         string     `json:"status" gorm:"type:varchar(20);default:'pending'"`
	LastPaymentAt  *time.Time `json:"last_payment_at,omitempty"`
	// 最近一次已改动状态的 PayPal 事件时间，重启后乱序重投也不会回退状态
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// TableName 设置表名
func (Donor) TableName() string {
	return "donors"
}

// NormalizeEmail 邮箱统一转为小写并去除首尾空格
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SetPassword 对明文密码进行 bcrypt 加密后存储
func (d *Donor) SetPassword(password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	d.PasswordHash = string(hashed)
	return nil
}

// ComparePassword 校验明文密码
func (d *Donor) ComparePassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password))
}

// IsActive 当前是否处于可生成邀请的状态
func (d *Donor) IsActive() bool {
	return d.Status == DonorStatusActive
}

// StatusBlocksAccountSetup 这些状态下不允许通过分享链接重设账号
func StatusBlocksAccountSetup(status string) bool {
	switch status {
	case DonorStatusCancelled, DonorStatusSuspended, DonorStatusExpired:
		return true
	}
	return false
}
