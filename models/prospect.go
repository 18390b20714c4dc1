package models

import (
	"time"

	"gorm.io/gorm"
)

// Prospect 意向用户模型：付款前挂在分享链接上的潜在会员
type Prospect struct {
	gorm.Model
	Email            string     `json:"email" gorm:"type:varchar(191);index"`
	Name             string     `json:"name" gorm:"type:varchar(100)"`
	ConvertedAt      *time.Time `json:"converted_at,omitempty"`
	ConvertedDonorID *uint      `json:"converted_donor_id,omitempty"`
}

// TableName 设置表名
func (Prospect) TableName() string {
	return "prospects"
}
