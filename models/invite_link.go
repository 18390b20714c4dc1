package models

import (
	"crypto/subtle"
	"time"

	"gorm.io/gorm"
)

// InviteLink 分享链接模型：一个能力令牌，允许第三方替某个会员
// 完成付款、设置账号或生成邀请。donor 和 prospect 任一时刻只能挂其一。
type InviteLink struct {
	gorm.Model
	Token        string     `json:"token" gorm:"type:varchar(64);uniqueIndex;not null"`
	SessionToken string     `json:"-" gorm:"type:varchar(64);not null"`
	DonorID      *uint      `json:"donor_id,omitempty" gorm:"index"`
	Donor        *Donor     `json:"donor,omitempty" gorm:"foreignKey:DonorID"`
	ProspectID   *uint      `json:"prospect_id,omitempty" gorm:"index"`
	Prospect     *Prospect  `json:"prospect,omitempty" gorm:"foreignKey:ProspectID"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// TableName 设置表名
func (InviteLink) TableName() string {
	return "invite_links"
}

// VerifySessionToken 恒定时间比较会话令牌，防止时序侧信道
func (l *InviteLink) VerifySessionToken(token string) bool {
	if token == "" || l.SessionToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(l.SessionToken), []byte(token)) == 1
}
