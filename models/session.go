package models

import (
	"time"

	"gorm.io/gorm"
)

// Session 服务端存储的会话（分享链接会话签发记录）
type Session struct {
	gorm.Model
	SessionID string    `json:"session_id" gorm:"type:varchar(191);uniqueIndex;not null"`
	Data      string    `json:"data" gorm:"type:text"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

// TableName 设置表名
func (Session) TableName() string {
	return "sessions"
}

// IsExpired 会话是否已过期
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
