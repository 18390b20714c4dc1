package models

import (
	"time"

	"gorm.io/gorm"
)

// 审计事件类型常量
const (
	EventWebhookReceived      = "webhook.received"
	EventWebhookIgnored       = "webhook.ignored"
	EventWebhookError         = "webhook.error"
	EventInviteIssued         = "invite.issued"
	EventInviteRevoked        = "invite.revoked"
	EventShareInviteGenerated = "share.invite.generated"
	EventAccountSetup         = "share.account.setup"
	EventServerSelection      = "portal.server_selection_required"
	EventAdminAction          = "admin.action"
)

// Event 审计日志：只追加，不修改
type Event struct {
	gorm.Model
	Type       string    `json:"type" gorm:"type:varchar(100);index;not null"`
	Payload    string    `json:"payload" gorm:"type:text"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TableName 设置表名
func (Event) TableName() string {
	return "events"
}
