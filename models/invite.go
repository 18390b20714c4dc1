package models

import (
	"time"

	"gorm.io/gorm"
)

// Invite 通过 Wizarr 门户签发的邀请记录
type Invite struct {
	gorm.Model
	DonorID        uint       `json:"donor_id" gorm:"not null;index"`
	Donor          *Donor     `json:"donor,omitempty" gorm:"foreignKey:DonorID"`
	Code           string     `json:"code" gorm:"type:varchar(128);uniqueIndex;not null"`
	URL            string     `json:"url" gorm:"type:varchar(512)"`
	RecipientEmail string     `json:"recipient_email" gorm:"type:varchar(191);index"`
	Note           string     `json:"note" gorm:"type:varchar(255)"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// TableName 设置表名
func (Invite) TableName() string {
	return "invites"
}

// IsRevoked 邀请是否已撤销
func (i *Invite) IsRevoked() bool {
	return i.RevokedAt != nil
}
