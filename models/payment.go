package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment 支付台账：记录 PayPal 上报的每一笔付款
type Payment struct {
	gorm.Model
	DonorID       uint      `json:"donor_id" gorm:"not null;index"`
	TransactionID string    `json:"transaction_id" gorm:"type:varchar(191);uniqueIndex;not null"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency" gorm:"type:varchar(10)"`
	Status        string    `json:"status" gorm:"type:varchar(30)"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TableName 设置表名
func (Payment) TableName() string {
	return "payments"
}
