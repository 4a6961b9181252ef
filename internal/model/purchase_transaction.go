package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PurchaseStatusCompleted = "completed"
)

// PurchaseTransaction 积分购买记录
// 购买成功时写入一次，之后不再修改，相当于收据
type PurchaseTransaction struct {
	ID                   int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo        string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID               string            `gorm:"type:varchar(64);not null;index:idx_purchase_user_date,priority:1" json:"user_id"`
	PackageID            int64             `gorm:"not null;index" json:"package_id"`
	PackageName          string            `gorm:"type:varchar(128);not null" json:"package_name"`
	CreditsPurchased     int64             `gorm:"not null" json:"credits_purchased"`
	Amount               decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status               string            `gorm:"type:varchar(20);not null" json:"status"`
	PaymentMethod        string            `gorm:"type:varchar(32)" json:"payment_method"`
	PaymentTransactionID *string           `gorm:"type:varchar(128);uniqueIndex" json:"payment_transaction_id,omitempty"` // 支付网关流水号，透传，用于调用方去重
	PurchaseDate         time.Time         `gorm:"not null;index:idx_purchase_user_date,priority:2" json:"purchase_date"`
	ExpiresAt            time.Time         `gorm:"not null" json:"expires_at"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty"`
}

func (PurchaseTransaction) TableName() string {
	return "credit_purchase_transaction"
}
