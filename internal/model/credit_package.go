package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditPackage 积分套餐
// 被购买引用后只允许改动对后续购买生效的字段，历史购买记录里保存了当时的快照
type CreditPackage struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(128);not null" json:"name"`
	Credits      int64           `gorm:"not null" json:"credits"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	ValidityDays int             `gorm:"not null" json:"validity_days"`
	IsActive     bool            `gorm:"not null;index" json:"is_active"`
	Description  string          `gorm:"type:text" json:"description"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditPackage) TableName() string {
	return "credit_package"
}
