package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserCreditSummary 用户积分汇总
// 账本的冗余缓存，任何一次提交之后都满足 Total == Used + Available + Expired
type UserCreditSummary struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	TotalCredits     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total_credits"`
	UsedCredits      decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"used_credits"`
	AvailableCredits decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"available_credits"`
	ExpiredCredits   decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"expired_credits"`
	LastUpdated      time.Time       `gorm:"not null" json:"last_updated"`
}

func (UserCreditSummary) TableName() string {
	return "user_credit_summary"
}

// Reconciled 汇总是否自洽
func (s *UserCreditSummary) Reconciled() bool {
	return s.TotalCredits.Equal(s.UsedCredits.Add(s.AvailableCredits).Add(s.ExpiredCredits))
}
