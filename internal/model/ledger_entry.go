package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ============================================================================
// 账本条目类型
// ============================================================================

const (
	LedgerTypePurchase        = "PURCHASE"         // 购买入账
	LedgerTypeUsage           = "USAGE"            // 使用扣减
	LedgerTypeExpiration      = "EXPIRATION"       // 过期清退
	LedgerTypeAdminAdjustment = "ADMIN_ADJUSTMENT" // 管理员调账
)

// CreditScale 积分保留两位小数
const CreditScale = 2

// ============================================================================
// 积分账本
// ============================================================================

// LedgerEntry 积分账本条目
//
// 【设计原则】
// 1. 只追加，不删除
// 2. Debit 为入账，Credit 为出账，同一条目只有一边非零
// 3. PURCHASE 条目是 FIFO 扣减的容量来源：扣减时累加 Credit，过期时置 IsExpired，
//    这是条目唯一会被原地修改的两个字段
// 4. Balance 记录写入这一条之后的可用余额，便于对账
type LedgerEntry struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo     string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID      string            `gorm:"type:varchar(64);not null;index:idx_ledger_user_expires,priority:1;index:idx_ledger_user_created,priority:1" json:"user_id"`
	Type        string            `gorm:"type:varchar(32);not null" json:"type"`
	Debit       decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"debit"`
	Credit      decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"credit"`
	Balance     decimal.Decimal   `gorm:"type:decimal(15,2);not null" json:"balance"`
	Description string            `gorm:"type:text" json:"description"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	ReferenceID string            `gorm:"type:varchar(64);index" json:"reference_id,omitempty"` // 购买流水号或被过期的条目号
	CreatedAt   time.Time         `gorm:"not null;index:idx_ledger_user_created,priority:2" json:"created_at"`
	ExpiresAt   *time.Time        `gorm:"index:idx_ledger_user_expires,priority:2;index:idx_ledger_expires" json:"expires_at,omitempty"`
	IsExpired   bool              `gorm:"not null" json:"is_expired"`
}

func (LedgerEntry) TableName() string {
	return "credit_ledger"
}

// Remaining PURCHASE 条目剩余可扣减的积分
func (e *LedgerEntry) Remaining() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}
