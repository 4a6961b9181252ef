package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 本地消息表
// 与账本写在同一个事务里，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null" json:"status"`
	RetryCount int       `gorm:"not null" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// CreditEvent 积分变动事件，作为 OutboxMessage 的 Payload
type CreditEvent struct {
	EventKey    string          `json:"event_key"`
	Type        string          `json:"type"` // 与账本条目类型一致
	UserID      string          `json:"user_id"`
	EntryNo     string          `json:"entry_no"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
