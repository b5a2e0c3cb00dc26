package model

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerEntry 积分流水表（只追加）
type LedgerEntry struct {
	LedgerEntryID  string         `gorm:"primaryKey;type:varchar(36)"`
	AccountID      string         `gorm:"type:varchar(64);not null;index:idx_ledger_account_created,priority:1"`
	OrgID          string         `gorm:"type:varchar(64);not null;default:''"`
	Kind           string         `gorm:"type:varchar(16);not null"` // allocation / deduction
	Amount         int64          `gorm:"not null"`
	Reason         string         `gorm:"type:varchar(255);not null;default:''"`
	BalanceAfter   int64          `gorm:"not null"`
	IdempotencyKey *string        `gorm:"type:varchar(128);uniqueIndex:uk_ledger_idempotency_key"` // NULL 不参与唯一约束
	ActionKey      string         `gorm:"type:varchar(64);not null;default:'';index"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_ledger_account_created,priority:2"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
