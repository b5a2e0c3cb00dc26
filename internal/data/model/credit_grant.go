package model

import (
	"time"
)

// CreditGrant 积分 grant 表（不删除）
type CreditGrant struct {
	CreditGrantID string    `gorm:"primaryKey;type:varchar(36)"`
	AccountID     string    `gorm:"type:varchar(64);not null;index:idx_grant_account_open,priority:1"`
	Type          string    `gorm:"type:varchar(16);not null"` // SUBSCRIPTION / TOPUP
	Amount        int64     `gorm:"not null"`
	UsedAmount    int64     `gorm:"not null;default:0"`
	ExpiredAmount int64     `gorm:"not null;default:0"` // 过期清扫核销的积分
	ExpiresAt     time.Time `gorm:"not null;index:idx_grant_account_open,priority:2"`
	OriginRef     string    `gorm:"type:varchar(128);not null;default:''"`
	LedgerID      string    `gorm:"type:varchar(36);not null;uniqueIndex"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (CreditGrant) TableName() string {
	return "credit_grants"
}
