package model

import (
	"time"
)

// AccountBalance 账户余额投影表
type AccountBalance struct {
	AccountID string    `gorm:"primaryKey;type:varchar(64)"`
	Balance   int64     `gorm:"not null;default:0"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (AccountBalance) TableName() string {
	return "account_balance"
}

// OrgBalanceMirror 组织余额镜像表（兼容旧版按组织计费的读取方）
type OrgBalanceMirror struct {
	OrgID     string    `gorm:"primaryKey;type:varchar(64)"`
	Balance   int64     `gorm:"not null;default:0"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (OrgBalanceMirror) TableName() string {
	return "org_balance_mirror"
}

// All 需要迁移的全部模型
func All() []any {
	return []any{
		&LedgerEntry{},
		&CreditGrant{},
		&AccountBalance{},
		&OrgBalanceMirror{},
	}
}
