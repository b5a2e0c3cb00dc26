package service

import "time"

// 请求/响应结构，字段使用 snake_case JSON

// Grant grant 视图
type Grant struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Type       string    `json:"type"`
	Amount     int64     `json:"amount"`
	UsedAmount int64     `json:"used_amount"`
	Available  int64     `json:"available"`
	ExpiresAt  time.Time `json:"expires_at"`
	OriginRef  string    `json:"origin_ref,omitempty"`
	LedgerID   string    `json:"ledger_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// LedgerEntry 流水视图
type LedgerEntry struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	OrgID          string         `json:"org_id,omitempty"`
	Kind           string         `json:"kind"`
	Amount         int64          `json:"amount"`
	Reason         string         `json:"reason"`
	BalanceAfter   int64          `json:"balance_after"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	ActionKey      string         `json:"action_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// GrantDeduction 单个 grant 的扣减量
type GrantDeduction struct {
	GrantID string `json:"grant_id"`
	Amount  int64  `json:"amount"`
}

type IssueGrantRequest struct {
	AccountID      string    `json:"account_id"`
	OrgID          string    `json:"org_id"`
	Type           string    `json:"type"`
	Amount         int64     `json:"amount"`
	ExpiresAt      time.Time `json:"expires_at"`
	ValidDays      int32     `json:"valid_days"` // 未给出 expires_at 时使用
	OriginRef      string    `json:"origin_ref"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type IssueGrantReply struct {
	Grant   *Grant       `json:"grant"`
	Entry   *LedgerEntry `json:"entry"`
	Skipped bool         `json:"skipped"`
}

type DeductRequest struct {
	AccountID      string `json:"account_id"`
	OrgID          string `json:"org_id"`
	ActionKey      string `json:"action_key"`
	IdempotencyKey string `json:"idempotency_key"`
}

type DeductReply struct {
	Entry           *LedgerEntry      `json:"entry"`
	GrantDeductions []*GrantDeduction `json:"grant_deductions"`
	Cost            int64             `json:"cost"`
	Skipped         bool              `json:"skipped"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type AvailableReply struct {
	AccountID string `json:"account_id"`
	Available int64  `json:"available"`
}

type ListGrantsReply struct {
	AccountID string   `json:"account_id"`
	Grants    []*Grant `json:"grants"`
}

type BalanceReply struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Version   int64  `json:"version"`
}

type ListLedgerRequest struct {
	AccountID string `json:"account_id"`
	Page      int32  `json:"page"`
	PageSize  int32  `json:"page_size"`
}

type ListLedgerReply struct {
	Entries  []*LedgerEntry `json:"entries"`
	Total    int64          `json:"total"`
	Page     int32          `json:"page"`
	PageSize int32          `json:"page_size"`
}

type UsageStatsRequest struct {
	AccountID string `json:"account_id"`
	Period    string `json:"period"`
}

type ActionUsage struct {
	ActionKey    string `json:"action_key"`
	Count        int64  `json:"count"`
	CreditsSpent int64  `json:"credits_spent"`
}

type UsageStatsReply struct {
	AccountID    string         `json:"account_id"`
	Period       string         `json:"period"`
	Count        int64          `json:"count"`
	CreditsSpent int64          `json:"credits_spent"`
	Actions      []*ActionUsage `json:"actions"`
}
