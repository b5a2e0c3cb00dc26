package biz

import (
	"strings"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
)

// TriggerEvent 支付方发来的发放触发消息
type TriggerEvent struct {
	EventType string    `json:"event_type"` // subscription_renewed / topup_completed / manual_grant
	SessionID string    `json:"session_id"` // 支付会话 ID，作为幂等 key 的一部分
	AccountID string    `json:"account_id"`
	OrgID     string    `json:"org_id,omitempty"`
	GrantType string    `json:"grant_type,omitempty"` // 仅 manual_grant 使用，默认 TOPUP
	Amount    int64     `json:"amount"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	ValidDays int       `json:"valid_days,omitempty"` // 未给出 expires_at 时使用
	OriginRef string    `json:"origin_ref,omitempty"`
}

// IdempotencyKey event_type:session_id
func (e *TriggerEvent) IdempotencyKey() string {
	return e.EventType + ":" + e.SessionID
}

// ToIssueRequest 转换为发放请求
func (e *TriggerEvent) ToIssueRequest() (*IssueRequest, error) {
	if strings.TrimSpace(e.SessionID) == "" {
		return nil, creditErrors.InvalidArgument("trigger event requires a session id")
	}

	var grantType GrantType
	switch e.EventType {
	case constants.TriggerSubscriptionRenewed:
		grantType = GrantTypeSubscription
	case constants.TriggerTopupCompleted:
		grantType = GrantTypeTopup
	case constants.TriggerManualGrant:
		grantType = GrantType(strings.ToUpper(e.GrantType))
		if grantType == "" {
			grantType = GrantTypeTopup
		}
	default:
		return nil, creditErrors.InvalidArgument("unknown trigger event type %q", e.EventType)
	}

	if e.ExpiresAt.IsZero() && e.ValidDays <= 0 {
		return nil, creditErrors.InvalidArgument("trigger event requires expires_at or valid_days")
	}

	originRef := e.OriginRef
	if originRef == "" {
		originRef = e.SessionID
	}

	return &IssueRequest{
		AccountID:      e.AccountID,
		OrgID:          e.OrgID,
		Type:           grantType,
		Amount:         e.Amount,
		ExpiresAt:      e.ExpiresAt,
		ValidDays:      e.ValidDays,
		OriginRef:      originRef,
		Reason:         e.EventType,
		IdempotencyKey: e.IdempotencyKey(),
	}, nil
}
