package biz

import (
	"encoding/json"
	"testing"
	"time"

	creditErrors "credit-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerEvent_ToIssueRequest(t *testing.T) {
	expires := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

	t.Run("subscription renewal", func(t *testing.T) {
		event := &TriggerEvent{
			EventType: "subscription_renewed",
			SessionID: "cs_123",
			AccountID: "acct-1",
			OrgID:     "org-1",
			Amount:    500,
			ExpiresAt: expires,
		}
		req, err := event.ToIssueRequest()
		require.NoError(t, err)
		assert.Equal(t, GrantTypeSubscription, req.Type)
		assert.Equal(t, "subscription_renewed:cs_123", req.IdempotencyKey)
		assert.Equal(t, "cs_123", req.OriginRef)
		assert.Equal(t, "subscription_renewed", req.Reason)
		assert.Equal(t, "org-1", req.OrgID)
		assert.Equal(t, expires, req.ExpiresAt)
	})

	t.Run("topup with valid days", func(t *testing.T) {
		event := &TriggerEvent{EventType: "topup_completed", SessionID: "cs_9", AccountID: "acct-1", Amount: 100, ValidDays: 365, OriginRef: "order-9"}
		req, err := event.ToIssueRequest()
		require.NoError(t, err)
		assert.Equal(t, GrantTypeTopup, req.Type)
		assert.Equal(t, 365, req.ValidDays)
		assert.True(t, req.ExpiresAt.IsZero())
		assert.Equal(t, "order-9", req.OriginRef)
	})

	t.Run("manual grant type", func(t *testing.T) {
		event := &TriggerEvent{EventType: "manual_grant", SessionID: "admin-1", AccountID: "acct-1", Amount: 10, ValidDays: 7, GrantType: "subscription"}
		req, err := event.ToIssueRequest()
		require.NoError(t, err)
		assert.Equal(t, GrantTypeSubscription, req.Type)

		event.GrantType = ""
		req, err = event.ToIssueRequest()
		require.NoError(t, err)
		assert.Equal(t, GrantTypeTopup, req.Type)
	})

	invalid := []*TriggerEvent{
		{EventType: "topup_completed", AccountID: "acct-1", Amount: 1, ValidDays: 1},
		{EventType: "refund", SessionID: "s", AccountID: "acct-1", Amount: 1, ValidDays: 1},
		{EventType: "topup_completed", SessionID: "s", AccountID: "acct-1", Amount: 1},
	}
	for _, event := range invalid {
		_, err := event.ToIssueRequest()
		assert.True(t, creditErrors.IsInvalidArgument(err), "event %+v", event)
	}
}

func TestTriggerEvent_JSON(t *testing.T) {
	body := `{"event_type":"topup_completed","session_id":"cs_1","account_id":"acct-1","amount":100,"expires_at":"2025-04-10T00:00:00Z"}`
	var event TriggerEvent
	require.NoError(t, json.Unmarshal([]byte(body), &event))
	assert.Equal(t, int64(100), event.Amount)
	assert.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), event.ExpiresAt)
}
