package biz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func grant(id string, t GrantType, amount, used int64, expiresIn time.Duration) *CreditGrant {
	return &CreditGrant{
		ID:         id,
		Type:       t,
		Amount:     amount,
		UsedAmount: used,
		ExpiresAt:  planNow.Add(expiresIn),
		CreatedAt:  planNow.Add(-time.Hour),
	}
}

func TestCreditGrant_Available(t *testing.T) {
	g := grant("g1", GrantTypeTopup, 100, 30, time.Hour)
	assert.Equal(t, int64(70), g.Remaining())
	assert.Equal(t, int64(70), g.Available(planNow))
	assert.False(t, g.Expired(planNow))

	// 到期时刻即不可用
	assert.Equal(t, int64(0), g.Available(g.ExpiresAt))
	assert.True(t, g.Expired(g.ExpiresAt))
	assert.Equal(t, int64(70), g.Remaining())

	over := grant("g2", GrantTypeTopup, 10, 12, time.Hour)
	assert.Equal(t, int64(0), over.Remaining())
}

func TestSortGrants(t *testing.T) {
	day := 24 * time.Hour
	grants := []*CreditGrant{
		grant("topup-late", GrantTypeTopup, 10, 0, 10*day),
		grant("sub-late", GrantTypeSubscription, 10, 0, 30*day),
		grant("topup-soon", GrantTypeTopup, 10, 0, day),
		grant("sub-soon", GrantTypeSubscription, 10, 0, 2*day),
	}
	SortGrants(grants)

	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"sub-soon", "sub-late", "topup-soon", "topup-late"}, ids)
}

func TestSortGrants_TieBreakByCreatedAtThenID(t *testing.T) {
	a := grant("b", GrantTypeTopup, 10, 0, time.Hour)
	b := grant("a", GrantTypeTopup, 10, 0, time.Hour)
	c := grant("c", GrantTypeTopup, 10, 0, time.Hour)
	c.CreatedAt = a.CreatedAt.Add(-time.Minute)

	grants := []*CreditGrant{a, b, c}
	SortGrants(grants)
	assert.Equal(t, "c", grants[0].ID)
	assert.Equal(t, "a", grants[1].ID)
	assert.Equal(t, "b", grants[2].ID)
}

func TestPlanDeduction(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name        string
		grants      []*CreditGrant
		cost        int64
		covered     bool
		available   int64
		allocations []GrantAllocation
	}{
		{
			name: "subscription drained before topup regardless of expiry",
			grants: []*CreditGrant{
				grant("sub", GrantTypeSubscription, 500, 0, 30*day),
				grant("topup", GrantTypeTopup, 500, 0, day),
			},
			cost:      600,
			covered:   true,
			available: 1000,
			allocations: []GrantAllocation{
				{GrantID: "sub", Amount: 500},
				{GrantID: "topup", Amount: 100},
			},
		},
		{
			name: "single grant covers cost",
			grants: []*CreditGrant{
				grant("sub", GrantTypeSubscription, 500, 100, 30*day),
			},
			cost:        50,
			covered:     true,
			available:   400,
			allocations: []GrantAllocation{{GrantID: "sub", Amount: 50}},
		},
		{
			name: "exhausted and expired grants skipped",
			grants: []*CreditGrant{
				grant("used-up", GrantTypeSubscription, 100, 100, day),
				grant("expired", GrantTypeSubscription, 100, 0, -time.Minute),
				grant("topup", GrantTypeTopup, 100, 0, day),
			},
			cost:        80,
			covered:     true,
			available:   100,
			allocations: []GrantAllocation{{GrantID: "topup", Amount: 80}},
		},
		{
			name: "insufficient produces no allocations",
			grants: []*CreditGrant{
				grant("topup", GrantTypeTopup, 50, 0, day),
			},
			cost:      100,
			covered:   false,
			available: 50,
		},
		{
			name:    "empty pool",
			cost:    1,
			covered: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortGrants(tt.grants)
			plan := PlanDeduction(tt.grants, planNow, tt.cost)
			assert.Equal(t, tt.covered, plan.FullyCovered)
			assert.Equal(t, tt.cost, plan.Required)
			assert.Equal(t, tt.available, plan.Available)
			assert.Equal(t, tt.allocations, plan.Allocations)

			var sum int64
			for _, a := range plan.Allocations {
				sum += a.Amount
			}
			if plan.FullyCovered {
				assert.Equal(t, tt.cost, sum)
			} else {
				assert.Zero(t, sum)
			}
		})
	}
}

func TestLedgerEntry_GrantDeductions(t *testing.T) {
	// 从库中读出的元数据是 JSON 解码后的 map，数值为 float64
	entry := &LedgerEntry{Metadata: map[string]any{
		"grant_deductions": []any{
			map[string]any{"grant_id": "sub", "amount": float64(500)},
			map[string]any{"grant_id": "topup", "amount": float64(100)},
		},
	}}
	got := entry.GrantDeductions()
	require.Len(t, got, 2)
	assert.Equal(t, GrantAllocation{GrantID: "sub", Amount: 500}, got[0])
	assert.Equal(t, GrantAllocation{GrantID: "topup", Amount: 100}, got[1])

	assert.Nil(t, (&LedgerEntry{}).GrantDeductions())
}
