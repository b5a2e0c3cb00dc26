package biz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

func issue(t *testing.T, s *testutil.Stack, accountID string, typ biz.GrantType, amount int64, ttl time.Duration, key string) *biz.IssueResult {
	t.Helper()
	res, err := s.Credit.Issue(context.Background(), &biz.IssueRequest{
		AccountID:      accountID,
		Type:           typ,
		Amount:         amount,
		ExpiresAt:      s.Clock.Now().Add(ttl),
		OriginRef:      "test",
		Reason:         "test grant",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res
}

func ledgerCount(t *testing.T, s *testutil.Stack, accountID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB.Model(&model.LedgerEntry{}).Where("account_id = ?", accountID).Count(&n).Error)
	return n
}

func ledgerSum(t *testing.T, s *testutil.Stack, accountID string) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, s.DB.Model(&model.LedgerEntry{}).Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)
	return sum
}

func projection(t *testing.T, s *testutil.Stack, accountID string) *biz.AccountBalance {
	t.Helper()
	b, err := s.Projector.Snapshot(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func TestIssue_Idempotent(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	first := issue(t, s, "acct-1", biz.GrantTypeTopup, 100, 30*day, "topup_completed:cs_1")
	assert.False(t, first.Skipped)
	assert.Equal(t, first.LedgerEntry.ID, first.Grant.LedgerID)
	assert.Equal(t, int64(100), first.LedgerEntry.BalanceAfter)

	second := issue(t, s, "acct-1", biz.GrantTypeTopup, 100, 30*day, "topup_completed:cs_1")
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Grant.ID, second.Grant.ID)
	assert.Equal(t, first.LedgerEntry.ID, second.LedgerEntry.ID)

	var grants int64
	require.NoError(t, s.DB.Model(&model.CreditGrant{}).Count(&grants).Error)
	assert.Equal(t, int64(1), grants)
	assert.Equal(t, int64(1), ledgerCount(t, s, "acct-1"))

	available, err := s.Credit.AvailableTotal(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)
	assert.Equal(t, int64(100), projection(t, s, "acct-1").Balance)
}

func TestIssue_ConcurrentSameKey(t *testing.T) {
	s := testutil.NewStack(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*biz.IssueResult, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Credit.Issue(context.Background(), &biz.IssueRequest{
				AccountID:      "acct-1",
				Type:           biz.GrantTypeSubscription,
				Amount:         500,
				ValidDays:      30,
				IdempotencyKey: "subscription_renewed:cs_42",
			})
		}()
	}
	wg.Wait()

	created := 0
	for i := range n {
		require.NoError(t, errs[i])
		if !results[i].Skipped {
			created++
		}
		assert.Equal(t, results[0].Grant.ID, results[i].Grant.ID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(1), ledgerCount(t, s, "acct-1"))
	assert.Equal(t, int64(500), projection(t, s, "acct-1").Balance)
}

func TestIssue_Validation(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	future := s.Clock.Now().Add(day)

	bad := []*biz.IssueRequest{
		nil,
		{Type: biz.GrantTypeTopup, Amount: 1, ExpiresAt: future},
		{AccountID: "a", Type: "BONUS", Amount: 1, ExpiresAt: future},
		{AccountID: "a", Type: biz.GrantTypeTopup, Amount: 0, ExpiresAt: future},
		{AccountID: "a", Type: biz.GrantTypeTopup, Amount: 1, ExpiresAt: s.Clock.Now()},
		{AccountID: "a", Type: biz.GrantTypeTopup, Amount: 1},
	}
	for _, req := range bad {
		_, err := s.Credit.Issue(ctx, req)
		assert.True(t, creditErrors.IsInvalidArgument(err), "request %+v", req)
	}

	res, err := s.Credit.Issue(ctx, &biz.IssueRequest{AccountID: "a", Type: biz.GrantTypeTopup, Amount: 1, ValidDays: 10})
	require.NoError(t, err)
	assert.Equal(t, s.Clock.Now().AddDate(0, 0, 10), res.Grant.ExpiresAt)
}

func TestIssue_KeyUsedByDeduction(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_enhance", IdempotencyKey: "shared-key"})
	require.NoError(t, err)

	_, err = s.Credit.Issue(ctx, &biz.IssueRequest{AccountID: "acct-1", Type: biz.GrantTypeTopup, Amount: 1, ValidDays: 1, IdempotencyKey: "shared-key"})
	assert.True(t, creditErrors.IsIdempotencyKeyMismatch(err))
}

func TestDeduct_PriorityOrdering(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	sub := issue(t, s, "acct-1", biz.GrantTypeSubscription, 500, 30*day, "sub")
	topup := issue(t, s, "acct-1", biz.GrantTypeTopup, 500, day, "topup")

	res, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "bulk_export"})
	require.NoError(t, err)
	assert.Equal(t, int64(600), res.Cost)
	assert.Equal(t, []biz.GrantAllocation{
		{GrantID: sub.Grant.ID, Amount: 500},
		{GrantID: topup.Grant.ID, Amount: 100},
	}, res.GrantDeductions)
	assert.Equal(t, int64(-600), res.LedgerEntry.Amount)
	assert.Equal(t, int64(400), res.LedgerEntry.BalanceAfter)

	// 流水元数据里保存了扣减明细
	stored, err := s.Ledger.Get(ctx, res.LedgerEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, res.GrantDeductions, stored.GrantDeductions())

	grants, err := s.Credit.ListActive(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, topup.Grant.ID, grants[0].ID)
	assert.Equal(t, int64(100), grants[0].UsedAmount)
	assert.Equal(t, int64(400), projection(t, s, "acct-1").Balance)
}

func TestDeduct_ExpiryExclusion(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	issue(t, s, "acct-1", biz.GrantTypeSubscription, 100, time.Hour, "short")
	issue(t, s, "acct-1", biz.GrantTypeTopup, 10, 30*day, "long")
	s.Clock.Advance(2 * time.Hour)

	available, err := s.Credit.AvailableTotal(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), available)

	_, err = s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "video_generate_5s"})
	require.Error(t, err)
	required, avail, ok := creditErrors.InsufficientDetail(err)
	require.True(t, ok)
	assert.Equal(t, int64(25), required)
	assert.Equal(t, int64(10), avail)
}

func TestDeduct_AllOrNothing(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithBootstrap(func(bc *conf.Bootstrap) {
		bc.Credit.Prices["render_100"] = &conf.Price{UnitCost: decimalOf(100), UnitCount: 1}
	}))
	ctx := context.Background()

	g := issue(t, s, "acct-1", biz.GrantTypeTopup, 50, day, "")
	before := ledgerCount(t, s, "acct-1")

	_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "render_100", IdempotencyKey: "d-1"})
	assert.True(t, creditErrors.IsInsufficientCredits(err))

	reloaded, err := s.GrantRepo.GetGrant(ctx, g.Grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.UsedAmount)
	assert.Equal(t, before, ledgerCount(t, s, "acct-1"))
	assert.Equal(t, int64(50), projection(t, s, "acct-1").Balance)

	entry, err := s.Ledger.GetByIdempotencyKey(ctx, "d-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDeduct_NoDoubleSpendUnderConcurrency(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		name := "optimistic"
		// 计划在事务外完成，排队等待连接期间计划可能过期，给足重试次数
		opts := []testutil.Option{testutil.WithBootstrap(func(bc *conf.Bootstrap) {
			bc.Credit.MaxAttempts = 50
		})}
		if withRedis {
			name = "with lock"
			opts = append(opts, testutil.WithRedis())
		}
		t.Run(name, func(t *testing.T) {
			s := testutil.NewStack(t, opts...)
			ctx := context.Background()

			const n = 10
			const cost = 2 // image_background_swap
			issue(t, s, "acct-1", biz.GrantTypeSubscription, 10, day, "")
			issue(t, s, "acct-1", biz.GrantTypeTopup, (n-1)*cost-10, day, "")

			var (
				wg           sync.WaitGroup
				mu           sync.Mutex
				success      int
				insufficient int
				other        []error
			)
			for range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_background_swap"})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						success++
					case creditErrors.IsInsufficientCredits(err):
						insufficient++
					default:
						other = append(other, err)
					}
				}()
			}
			wg.Wait()

			require.Empty(t, other)
			assert.Equal(t, n-1, success)
			assert.Equal(t, 1, insufficient)

			available, err := s.Credit.AvailableTotal(ctx, "acct-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), available)
			assert.Equal(t, int64(0), projection(t, s, "acct-1").Balance)
			assert.Equal(t, int64(0), ledgerSum(t, s, "acct-1"))
		})
	}
}

func TestDeduct_Idempotent(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	req := &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_background_swap", IdempotencyKey: "job-7"}
	first, err := s.Credit.Deduct(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := s.Credit.Deduct(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.LedgerEntry.ID, second.LedgerEntry.ID)
	assert.Equal(t, first.Cost, second.Cost)
	assert.Equal(t, first.GrantDeductions, second.GrantDeductions)

	available, err := s.Credit.AvailableTotal(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(98), available)
}

func TestDeduct_UnknownAction(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "unpriced"})
	assert.True(t, creditErrors.IsUnknownAction(err))
	assert.Equal(t, int64(1), ledgerCount(t, s, "acct-1"))

	_, err = s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1"})
	assert.True(t, creditErrors.IsInvalidArgument(err))
}

func TestDeduct_DefaultActionCost(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithBootstrap(func(bc *conf.Bootstrap) {
		bc.Credit.DefaultActionCost = 3
	}))
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	res, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "unpriced"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Cost)
}

func TestRoundTrip(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithBootstrap(func(bc *conf.Bootstrap) {
		bc.Credit.Prices["render_1000"] = &conf.Price{UnitCost: decimalOf(10), UnitCount: 100}
	}))
	ctx := context.Background()

	issue(t, s, "acct-1", biz.GrantTypeTopup, 1000, day, "")
	_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "render_1000"})
	require.NoError(t, err)

	available, err := s.Credit.AvailableTotal(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)

	entries, total, err := s.Credit.ListLedger(ctx, "acct-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(0), entries[0].Amount+entries[1].Amount)
}

func TestMirror_BestEffort(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	require.NoError(t, s.DB.Create(&model.OrgBalanceMirror{OrgID: "org-1"}).Error)

	_, err := s.Credit.Issue(ctx, &biz.IssueRequest{AccountID: "acct-1", OrgID: "org-1", Type: biz.GrantTypeTopup, Amount: 100, ValidDays: 30})
	require.NoError(t, err)
	_, err = s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", OrgID: "org-1", ActionKey: "image_enhance"})
	require.NoError(t, err)

	var mirror model.OrgBalanceMirror
	require.NoError(t, s.DB.Where("org_id = ?", "org-1").First(&mirror).Error)
	assert.Equal(t, int64(99), mirror.Balance)
	assert.Equal(t, int64(2), mirror.Version)

	// 镜像不存在时主流程不受影响
	_, err = s.Credit.Issue(ctx, &biz.IssueRequest{AccountID: "acct-2", OrgID: "org-missing", Type: biz.GrantTypeTopup, Amount: 100, ValidDays: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(100), projection(t, s, "acct-2").Balance)
}

func TestReconcile_ProjectionMatchesPool(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	issue(t, s, "acct-1", biz.GrantTypeSubscription, 300, 30*day, "")
	issue(t, s, "acct-1", biz.GrantTypeTopup, 200, 90*day, "")
	for _, action := range []string{"image_enhance", "video_generate_5s", "image_background_swap", "image_enhance"} {
		_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: action})
		require.NoError(t, err)
	}

	available, err := s.Credit.AvailableTotal(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500-1-25-2-1), available)
	assert.Equal(t, available, projection(t, s, "acct-1").Balance)
	assert.Equal(t, available, ledgerSum(t, s, "acct-1"))

	report, err := s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts)
	assert.Zero(t, report.Drifted)
	assert.Zero(t, report.Failed)
}

func TestReconcile_SweepsExpiredGrants(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	short := issue(t, s, "acct-1", biz.GrantTypeSubscription, 100, time.Hour, "")
	issue(t, s, "acct-1", biz.GrantTypeTopup, 50, 30*day, "")
	_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "video_generate_5s"})
	require.NoError(t, err)

	s.Clock.Advance(2 * time.Hour)
	report, err := s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExpiredGrants)
	assert.Equal(t, int64(75), report.ExpiredCredits)
	assert.Equal(t, int64(75), report.ExpiredUnused)
	assert.Zero(t, report.Drifted)

	assert.Equal(t, int64(50), projection(t, s, "acct-1").Balance)
	assert.Equal(t, int64(50), ledgerSum(t, s, "acct-1"))

	entry, err := s.Ledger.GetByIdempotencyKey(ctx, "expire:"+short.Grant.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, biz.LedgerKindDeduction, entry.Kind)
	assert.Equal(t, int64(-75), entry.Amount)

	swept, err := s.GrantRepo.GetGrant(ctx, short.Grant.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), swept.UsedAmount)
	assert.Equal(t, int64(75), swept.ExpiredAmount)
	assert.Zero(t, swept.Remaining())

	// 再次对账不会重复清扫
	report, err = s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ExpiredGrants)
	assert.Zero(t, report.ExpiredUnused)
	assert.Equal(t, int64(50), projection(t, s, "acct-1").Balance)
}

func TestReconcile_SweptGrantCannotBeDeductedWithEarlierTimestamp(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	start := s.Clock.Now()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, time.Hour, "")

	s.Clock.Advance(2 * time.Hour)
	report, err := s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), report.ExpiredCredits)
	assert.Zero(t, projection(t, s, "acct-1").Balance)
	assert.Zero(t, ledgerSum(t, s, "acct-1"))

	// 到期前开始的扣费在清扫之后才执行
	_, err = s.Coordinator.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_background_swap"}, start.Add(30*time.Minute))
	require.Error(t, err)
	assert.True(t, creditErrors.IsInsufficientCredits(err))

	assert.Zero(t, projection(t, s, "acct-1").Balance)
	assert.Zero(t, ledgerSum(t, s, "acct-1"))
}

func TestReconcile_SweepAfterEarlierDeductionWritesOffFreshRemainder(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	start := s.Clock.Now()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, time.Hour, "")

	s.Clock.Advance(2 * time.Hour)
	// 清扫之前提交的、到期前发起的扣费
	_, err := s.Coordinator.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_background_swap"}, start.Add(30*time.Minute))
	require.NoError(t, err)

	report, err := s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(98), report.ExpiredCredits)
	assert.Zero(t, report.Drifted)
	assert.Zero(t, projection(t, s, "acct-1").Balance)
	assert.Zero(t, ledgerSum(t, s, "acct-1"))
}

func TestReconcile_RepairsDrift(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	// 人为制造投影偏差
	require.NoError(t, s.DB.Model(&model.AccountBalance{}).Where("account_id = ?", "acct-1").
		Update("balance", 70).Error)

	report, err := s.Reconcile.ReconcileBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drifted)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, int64(100), projection(t, s, "acct-1").Balance)
}

func TestStats_Usage(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, 60*day, "")

	for _, action := range []string{"image_enhance", "image_enhance", "image_background_swap"} {
		_, err := s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: action})
		require.NoError(t, err)
	}

	stats, err := s.Credit.GetUsageStats(ctx, "acct-1", "")
	require.NoError(t, err)
	assert.Equal(t, "today", stats.Period)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(4), stats.CreditsSpent)
	require.Len(t, stats.Actions, 2)
	assert.Equal(t, "image_background_swap", stats.Actions[0].ActionKey)
	assert.Equal(t, int64(2), stats.Actions[1].Count)

	s.Clock.Advance(day)
	stats, err = s.Credit.GetUsageStats(ctx, "acct-1", "today")
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	stats, err = s.Credit.GetUsageStats(ctx, "acct-1", "month")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)

	_, err = s.Credit.GetUsageStats(ctx, "acct-1", "year")
	assert.True(t, creditErrors.IsInvalidArgument(err))
}

func TestIssueFromTrigger(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	event := &biz.TriggerEvent{EventType: "topup_completed", SessionID: "cs_1", AccountID: "acct-1", Amount: 100, ValidDays: 30}

	first, err := s.Credit.IssueFromTrigger(ctx, event)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, "topup_completed:cs_1", first.LedgerEntry.IdempotencyKey)

	second, err := s.Credit.IssueFromTrigger(ctx, event)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Grant.ID, second.Grant.ID)
}

func TestGetBalance_Cached(t *testing.T) {
	s := testutil.NewStack(t, testutil.WithRedis())
	ctx := context.Background()
	issue(t, s, "acct-1", biz.GrantTypeTopup, 100, day, "")

	b, err := s.Credit.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Balance)
	assert.Equal(t, int64(1), b.Version)
	assert.True(t, s.Redis.Exists("credit:balance:acct-1"))

	_, err = s.Credit.Deduct(ctx, &biz.DeductRequest{AccountID: "acct-1", ActionKey: "image_enhance"})
	require.NoError(t, err)
	b, err = s.Credit.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), b.Balance)

	_, err = s.Credit.GetBalance(ctx, "nobody")
	assert.True(t, creditErrors.IsAccountNotFound(err))
}
