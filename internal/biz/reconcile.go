package biz

import (
	"context"
	"time"

	"credit-service/internal/clock"
	"credit-service/internal/constants"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// ReconcileReport 一次对账的结果
type ReconcileReport struct {
	Accounts       int
	ExpiredGrants  int   // 本次写入过期流水的 grant 数
	ExpiredCredits int64 // 本次写入过期流水的积分
	ExpiredUnused  int64 // 对账开始时已过期且尚未核销的积分
	Drifted        int
	Repaired       int
	LowBalance     int
	Failed         int
}

// ReconcileUseCase 余额投影对账
type ReconcileUseCase struct {
	tx        Transaction
	ledger    *LedgerStore
	pool      *GrantPool
	projector *BalanceProjector
	publisher LedgerEventPublisher
	clock     clock.Clock
	conf      *CreditConfig
	log       *log.Helper
	metrics   *metrics.CreditMetrics
}

// NewReconcileUseCase 创建对账 UseCase
func NewReconcileUseCase(
	tx Transaction,
	ledger *LedgerStore,
	pool *GrantPool,
	projector *BalanceProjector,
	publisher LedgerEventPublisher,
	clk clock.Clock,
	conf *CreditConfig,
	logger log.Logger,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		tx:        tx,
		ledger:    ledger,
		pool:      pool,
		projector: projector,
		publisher: publisher,
		clock:     clk,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// ReconcileBalances 逐个账户对账
// 1. 过期清扫：为已过期且有剩余的 grant 写一条 deduction 流水并同步扣减投影
// 2. 偏差检查：投影与 grant 池可用总额比较，开启 repair 时用 CAS 修正投影（不写流水）
// 单个账户失败不影响其他账户
func (uc *ReconcileUseCase) ReconcileBalances(ctx context.Context) (*ReconcileReport, error) {
	accountIDs, err := uc.projector.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	now := uc.clock.Now()
	report := &ReconcileReport{}
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Accounts++
		if err := uc.reconcileAccount(ctx, accountID, now, report); err != nil {
			report.Failed++
			uc.log.WithContext(ctx).Errorf("reconcile account %s failed: %v", accountID, err)
		}
	}

	if uc.metrics != nil {
		uc.metrics.ExpiredUnused.Set(float64(report.ExpiredUnused))
		uc.metrics.BalanceLowAlert.Set(float64(report.LowBalance))
	}
	uc.log.WithContext(ctx).Infof("reconcile finished: accounts=%d, expired_grants=%d, expired_credits=%d, drifted=%d, repaired=%d, failed=%d",
		report.Accounts, report.ExpiredGrants, report.ExpiredCredits, report.Drifted, report.Repaired, report.Failed)
	return report, nil
}

func (uc *ReconcileUseCase) reconcileAccount(ctx context.Context, accountID string, now time.Time, report *ReconcileReport) error {
	expired, err := uc.pool.ListExpiredOpen(ctx, accountID, now)
	if err != nil {
		return err
	}
	for _, g := range expired {
		report.ExpiredUnused += g.Remaining()
		if !uc.conf.Reconcile.SweepExpiry {
			continue
		}
		swept, err := uc.sweepExpired(ctx, g, now)
		if err != nil {
			return err
		}
		if swept > 0 {
			report.ExpiredGrants++
			report.ExpiredCredits += swept
		}
	}

	// 先读投影再读 grant 池：期间若有并发扣费提交，CAS 会因版本变化失败并重试
	var (
		drift, available int64
		repaired         *AccountBalance
	)
	err = retryOnConflict(ctx, uc.conf, uc.log, constants.OperationReconcile, func(ctx context.Context) error {
		drift = 0
		return uc.tx.InTx(ctx, func(ctx context.Context) error {
			snap, err := uc.projector.Snapshot(ctx, accountID)
			if err != nil {
				return err
			}
			available, err = uc.pool.AvailableTotal(ctx, accountID, now)
			if err != nil {
				return err
			}
			drift = available - snap.Balance
			if drift == 0 || !uc.conf.Reconcile.Repair {
				return nil
			}
			repaired, err = uc.projector.Apply(ctx, snap, drift)
			return err
		})
	})
	if err != nil {
		return err
	}
	if available < uc.conf.LowBalanceThreshold {
		report.LowBalance++
	}
	if drift == 0 {
		return nil
	}

	report.Drifted++
	if uc.metrics != nil {
		uc.metrics.ReconcileDriftTotal.Inc()
	}
	if !uc.conf.Reconcile.Repair {
		uc.log.WithContext(ctx).Warnf("balance drift: account=%s, grant_pool=%d, drift=%d", accountID, available, drift)
		return nil
	}
	report.Repaired++
	if uc.metrics != nil {
		uc.metrics.ReconcileRepairTotal.Inc()
	}
	uc.projector.Cache(ctx, repaired)
	uc.log.WithContext(ctx).Warnf("balance drift repaired: account=%s, balance=%d, drift=%d", accountID, available, drift)
	return nil
}

// sweepExpired 在事务内重新读取 grant，核销其剩余并写一条幂等的 deduction 流水
// 返回核销的积分，已清扫过或已无剩余时为 0
func (uc *ReconcileUseCase) sweepExpired(ctx context.Context, g *CreditGrant, now time.Time) (int64, error) {
	var (
		entry      *LedgerEntry
		remaining  int64
		newBalance *AccountBalance
	)
	err := retryOnConflict(ctx, uc.conf, uc.log, constants.OperationReconcile, func(ctx context.Context) error {
		entry, remaining, newBalance = nil, 0, nil
		return uc.tx.InTx(ctx, func(ctx context.Context) error {
			fresh, amount, err := uc.pool.WriteOff(ctx, g.ID, now)
			if err != nil || amount == 0 {
				return err
			}

			orgID := ""
			if origin, err := uc.ledger.Get(ctx, fresh.LedgerID); err != nil {
				return err
			} else if origin != nil {
				orgID = origin.OrgID
			}

			snap, err := uc.projector.Snapshot(ctx, fresh.AccountID)
			if err != nil {
				return err
			}
			appended, existed, err := uc.ledger.Append(ctx, &LedgerEntry{
				AccountID:      fresh.AccountID,
				OrgID:          orgID,
				Kind:           LedgerKindDeduction,
				Amount:         -amount,
				Reason:         constants.ReasonGrantExpired,
				BalanceAfter:   snap.Balance - amount,
				IdempotencyKey: constants.IdempotencyPrefixExpiry + fresh.ID,
				Metadata: map[string]any{
					constants.MetadataExpiredGrantID: fresh.ID,
					constants.MetadataGrantType:      string(fresh.Type),
					constants.MetadataExpiresAt:      fresh.ExpiresAt.Format(time.RFC3339),
				},
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if existed {
				// 流水已记过核销，只补记 grant 行，不再改投影
				return nil
			}
			newBalance, err = uc.projector.Apply(ctx, snap, -amount)
			if err != nil {
				return err
			}
			uc.projector.Mirror(ctx, orgID, -amount)
			entry, remaining = appended, amount
			return nil
		})
	})
	if err != nil || remaining == 0 {
		return 0, err
	}

	uc.projector.Cache(ctx, newBalance)
	publishAsync(uc.publisher, entry, uc.log.Warnf)
	if uc.metrics != nil {
		uc.metrics.ExpiredSweptCredits.Add(float64(remaining))
	}
	uc.log.WithContext(ctx).Infof("expired grant written off: account=%s, grant=%s, credits=%d", g.AccountID, g.ID, remaining)
	return remaining, nil
}
