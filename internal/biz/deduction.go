package biz

import (
	"context"
	"strings"
	"time"

	"credit-service/internal/clock"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// DeductRequest 扣费请求
type DeductRequest struct {
	AccountID      string
	OrgID          string
	ActionKey      string
	IdempotencyKey string
}

// DeductResult 扣费结果
type DeductResult struct {
	LedgerEntry     *LedgerEntry
	GrantDeductions []GrantAllocation
	Cost            int64
	Skipped         bool
}

// DeductionCoordinator 扣费协调器
type DeductionCoordinator struct {
	tx        Transaction
	ledger    *LedgerStore
	pool      *GrantPool
	projector *BalanceProjector
	pricing   PriceLookup
	locker    Locker
	publisher LedgerEventPublisher
	clock     clock.Clock
	conf      *CreditConfig
	log       *log.Helper
	metrics   *metrics.CreditMetrics
}

// NewDeductionCoordinator 创建扣费协调器；locker、publisher 可以为 nil
func NewDeductionCoordinator(
	tx Transaction,
	ledger *LedgerStore,
	pool *GrantPool,
	projector *BalanceProjector,
	pricing PriceLookup,
	locker Locker,
	publisher LedgerEventPublisher,
	clk clock.Clock,
	conf *CreditConfig,
	logger log.Logger,
) *DeductionCoordinator {
	return &DeductionCoordinator{
		tx:        tx,
		ledger:    ledger,
		pool:      pool,
		projector: projector,
		pricing:   pricing,
		locker:    locker,
		publisher: publisher,
		clock:     clk,
		conf:      conf,
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// ResolveCost 查询动作价格
// 未配置价格时，配置了 default_action_cost 则使用默认价格并告警，否则返回 UnknownAction
func (c *DeductionCoordinator) ResolveCost(ctx context.Context, actionKey string) (int64, error) {
	price, ok, err := c.pricing.Lookup(ctx, actionKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		if c.conf.DefaultActionCost <= 0 {
			return 0, creditErrors.UnknownAction(actionKey)
		}
		c.log.WithContext(ctx).Warnf("no price configured for action %s, using default cost %d", actionKey, c.conf.DefaultActionCost)
		if c.metrics != nil {
			c.metrics.DefaultPriceUsed.WithLabelValues(actionKey).Inc()
		}
		return c.conf.DefaultActionCost, nil
	}
	cost := price.Cost()
	if cost <= 0 {
		return 0, creditErrors.InvalidArgument("action %s resolves to non-positive cost %d", actionKey, cost)
	}
	return cost, nil
}

// Deduct 按优先级从 grant 池扣除动作费用
// 规划在事务外完成，覆盖不足直接返回 InsufficientCredits 且不写库；
// 事务内逐个条件更新 grant，写 deduction 流水并 CAS 更新投影，冲突时整体重试
func (c *DeductionCoordinator) Deduct(ctx context.Context, req *DeductRequest, now time.Time) (*DeductResult, error) {
	startTime := time.Now()
	action := ""
	if req != nil {
		action = req.ActionKey
	}
	defer func() {
		if c.metrics != nil {
			c.metrics.DeductDuration.WithLabelValues(action).Observe(time.Since(startTime).Seconds())
		}
	}()

	if req == nil || strings.TrimSpace(req.AccountID) == "" {
		c.observe(action, constants.ResultFailed)
		return nil, creditErrors.InvalidArgument("account id is required")
	}
	if strings.TrimSpace(req.ActionKey) == "" {
		c.observe(action, constants.ResultFailed)
		return nil, creditErrors.InvalidArgument("action key is required")
	}
	now = now.UTC()

	unlock := c.lock(ctx, req.AccountID)
	defer unlock()

	var (
		result     *DeductResult
		newBalance *AccountBalance
	)
	err := retryOnConflict(ctx, c.conf, c.log, constants.OperationDeduct, func(ctx context.Context) error {
		result = nil

		if req.IdempotencyKey != "" {
			existing, err := c.ledger.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result, err = c.skipped(existing)
				return err
			}
		}

		cost, err := c.ResolveCost(ctx, req.ActionKey)
		if err != nil {
			return err
		}
		plan, err := c.pool.AllocateDeduction(ctx, req.AccountID, now, cost)
		if err != nil {
			return err
		}
		if !plan.FullyCovered {
			return creditErrors.InsufficientCredits(plan.Required, plan.Available)
		}

		return c.tx.InTx(ctx, func(ctx context.Context) error {
			snap, err := c.projector.Snapshot(ctx, req.AccountID)
			if err != nil {
				return err
			}

			entry, existed, err := c.ledger.Append(ctx, &LedgerEntry{
				AccountID:      req.AccountID,
				OrgID:          req.OrgID,
				Kind:           LedgerKindDeduction,
				Amount:         -cost,
				Reason:         req.ActionKey,
				BalanceAfter:   snap.Balance - cost,
				IdempotencyKey: req.IdempotencyKey,
				ActionKey:      req.ActionKey,
				Metadata: map[string]any{
					constants.MetadataActionKey:       req.ActionKey,
					constants.MetadataCost:            cost,
					constants.MetadataGrantDeductions: plan.Allocations,
				},
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if existed {
				result, err = c.skipped(entry)
				return err
			}

			for _, allocation := range plan.Allocations {
				if err := c.pool.Consume(ctx, allocation, now); err != nil {
					return err
				}
			}

			newBalance, err = c.projector.Apply(ctx, snap, -cost)
			if err != nil {
				return err
			}
			c.projector.Mirror(ctx, req.OrgID, -cost)

			result = &DeductResult{
				LedgerEntry:     entry,
				GrantDeductions: plan.Allocations,
				Cost:            cost,
			}
			return nil
		})
	})
	if err != nil {
		switch {
		case creditErrors.IsInsufficientCredits(err):
			c.observe(action, constants.ResultInsufficient)
			if c.metrics != nil {
				c.metrics.InsufficientTotal.WithLabelValues(action).Inc()
			}
			c.log.WithContext(ctx).Infof("deduct rejected: account=%s, action=%s, err=%v", req.AccountID, action, err)
		case creditErrors.IsRetryable(err):
			c.observe(action, constants.ResultConflict)
			c.log.WithContext(ctx).Errorf("deduct conflict retries exhausted: account=%s, action=%s, err=%v", req.AccountID, action, err)
		default:
			c.observe(action, constants.ResultFailed)
			c.log.WithContext(ctx).Errorf("deduct failed: account=%s, action=%s, err=%v", req.AccountID, action, err)
		}
		return nil, err
	}

	if result.Skipped {
		c.observe(action, constants.ResultSkipped)
		return result, nil
	}

	c.projector.Cache(ctx, newBalance)
	publishAsync(c.publisher, result.LedgerEntry, c.log.Warnf)
	c.observe(action, constants.ResultSuccess)
	if c.metrics != nil {
		c.metrics.DeductCredits.WithLabelValues(action).Add(float64(result.Cost))
	}
	if newBalance.Balance < c.conf.LowBalanceThreshold {
		c.log.WithContext(ctx).Infof("account %s balance %d below threshold %d", req.AccountID, newBalance.Balance, c.conf.LowBalanceThreshold)
	}
	return result, nil
}

// lock 可选的按账户扣费锁；获取失败时降级为无锁执行
func (c *DeductionCoordinator) lock(ctx context.Context, accountID string) func() {
	noop := func() {}
	if c.locker == nil || !c.conf.DeductLock {
		return noop
	}

	startTime := time.Now()
	unlock, err := c.locker.Lock(ctx, constants.RedisKeyDeductLock+accountID, c.conf.LockExpiry)
	if c.metrics != nil {
		c.metrics.LockAcquireDuration.Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.LockAcquireTotal.WithLabelValues(constants.ResultFailed).Inc()
		}
		c.log.WithContext(ctx).Warnf("deduct lock unavailable for account=%s, continuing without it: %v", accountID, err)
		return noop
	}
	if c.metrics != nil {
		c.metrics.LockAcquireTotal.WithLabelValues(constants.ResultSuccess).Inc()
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := unlock(unlockCtx); err != nil {
			c.log.Warnf("failed to release deduct lock for account=%s: %v", accountID, err)
		}
	}
}

func (c *DeductionCoordinator) skipped(entry *LedgerEntry) (*DeductResult, error) {
	if entry.Kind != LedgerKindDeduction {
		return nil, creditErrors.IdempotencyKeyMismatch(entry.IdempotencyKey)
	}
	return &DeductResult{
		LedgerEntry:     entry,
		GrantDeductions: entry.GrantDeductions(),
		Cost:            -entry.Amount,
		Skipped:         true,
	}, nil
}

func (c *DeductionCoordinator) observe(action, result string) {
	if c.metrics != nil {
		c.metrics.DeductTotal.WithLabelValues(action, result).Inc()
	}
}
