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
	"github.com/google/uuid"
)

// IssueRequest 发放请求
type IssueRequest struct {
	AccountID      string
	OrgID          string
	Type           GrantType
	Amount         int64
	ExpiresAt      time.Time
	ValidDays      int // ExpiresAt 为零值时按发放时间 + ValidDays 天计算
	OriginRef      string
	Reason         string
	IdempotencyKey string
}

// IssueResult 发放结果；Skipped 表示幂等命中，返回的是原有 grant 与流水
type IssueResult struct {
	Grant       *CreditGrant
	LedgerEntry *LedgerEntry
	Skipped     bool
}

// GrantIssuer 积分发放
type GrantIssuer struct {
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

// NewGrantIssuer 创建发放器；publisher 可以为 nil
func NewGrantIssuer(
	tx Transaction,
	ledger *LedgerStore,
	pool *GrantPool,
	projector *BalanceProjector,
	publisher LedgerEventPublisher,
	clk clock.Clock,
	conf *CreditConfig,
	logger log.Logger,
) *GrantIssuer {
	return &GrantIssuer{
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

func (i *GrantIssuer) validate(req *IssueRequest, now time.Time) error {
	if req == nil {
		return creditErrors.InvalidArgument("issue request is required")
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return creditErrors.InvalidArgument("account id is required")
	}
	if !req.Type.Valid() {
		return creditErrors.InvalidArgument("unknown grant type %q", req.Type)
	}
	if req.Amount <= 0 {
		return creditErrors.InvalidArgument("grant amount must be positive, got %d", req.Amount)
	}
	if req.ExpiresAt.IsZero() && req.ValidDays > 0 {
		req.ExpiresAt = now.AddDate(0, 0, req.ValidDays)
	}
	if !req.ExpiresAt.After(now) {
		return creditErrors.InvalidArgument("grant must expire in the future")
	}
	return nil
}

// Issue 在一个事务内写 allocation 流水、创建 grant、更新余额投影
// 幂等 key 命中时不写任何数据，返回原 grant
func (i *GrantIssuer) Issue(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	startTime := time.Now()
	defer func() {
		if i.metrics != nil {
			i.metrics.IssueDuration.Observe(time.Since(startTime).Seconds())
		}
	}()

	now := i.clock.Now()
	if err := i.validate(req, now); err != nil {
		i.observe(req, constants.ResultFailed)
		return nil, err
	}
	req.ExpiresAt = req.ExpiresAt.UTC()

	var (
		result     *IssueResult
		newBalance *AccountBalance
	)
	err := retryOnConflict(ctx, i.conf, i.log, constants.OperationIssue, func(ctx context.Context) error {
		result = nil
		return i.tx.InTx(ctx, func(ctx context.Context) error {
			if req.IdempotencyKey != "" {
				existing, err := i.ledger.GetByIdempotencyKey(ctx, req.IdempotencyKey)
				if err != nil {
					return err
				}
				if existing != nil {
					result, err = i.skipped(ctx, existing)
					return err
				}
			}

			if err := i.projector.EnsureAccount(ctx, req.AccountID); err != nil {
				return err
			}
			snap, err := i.projector.Snapshot(ctx, req.AccountID)
			if err != nil {
				return err
			}

			grantID := uuid.New().String()
			entry, existed, err := i.ledger.Append(ctx, &LedgerEntry{
				AccountID:      req.AccountID,
				OrgID:          req.OrgID,
				Kind:           LedgerKindAllocation,
				Amount:         req.Amount,
				Reason:         req.Reason,
				BalanceAfter:   snap.Balance + req.Amount,
				IdempotencyKey: req.IdempotencyKey,
				Metadata: map[string]any{
					constants.MetadataGrantID:   grantID,
					constants.MetadataGrantType: string(req.Type),
					constants.MetadataOriginRef: req.OriginRef,
					constants.MetadataExpiresAt: req.ExpiresAt.Format(time.RFC3339),
				},
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if existed {
				result, err = i.skipped(ctx, entry)
				return err
			}

			grant := &CreditGrant{
				ID:        grantID,
				AccountID: req.AccountID,
				Type:      req.Type,
				Amount:    req.Amount,
				ExpiresAt: req.ExpiresAt,
				OriginRef: req.OriginRef,
				LedgerID:  entry.ID,
				CreatedAt: now,
			}
			if err := i.pool.Create(ctx, grant); err != nil {
				return err
			}

			newBalance, err = i.projector.Apply(ctx, snap, req.Amount)
			if err != nil {
				return err
			}
			i.projector.Mirror(ctx, req.OrgID, req.Amount)

			result = &IssueResult{Grant: grant, LedgerEntry: entry}
			return nil
		})
	})
	if err != nil {
		i.observe(req, constants.ResultFailed)
		i.log.WithContext(ctx).Errorf("issue failed: account=%s, type=%s, amount=%d, err=%v", req.AccountID, req.Type, req.Amount, err)
		return nil, err
	}

	if result.Skipped {
		i.observe(req, constants.ResultSkipped)
		return result, nil
	}

	i.projector.Cache(ctx, newBalance)
	publishAsync(i.publisher, result.LedgerEntry, i.log.Warnf)
	i.observe(req, constants.ResultSuccess)
	if i.metrics != nil {
		i.metrics.IssueCredits.WithLabelValues(string(req.Type)).Add(float64(req.Amount))
	}
	i.log.WithContext(ctx).Infof("issued %d %s credits to account=%s, grant=%s, balance=%d",
		req.Amount, req.Type, req.AccountID, result.Grant.ID, newBalance.Balance)
	return result, nil
}

// skipped 幂等命中：返回原流水对应的 grant
func (i *GrantIssuer) skipped(ctx context.Context, entry *LedgerEntry) (*IssueResult, error) {
	if entry.Kind != LedgerKindAllocation {
		return nil, creditErrors.IdempotencyKeyMismatch(entry.IdempotencyKey)
	}
	grant, err := i.pool.GetByLedgerID(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	return &IssueResult{Grant: grant, LedgerEntry: entry, Skipped: true}, nil
}

func (i *GrantIssuer) observe(req *IssueRequest, result string) {
	if i.metrics == nil {
		return
	}
	grantType := "unknown"
	if req != nil && req.Type.Valid() {
		grantType = string(req.Type)
	}
	i.metrics.IssueTotal.WithLabelValues(grantType, result).Inc()
}
