package biz

import (
	"context"

	"credit-service/internal/clock"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditUseCase 积分业务逻辑（组合 UseCase）
// 对外暴露的引擎操作都从这里进入，由它注入当前时间
type CreditUseCase struct {
	issuer      *GrantIssuer
	coordinator *DeductionCoordinator
	pool        *GrantPool
	projector   *BalanceProjector
	ledger      *LedgerStore
	stats       *StatsUseCase
	clock       clock.Clock
	log         *log.Helper
}

// NewCreditUseCase 创建积分 UseCase
func NewCreditUseCase(
	issuer *GrantIssuer,
	coordinator *DeductionCoordinator,
	pool *GrantPool,
	projector *BalanceProjector,
	ledger *LedgerStore,
	stats *StatsUseCase,
	clk clock.Clock,
	logger log.Logger,
) *CreditUseCase {
	return &CreditUseCase{
		issuer:      issuer,
		coordinator: coordinator,
		pool:        pool,
		projector:   projector,
		ledger:      ledger,
		stats:       stats,
		clock:       clk,
		log:         log.NewHelper(logger),
	}
}

// Issue 发放积分
func (uc *CreditUseCase) Issue(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	return uc.issuer.Issue(ctx, req)
}

// IssueFromTrigger 处理支付方触发事件
func (uc *CreditUseCase) IssueFromTrigger(ctx context.Context, event *TriggerEvent) (*IssueResult, error) {
	req, err := event.ToIssueRequest()
	if err != nil {
		return nil, err
	}
	return uc.issuer.Issue(ctx, req)
}

// Deduct 扣费，调用方必须在成功返回后才能开始计费动作
func (uc *CreditUseCase) Deduct(ctx context.Context, req *DeductRequest) (*DeductResult, error) {
	return uc.coordinator.Deduct(ctx, req, uc.clock.Now())
}

// AvailableTotal 当前可用积分
func (uc *CreditUseCase) AvailableTotal(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, creditErrors.InvalidArgument("account id is required")
	}
	return uc.pool.AvailableTotal(ctx, accountID, uc.clock.Now())
}

// ListActive 当前可用的 grant（按扣费顺序）
func (uc *CreditUseCase) ListActive(ctx context.Context, accountID string) ([]*CreditGrant, error) {
	if accountID == "" {
		return nil, creditErrors.InvalidArgument("account id is required")
	}
	return uc.pool.ListActive(ctx, accountID, uc.clock.Now())
}

// GetBalance 余额投影
func (uc *CreditUseCase) GetBalance(ctx context.Context, accountID string) (*AccountBalance, error) {
	if accountID == "" {
		return nil, creditErrors.InvalidArgument("account id is required")
	}
	return uc.projector.GetBalance(ctx, accountID)
}

// ListLedger 流水历史
func (uc *CreditUseCase) ListLedger(ctx context.Context, accountID string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	return uc.ledger.List(ctx, accountID, page, pageSize)
}

// GetUsageStats 消耗统计
func (uc *CreditUseCase) GetUsageStats(ctx context.Context, accountID, period string) (*UsageStats, error) {
	return uc.stats.GetUsageStats(ctx, accountID, period)
}
