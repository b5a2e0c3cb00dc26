package biz

import (
	"context"
	"time"

	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// AccountBalance 账户余额投影（缓存性质，grant 池才是可用额度的权威来源）
type AccountBalance struct {
	AccountID string
	Balance   int64
	Version   int64
	UpdatedAt time.Time
}

// BalanceRepo 余额投影数据层接口（定义在 biz 层）
type BalanceRepo interface {
	// GetBalance 不存在返回 nil
	GetBalance(ctx context.Context, accountID string) (*AccountBalance, error)
	// EnsureAccount 不存在时创建余额为 0 的投影
	EnsureAccount(ctx context.Context, accountID string) error
	// CompareAndSwap version 匹配时 balance += delta 且 version + 1，否则返回 VersionConflict
	CompareAndSwap(ctx context.Context, accountID string, expectedVersion, delta int64) error
	// MirrorIncrement 在独立 savepoint 中更新组织镜像
	MirrorIncrement(ctx context.Context, orgID string, delta int64) error
	ListAccountIDs(ctx context.Context) ([]string, error)

	// CacheBalance 仅当 version 比缓存中的新时才覆盖
	CacheBalance(ctx context.Context, balance *AccountBalance, ttl time.Duration) error
	GetCachedBalance(ctx context.Context, accountID string) (*AccountBalance, bool)
}

// BalanceProjector 余额投影维护
type BalanceProjector struct {
	repo     BalanceRepo
	cacheTTL time.Duration
	log      *log.Helper
	metrics  *metrics.CreditMetrics
}

// NewBalanceProjector 创建余额投影
func NewBalanceProjector(repo BalanceRepo, conf *CreditConfig, logger log.Logger) *BalanceProjector {
	return &BalanceProjector{
		repo:     repo,
		cacheTTL: conf.BalanceCacheTTL,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// EnsureAccount 首次发放前创建投影行
func (p *BalanceProjector) EnsureAccount(ctx context.Context, accountID string) error {
	return p.repo.EnsureAccount(ctx, accountID)
}

// Snapshot 读取 (balance, version)
func (p *BalanceProjector) Snapshot(ctx context.Context, accountID string) (*AccountBalance, error) {
	b, err := p.repo.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, creditErrors.AccountNotFound(accountID)
	}
	return b, nil
}

// Apply 基于快照做 CAS，返回更新后的投影
func (p *BalanceProjector) Apply(ctx context.Context, snap *AccountBalance, delta int64) (*AccountBalance, error) {
	if err := p.repo.CompareAndSwap(ctx, snap.AccountID, snap.Version, delta); err != nil {
		return nil, err
	}
	return &AccountBalance{
		AccountID: snap.AccountID,
		Balance:   snap.Balance + delta,
		Version:   snap.Version + 1,
	}, nil
}

// Increment 读取快照后 CAS 更新
func (p *BalanceProjector) Increment(ctx context.Context, accountID string, delta int64) (*AccountBalance, error) {
	snap, err := p.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return p.Apply(ctx, snap, delta)
}

// Mirror 尽力更新组织镜像，任何失败都只记录日志
func (p *BalanceProjector) Mirror(ctx context.Context, orgID string, delta int64) {
	if orgID == "" || delta == 0 {
		return
	}
	err := p.repo.MirrorIncrement(ctx, orgID, delta)
	if err == nil {
		return
	}
	reason := errors.Reason(err)
	if reason == "" {
		reason = "store"
	}
	if p.metrics != nil {
		p.metrics.MirrorFailureTotal.WithLabelValues(reason).Inc()
	}
	p.log.WithContext(ctx).Warnf("org mirror update skipped: org=%s, delta=%d, err=%v", orgID, delta, err)
}

// Cache 事务提交后写缓存，失败不影响主流程
func (p *BalanceProjector) Cache(ctx context.Context, balance *AccountBalance) {
	if balance == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := p.repo.CacheBalance(cacheCtx, balance, p.cacheTTL); err != nil {
		p.log.Warnf("failed to update balance cache: account=%s, err=%v", balance.AccountID, err)
	}
}

// GetBalance 读取投影，优先缓存
func (p *BalanceProjector) GetBalance(ctx context.Context, accountID string) (*AccountBalance, error) {
	if cached, ok := p.repo.GetCachedBalance(ctx, accountID); ok {
		if p.metrics != nil {
			p.metrics.BalanceQueryTotal.WithLabelValues("cache").Inc()
		}
		return cached, nil
	}
	if p.metrics != nil {
		p.metrics.BalanceQueryTotal.WithLabelValues("db").Inc()
	}
	b, err := p.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p.Cache(ctx, b)
	return b, nil
}

// ListAccountIDs 所有有投影的账户
func (p *BalanceProjector) ListAccountIDs(ctx context.Context) ([]string, error) {
	return p.repo.ListAccountIDs(ctx)
}
