package biz

import (
	"context"
	"sort"
	"time"

	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// GrantType 积分来源
type GrantType string

const (
	GrantTypeSubscription GrantType = "SUBSCRIPTION"
	GrantTypeTopup        GrantType = "TOPUP"
)

// Valid 是否为已知类型
func (t GrantType) Valid() bool {
	return t == GrantTypeSubscription || t == GrantTypeTopup
}

// Priority 扣费优先级，数值越小越先扣；订阅积分优先于充值积分，与到期时间无关
func (t GrantType) Priority() int {
	switch t {
	case GrantTypeSubscription:
		return 0
	case GrantTypeTopup:
		return 1
	default:
		return 2
	}
}

// CreditGrant 一笔带到期时间的积分
// Amount 与 ExpiresAt 不可变，UsedAmount 与 ExpiredAmount 只增不减
type CreditGrant struct {
	ID            string
	AccountID     string
	Type          GrantType
	Amount        int64
	UsedAmount    int64
	ExpiredAmount int64 // 过期清扫时核销的剩余
	ExpiresAt     time.Time
	OriginRef     string
	LedgerID      string
	CreatedAt     time.Time
}

// Remaining 未使用且未核销的积分（不考虑过期）
func (g *CreditGrant) Remaining() int64 {
	consumed := g.UsedAmount + g.ExpiredAmount
	if consumed >= g.Amount {
		return 0
	}
	return g.Amount - consumed
}

// Available now 时刻可用的积分，过期后为 0
func (g *CreditGrant) Available(now time.Time) int64 {
	if !now.Before(g.ExpiresAt) {
		return 0
	}
	return g.Remaining()
}

// Expired 是否已过期
func (g *CreditGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// GrantAllocation 单个 grant 的扣减量
type GrantAllocation struct {
	GrantID string `json:"grant_id"`
	Amount  int64  `json:"amount"`
}

// DeductionPlan 扣费计划
type DeductionPlan struct {
	Allocations  []GrantAllocation
	Required     int64
	Available    int64
	FullyCovered bool
}

// SortGrants 按 (类型优先级, 到期时间, 创建时间, ID) 排序
func SortGrants(grants []*CreditGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		if pa, pb := a.Type.Priority(), b.Type.Priority(); pa != pb {
			return pa < pb
		}
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// PlanDeduction 在有序 grant 列表上贪心分配 cost
// grants 需已按 SortGrants 排序；可用量为 0 的 grant 被跳过
func PlanDeduction(grants []*CreditGrant, now time.Time, cost int64) DeductionPlan {
	plan := DeductionPlan{Required: cost}
	remaining := cost
	for _, g := range grants {
		available := g.Available(now)
		if available <= 0 {
			continue
		}
		plan.Available += available
		if remaining <= 0 {
			continue
		}
		take := min(remaining, available)
		plan.Allocations = append(plan.Allocations, GrantAllocation{GrantID: g.ID, Amount: take})
		remaining -= take
	}
	plan.FullyCovered = remaining <= 0
	if !plan.FullyCovered {
		plan.Allocations = nil
	}
	return plan
}

// GrantRepo grant 数据层接口（定义在 biz 层）
type GrantRepo interface {
	CreateGrant(ctx context.Context, grant *CreditGrant) error
	GetGrant(ctx context.Context, id string) (*CreditGrant, error)
	GetGrantByLedgerID(ctx context.Context, ledgerID string) (*CreditGrant, error)
	// ListOpenGrants 返回仍有剩余的 grant，不过滤过期
	ListOpenGrants(ctx context.Context, accountID string) ([]*CreditGrant, error)
	// ConsumeGrant 条件更新 used_amount，剩余不足时返回 GrantMutationRace
	ConsumeGrant(ctx context.Context, id string, amount int64) error
	// ExpireGrant 条件更新 expired_amount，与 ConsumeGrant 共用同一剩余约束
	ExpireGrant(ctx context.Context, id string, amount int64) error
}

// GrantPool grant 池
type GrantPool struct {
	repo GrantRepo
	log  *log.Helper
}

// NewGrantPool 创建 grant 池
func NewGrantPool(repo GrantRepo, logger log.Logger) *GrantPool {
	return &GrantPool{
		repo: repo,
		log:  log.NewHelper(logger),
	}
}

// Create 创建 grant
func (p *GrantPool) Create(ctx context.Context, grant *CreditGrant) error {
	return p.repo.CreateGrant(ctx, grant)
}

// Get 按 ID 查询，不存在返回 nil
func (p *GrantPool) Get(ctx context.Context, id string) (*CreditGrant, error) {
	return p.repo.GetGrant(ctx, id)
}

// GetByLedgerID 查询某条 allocation 流水对应的 grant
func (p *GrantPool) GetByLedgerID(ctx context.Context, ledgerID string) (*CreditGrant, error) {
	return p.repo.GetGrantByLedgerID(ctx, ledgerID)
}

// ListActive 返回 now 时刻仍有可用积分的 grant，按扣费优先级排序
func (p *GrantPool) ListActive(ctx context.Context, accountID string, now time.Time) ([]*CreditGrant, error) {
	grants, err := p.repo.ListOpenGrants(ctx, accountID)
	if err != nil {
		return nil, err
	}
	active := make([]*CreditGrant, 0, len(grants))
	for _, g := range grants {
		if g.Available(now) > 0 {
			active = append(active, g)
		}
	}
	SortGrants(active)
	return active, nil
}

// ListExpiredOpen 返回已过期但仍有剩余积分的 grant
func (p *GrantPool) ListExpiredOpen(ctx context.Context, accountID string, now time.Time) ([]*CreditGrant, error) {
	grants, err := p.repo.ListOpenGrants(ctx, accountID)
	if err != nil {
		return nil, err
	}
	expired := make([]*CreditGrant, 0)
	for _, g := range grants {
		if g.Expired(now) && g.Remaining() > 0 {
			expired = append(expired, g)
		}
	}
	SortGrants(expired)
	return expired, nil
}

// AvailableTotal now 时刻的可用积分总额
func (p *GrantPool) AvailableTotal(ctx context.Context, accountID string, now time.Time) (int64, error) {
	grants, err := p.ListActive(ctx, accountID, now)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, g := range grants {
		total += g.Available(now)
	}
	return total, nil
}

// AllocateDeduction 只做规划，不写库
func (p *GrantPool) AllocateDeduction(ctx context.Context, accountID string, now time.Time, cost int64) (*DeductionPlan, error) {
	if cost <= 0 {
		return nil, creditErrors.InvalidArgument("deduction cost must be positive, got %d", cost)
	}
	grants, err := p.ListActive(ctx, accountID, now)
	if err != nil {
		return nil, err
	}
	plan := PlanDeduction(grants, now, cost)
	return &plan, nil
}

// Consume 在事务内执行一项扣减：重新读取 grant，确认 now 时刻仍然足够后做条件更新
func (p *GrantPool) Consume(ctx context.Context, allocation GrantAllocation, now time.Time) error {
	g, err := p.repo.GetGrant(ctx, allocation.GrantID)
	if err != nil {
		return err
	}
	if g == nil || g.Available(now) < allocation.Amount {
		return creditErrors.GrantMutationRace(allocation.GrantID)
	}
	return p.repo.ConsumeGrant(ctx, allocation.GrantID, allocation.Amount)
}

// WriteOff 在事务内核销过期 grant 的全部剩余，返回核销量；未过期或已无剩余时返回 0
// 与 Consume 作用在同一行的条件更新上，同一笔积分只会被扣减或核销一次
func (p *GrantPool) WriteOff(ctx context.Context, grantID string, now time.Time) (*CreditGrant, int64, error) {
	g, err := p.repo.GetGrant(ctx, grantID)
	if err != nil {
		return nil, 0, err
	}
	if g == nil || !g.Expired(now) {
		return g, 0, nil
	}
	remaining := g.Remaining()
	if remaining <= 0 {
		return g, 0, nil
	}
	if err := p.repo.ExpireGrant(ctx, grantID, remaining); err != nil {
		return nil, 0, err
	}
	return g, remaining, nil
}
