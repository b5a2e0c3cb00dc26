package biz

import (
	"context"
	"encoding/json"
	"time"

	"credit-service/internal/clock"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// LedgerKind 流水类型
type LedgerKind string

const (
	LedgerKindAllocation LedgerKind = "allocation"
	LedgerKindDeduction  LedgerKind = "deduction"
)

// LedgerEntry 积分流水（只追加，不更新不删除）
type LedgerEntry struct {
	ID             string
	AccountID      string
	OrgID          string
	Kind           LedgerKind
	Amount         int64 // allocation 为正，deduction 为负
	Reason         string
	BalanceAfter   int64
	IdempotencyKey string
	ActionKey      string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// GrantDeductions 从 deduction 流水的元数据中还原每个 grant 的扣减明细
func (e *LedgerEntry) GrantDeductions() []GrantAllocation {
	raw, ok := e.Metadata[constants.MetadataGrantDeductions]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var allocations []GrantAllocation
	if err := json.Unmarshal(b, &allocations); err != nil {
		return nil
	}
	return allocations
}

// LedgerRepo 流水数据层接口（定义在 biz 层）
type LedgerRepo interface {
	// AppendEntry 写入流水；幂等 key 已存在时返回已有流水且 existed=true
	AppendEntry(ctx context.Context, entry *LedgerEntry) (*LedgerEntry, bool, error)
	GetEntry(ctx context.Context, id string) (*LedgerEntry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*LedgerEntry, int64, error)
}

// LedgerStore 流水存储
type LedgerStore struct {
	repo  LedgerRepo
	clock clock.Clock
	log   *log.Helper
}

// NewLedgerStore 创建流水存储
func NewLedgerStore(repo LedgerRepo, clk clock.Clock, logger log.Logger) *LedgerStore {
	return &LedgerStore{
		repo:  repo,
		clock: clk,
		log:   log.NewHelper(logger),
	}
}

// Append 追加一条流水，只写流水本身，不产生 grant 或余额副作用
func (s *LedgerStore) Append(ctx context.Context, entry *LedgerEntry) (*LedgerEntry, bool, error) {
	if entry == nil || entry.AccountID == "" {
		return nil, false, creditErrors.InvalidArgument("ledger entry requires an account id")
	}
	switch entry.Kind {
	case LedgerKindAllocation:
		if entry.Amount <= 0 {
			return nil, false, creditErrors.InvalidArgument("allocation amount must be positive, got %d", entry.Amount)
		}
	case LedgerKindDeduction:
		if entry.Amount >= 0 {
			return nil, false, creditErrors.InvalidArgument("deduction amount must be negative, got %d", entry.Amount)
		}
	default:
		return nil, false, creditErrors.InvalidArgument("unknown ledger kind %q", entry.Kind)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	saved, existed, err := s.repo.AppendEntry(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if existed {
		s.log.Infof("ledger entry already exists for idempotency key %s, entry=%s", entry.IdempotencyKey, saved.ID)
	}
	return saved, existed, nil
}

// GetByIdempotencyKey 按幂等 key 查询，不存在返回 nil
func (s *LedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (*LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	return s.repo.GetEntryByIdempotencyKey(ctx, key)
}

// Get 按 ID 查询，不存在返回 nil
func (s *LedgerStore) Get(ctx context.Context, id string) (*LedgerEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// List 分页查询账户流水（按时间倒序）
func (s *LedgerStore) List(ctx context.Context, accountID string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	if accountID == "" {
		return nil, 0, creditErrors.InvalidArgument("account id is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}
	return s.repo.ListEntries(ctx, accountID, page, pageSize)
}
