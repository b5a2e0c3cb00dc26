package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ledgerRepo 流水数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建流水 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AppendEntry 写入流水
// 插入在 savepoint 中执行：并发写入同一幂等 key 时，输掉竞争的一方回滚 savepoint 后读取已有流水
func (r *ledgerRepo) AppendEntry(ctx context.Context, entry *biz.LedgerEntry) (*biz.LedgerEntry, bool, error) {
	if entry.IdempotencyKey != "" {
		existing, err := r.GetEntryByIdempotencyKey(ctx, entry.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	m, err := toLedgerModel(entry)
	if err != nil {
		return nil, false, err
	}

	err = r.data.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err == nil {
		return entry, false, nil
	}
	if entry.IdempotencyKey == "" || !isDuplicateKeyErr(err) {
		r.log.Errorf("AppendEntry failed: account=%s, kind=%s, error=%v", entry.AccountID, entry.Kind, err)
		return nil, false, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	existing, lookupErr := r.GetEntryByIdempotencyKey(ctx, entry.IdempotencyKey)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		// 当前事务快照看不到对方已提交的流水，整体重试即可读到
		return nil, false, creditErrors.VersionConflict(entry.AccountID)
	}
	return existing, true, nil
}

// GetEntry 按 ID 查询
func (r *ledgerRepo) GetEntry(ctx context.Context, id string) (*biz.LedgerEntry, error) {
	var m model.LedgerEntry
	if err := r.data.DB(ctx).Where("ledger_entry_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ledger entry: %w", err)
	}
	e, err := toLedgerEntry(&m)
	if err != nil {
		r.log.WithContext(ctx).Errorf("corrupt ledger entry: %v", err)
		return nil, err
	}
	return e, nil
}

// GetEntryByIdempotencyKey 按幂等 key 查询
func (r *ledgerRepo) GetEntryByIdempotencyKey(ctx context.Context, key string) (*biz.LedgerEntry, error) {
	var m model.LedgerEntry
	if err := r.data.DB(ctx).Where("idempotency_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ledger entry by idempotency key: %w", err)
	}
	e, err := toLedgerEntry(&m)
	if err != nil {
		r.log.WithContext(ctx).Errorf("corrupt ledger entry: %v", err)
		return nil, err
	}
	return e, nil
}

// ListEntries 分页查询，按时间倒序
func (r *ledgerRepo) ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*biz.LedgerEntry, int64, error) {
	var total int64
	query := r.data.DB(ctx).Model(&model.LedgerEntry{}).Where("account_id = ?", accountID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	var rows []model.LedgerEntry
	if err := r.data.DB(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("ledger_entry_id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	entries := make([]*biz.LedgerEntry, 0, len(rows))
	for i := range rows {
		e, err := toLedgerEntry(&rows[i])
		if err != nil {
			// 历史列表只展示，metadata 损坏不影响其余字段
			r.log.WithContext(ctx).Errorf("ListEntries: %v", err)
		}
		entries = append(entries, e)
	}
	return entries, total, nil
}

func toLedgerModel(e *biz.LedgerEntry) (*model.LedgerEntry, error) {
	m := &model.LedgerEntry{
		LedgerEntryID: e.ID,
		AccountID:     e.AccountID,
		OrgID:         e.OrgID,
		Kind:          string(e.Kind),
		Amount:        e.Amount,
		Reason:        e.Reason,
		BalanceAfter:  e.BalanceAfter,
		ActionKey:     e.ActionKey,
		CreatedAt:     e.CreatedAt,
	}
	if e.IdempotencyKey != "" {
		key := e.IdempotencyKey
		m.IdempotencyKey = &key
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger metadata: %w", err)
	}
	m.Metadata = datatypes.JSON(b)
	return m, nil
}

// toLedgerEntry metadata 解码失败时仍返回其余字段，同时返回错误
func toLedgerEntry(m *model.LedgerEntry) (*biz.LedgerEntry, error) {
	e := &biz.LedgerEntry{
		ID:           m.LedgerEntryID,
		AccountID:    m.AccountID,
		OrgID:        m.OrgID,
		Kind:         biz.LedgerKind(m.Kind),
		Amount:       m.Amount,
		Reason:       m.Reason,
		BalanceAfter: m.BalanceAfter,
		ActionKey:    m.ActionKey,
		CreatedAt:    m.CreatedAt.UTC(),
	}
	if m.IdempotencyKey != nil {
		e.IdempotencyKey = *m.IdempotencyKey
	}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata of ledger entry %s: %w", m.LedgerEntryID, err)
		}
	}
	return e, nil
}
