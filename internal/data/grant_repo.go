package data

import (
	"context"
	"errors"
	"fmt"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// grantRepo grant 数据访问
type grantRepo struct {
	data *Data
	log  *log.Helper
}

// NewGrantRepo 创建 grant repo（返回 biz.GrantRepo 接口）
func NewGrantRepo(data *Data, logger log.Logger) biz.GrantRepo {
	return &grantRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateGrant 创建 grant
func (r *grantRepo) CreateGrant(ctx context.Context, grant *biz.CreditGrant) error {
	m := &model.CreditGrant{
		CreditGrantID: grant.ID,
		AccountID:     grant.AccountID,
		Type:          string(grant.Type),
		Amount:        grant.Amount,
		UsedAmount:    grant.UsedAmount,
		ExpiredAmount: grant.ExpiredAmount,
		ExpiresAt:     grant.ExpiresAt.UTC(),
		OriginRef:     grant.OriginRef,
		LedgerID:      grant.LedgerID,
		CreatedAt:     grant.CreatedAt.UTC(),
	}
	if err := r.data.DB(ctx).Create(m).Error; err != nil {
		r.log.Errorf("CreateGrant failed: account=%s, ledger=%s, error=%v", grant.AccountID, grant.LedgerID, err)
		return fmt.Errorf("failed to create credit grant: %w", err)
	}
	return nil
}

// GetGrant 按 ID 查询
func (r *grantRepo) GetGrant(ctx context.Context, id string) (*biz.CreditGrant, error) {
	var m model.CreditGrant
	if err := r.data.DB(ctx).Where("credit_grant_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query credit grant: %w", err)
	}
	return toCreditGrant(&m), nil
}

// GetGrantByLedgerID 按 allocation 流水 ID 查询
func (r *grantRepo) GetGrantByLedgerID(ctx context.Context, ledgerID string) (*biz.CreditGrant, error) {
	var m model.CreditGrant
	if err := r.data.DB(ctx).Where("ledger_id = ?", ledgerID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query credit grant by ledger id: %w", err)
	}
	return toCreditGrant(&m), nil
}

// ListOpenGrants 未用完且未核销的 grant；到期过滤在 biz 层按注入的时钟完成
func (r *grantRepo) ListOpenGrants(ctx context.Context, accountID string) ([]*biz.CreditGrant, error) {
	var rows []model.CreditGrant
	if err := r.data.DB(ctx).
		Where("account_id = ? AND used_amount + expired_amount < amount", accountID).
		Order("expires_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list credit grants: %w", err)
	}
	grants := make([]*biz.CreditGrant, 0, len(rows))
	for i := range rows {
		grants = append(grants, toCreditGrant(&rows[i]))
	}
	return grants, nil
}

// ConsumeGrant 条件更新 used_amount，影响行数为 0 说明 grant 已被并发消耗或核销
func (r *grantRepo) ConsumeGrant(ctx context.Context, id string, amount int64) error {
	return r.take(ctx, id, "used_amount", amount)
}

// ExpireGrant 条件更新 expired_amount
func (r *grantRepo) ExpireGrant(ctx context.Context, id string, amount int64) error {
	return r.take(ctx, id, "expired_amount", amount)
}

func (r *grantRepo) take(ctx context.Context, id, column string, amount int64) error {
	result := r.data.DB(ctx).Model(&model.CreditGrant{}).
		Where("credit_grant_id = ? AND used_amount + expired_amount + ? <= amount", id, amount).
		Update(column, gorm.Expr(column+" + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to update credit grant %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return creditErrors.GrantMutationRace(id)
	}
	return nil
}

func toCreditGrant(m *model.CreditGrant) *biz.CreditGrant {
	return &biz.CreditGrant{
		ID:            m.CreditGrantID,
		AccountID:     m.AccountID,
		Type:          biz.GrantType(m.Type),
		Amount:        m.Amount,
		UsedAmount:    m.UsedAmount,
		ExpiredAmount: m.ExpiredAmount,
		ExpiresAt:     m.ExpiresAt.UTC(),
		OriginRef:     m.OriginRef,
		LedgerID:      m.LedgerID,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}
