package service

import (
	"context"

	"credit-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditService 面向业务方的服务：扣费与账户查询
type CreditService struct {
	uc  *biz.CreditUseCase
	log *log.Helper
}

// NewCreditService 创建 CreditService
func NewCreditService(uc *biz.CreditUseCase, logger log.Logger) *CreditService {
	return &CreditService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// Deduct 扣费；成功返回后调用方才能开始计费动作
func (s *CreditService) Deduct(ctx context.Context, req *DeductRequest) (*DeductReply, error) {
	result, err := s.uc.Deduct(ctx, &biz.DeductRequest{
		AccountID:      req.AccountID,
		OrgID:          req.OrgID,
		ActionKey:      req.ActionKey,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	reply := &DeductReply{
		Entry:           toLedgerEntry(result.LedgerEntry),
		GrantDeductions: make([]*GrantDeduction, 0, len(result.GrantDeductions)),
		Cost:            result.Cost,
		Skipped:         result.Skipped,
	}
	for _, d := range result.GrantDeductions {
		reply.GrantDeductions = append(reply.GrantDeductions, &GrantDeduction{GrantID: d.GrantID, Amount: d.Amount})
	}
	return reply, nil
}

// GetAvailable 当前可用积分
func (s *CreditService) GetAvailable(ctx context.Context, req *AccountRequest) (*AvailableReply, error) {
	available, err := s.uc.AvailableTotal(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	return &AvailableReply{AccountID: req.AccountID, Available: available}, nil
}

// ListGrants 当前可用的 grant，按扣费顺序
func (s *CreditService) ListGrants(ctx context.Context, req *AccountRequest) (*ListGrantsReply, error) {
	grants, err := s.uc.ListActive(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	reply := &ListGrantsReply{
		AccountID: req.AccountID,
		Grants:    make([]*Grant, 0, len(grants)),
	}
	for _, g := range grants {
		reply.Grants = append(reply.Grants, toGrant(g))
	}
	return reply, nil
}

// GetBalance 余额投影
func (s *CreditService) GetBalance(ctx context.Context, req *AccountRequest) (*BalanceReply, error) {
	b, err := s.uc.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{AccountID: b.AccountID, Balance: b.Balance, Version: b.Version}, nil
}

// ListLedger 流水历史
func (s *CreditService) ListLedger(ctx context.Context, req *ListLedgerRequest) (*ListLedgerReply, error) {
	page := int(req.Page)
	if page <= 0 {
		page = 1
	}
	pageSize := int(req.PageSize)
	if pageSize <= 0 {
		pageSize = 20
	}

	entries, total, err := s.uc.ListLedger(ctx, req.AccountID, page, pageSize)
	if err != nil {
		s.log.Errorf("ListLedger failed: %v", err)
		return nil, err
	}

	reply := &ListLedgerReply{
		Entries:  make([]*LedgerEntry, 0, len(entries)),
		Total:    total,
		Page:     int32(page),
		PageSize: int32(pageSize),
	}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, toLedgerEntry(e))
	}
	return reply, nil
}

// GetUsageStats 今日/本月消耗统计
func (s *CreditService) GetUsageStats(ctx context.Context, req *UsageStatsRequest) (*UsageStatsReply, error) {
	stats, err := s.uc.GetUsageStats(ctx, req.AccountID, req.Period)
	if err != nil {
		return nil, err
	}
	reply := &UsageStatsReply{
		AccountID:    stats.AccountID,
		Period:       stats.Period,
		Count:        stats.Count,
		CreditsSpent: stats.CreditsSpent,
		Actions:      make([]*ActionUsage, 0, len(stats.Actions)),
	}
	for _, a := range stats.Actions {
		reply.Actions = append(reply.Actions, &ActionUsage{
			ActionKey:    a.ActionKey,
			Count:        a.Count,
			CreditsSpent: a.CreditsSpent,
		})
	}
	return reply, nil
}

func toGrant(g *biz.CreditGrant) *Grant {
	if g == nil {
		return nil
	}
	return &Grant{
		ID:         g.ID,
		AccountID:  g.AccountID,
		Type:       string(g.Type),
		Amount:     g.Amount,
		UsedAmount: g.UsedAmount,
		Available:  g.Remaining(),
		ExpiresAt:  g.ExpiresAt,
		OriginRef:  g.OriginRef,
		LedgerID:   g.LedgerID,
		CreatedAt:  g.CreatedAt,
	}
}

func toLedgerEntry(e *biz.LedgerEntry) *LedgerEntry {
	if e == nil {
		return nil
	}
	return &LedgerEntry{
		ID:             e.ID,
		AccountID:      e.AccountID,
		OrgID:          e.OrgID,
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		Reason:         e.Reason,
		BalanceAfter:   e.BalanceAfter,
		IdempotencyKey: e.IdempotencyKey,
		ActionKey:      e.ActionKey,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
	}
}
