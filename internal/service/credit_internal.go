package service

import (
	"context"
	"strings"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditInternalService 内部服务：管理后台手动发放、支付回调发放
type CreditInternalService struct {
	uc  *biz.CreditUseCase
	log *log.Helper
}

// NewCreditInternalService 创建 CreditInternalService
func NewCreditInternalService(uc *biz.CreditUseCase, logger log.Logger) *CreditInternalService {
	return &CreditInternalService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// IssueGrant 发放积分；未给出 expires_at 时按 valid_days 计算
func (s *CreditInternalService) IssueGrant(ctx context.Context, req *IssueGrantRequest) (*IssueGrantReply, error) {
	if req.ExpiresAt.IsZero() && req.ValidDays <= 0 {
		return nil, creditErrors.InvalidArgument("expires_at or valid_days is required")
	}

	result, err := s.uc.Issue(ctx, &biz.IssueRequest{
		AccountID:      req.AccountID,
		OrgID:          req.OrgID,
		Type:           biz.GrantType(strings.ToUpper(req.Type)),
		Amount:         req.Amount,
		ExpiresAt:      req.ExpiresAt,
		ValidDays:      int(req.ValidDays),
		OriginRef:      req.OriginRef,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.log.Errorf("IssueGrant failed: account=%s, err=%v", req.AccountID, err)
		return nil, err
	}

	return &IssueGrantReply{
		Grant:   toGrant(result.Grant),
		Entry:   toLedgerEntry(result.LedgerEntry),
		Skipped: result.Skipped,
	}, nil
}
