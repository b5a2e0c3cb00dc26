package biz

import (
	"context"
	"time"

	"credit-service/internal/clock"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ActionUsage 单个动作的消耗统计
type ActionUsage struct {
	ActionKey    string
	Count        int64 // 扣费次数
	CreditsSpent int64 // 消耗积分
}

// UsageStats 账户在某个周期内的消耗统计
type UsageStats struct {
	AccountID    string
	Period       string // today 或 month
	Count        int64
	CreditsSpent int64
	Actions      []*ActionUsage
}

// StatsRepo 统计数据层接口（定义在 biz 层）
type StatsRepo interface {
	// GetUsageByAction 统计 [start, end) 内按动作分组的 deduction 流水
	GetUsageByAction(ctx context.Context, accountID string, start, end time.Time) ([]*ActionUsage, error)
}

// StatsUseCase 统计业务逻辑
type StatsUseCase struct {
	repo  StatsRepo
	clock clock.Clock
	log   *log.Helper
}

// NewStatsUseCase 创建统计 UseCase
func NewStatsUseCase(repo StatsRepo, clk clock.Clock, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo:  repo,
		clock: clk,
		log:   log.NewHelper(logger),
	}
}

// GetUsageStats 获取今日或本月的消耗统计（UTC 自然日/自然月）
func (uc *StatsUseCase) GetUsageStats(ctx context.Context, accountID, period string) (*UsageStats, error) {
	if accountID == "" {
		return nil, creditErrors.InvalidArgument("account id is required")
	}
	if period == "" {
		period = constants.StatsPeriodToday
	}

	now := uc.clock.Now().UTC()
	var start, end time.Time
	switch period {
	case constants.StatsPeriodToday:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 0, 1)
	case constants.StatsPeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		return nil, creditErrors.InvalidArgument("unknown stats period %q", period)
	}

	actions, err := uc.repo.GetUsageByAction(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{AccountID: accountID, Period: period, Actions: actions}
	for _, a := range actions {
		stats.Count += a.Count
		stats.CreditsSpent += a.CreditsSpent
	}
	return stats, nil
}
