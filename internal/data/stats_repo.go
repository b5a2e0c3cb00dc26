package data

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// statsRepo 统计相关数据访问
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建统计 repo（返回 biz.StatsRepo 接口）
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetUsageByAction 按动作分组统计 deduction 流水
// 过期清扫写入的流水没有 action_key，不计入消耗
func (r *statsRepo) GetUsageByAction(ctx context.Context, accountID string, start, end time.Time) ([]*biz.ActionUsage, error) {
	var rows []struct {
		ActionKey    string
		Count        int64
		CreditsSpent int64
	}

	if err := r.data.DB(ctx).Model(&model.LedgerEntry{}).
		Where("account_id = ? AND kind = ? AND action_key <> ''", accountID, string(biz.LedgerKindDeduction)).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Select(
			"action_key",
			"COUNT(*) as count",
			"COALESCE(SUM(-amount), 0) as credits_spent",
		).
		Group("action_key").
		Order("action_key").
		Scan(&rows).Error; err != nil {
		r.log.Errorf("GetUsageByAction failed: account=%s, error=%v", accountID, err)
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}

	usage := make([]*biz.ActionUsage, 0, len(rows))
	for _, row := range rows {
		usage = append(usage, &biz.ActionUsage{
			ActionKey:    row.ActionKey,
			Count:        row.Count,
			CreditsSpent: row.CreditsSpent,
		})
	}
	return usage, nil
}
