package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheBalanceScript 只有更高版本的投影才能覆盖缓存，避免并发提交后写缓存的先后顺序颠倒
var cacheBalanceScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[2]) then
    return 0
end
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'version', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// balanceRepo 余额投影数据访问（DB + Redis 缓存）
type balanceRepo struct {
	data *Data
	log  *log.Helper
}

// NewBalanceRepo 创建余额 repo（返回 biz.BalanceRepo 接口）
func NewBalanceRepo(data *Data, logger log.Logger) biz.BalanceRepo {
	return &balanceRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetBalance 查询投影，不存在返回 nil
func (r *balanceRepo) GetBalance(ctx context.Context, accountID string) (*biz.AccountBalance, error) {
	var m model.AccountBalance
	if err := r.data.DB(ctx).Where("account_id = ?", accountID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorf("GetBalance failed: account=%s, error=%v", accountID, err)
		return nil, fmt.Errorf("failed to query account balance: %w", err)
	}
	return &biz.AccountBalance{
		AccountID: m.AccountID,
		Balance:   m.Balance,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// EnsureAccount 不存在时插入零余额行，并发插入时忽略冲突
func (r *balanceRepo) EnsureAccount(ctx context.Context, accountID string) error {
	err := r.data.DB(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.AccountBalance{AccountID: accountID}).Error
	if err != nil {
		return fmt.Errorf("failed to ensure account balance: %w", err)
	}
	return nil
}

// CompareAndSwap 乐观锁更新：version 不匹配时影响行数为 0
func (r *balanceRepo) CompareAndSwap(ctx context.Context, accountID string, expectedVersion, delta int64) error {
	result := r.data.DB(ctx).Model(&model.AccountBalance{}).
		Where("account_id = ? AND version = ?", accountID, expectedVersion).
		Updates(map[string]any{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update account balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return creditErrors.VersionConflict(accountID)
	}
	return nil
}

// MirrorIncrement 在 savepoint 中更新组织镜像，失败时只回滚 savepoint
func (r *balanceRepo) MirrorIncrement(ctx context.Context, orgID string, delta int64) error {
	return r.data.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.OrgBalanceMirror
		if err := tx.Where("org_id = ?", orgID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return creditErrors.OrganizationMirrorMissing(orgID)
			}
			return err
		}
		result := tx.Model(&model.OrgBalanceMirror{}).
			Where("org_id = ? AND version = ?", orgID, m.Version).
			Updates(map[string]any{
				"balance": gorm.Expr("balance + ?", delta),
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return creditErrors.VersionConflict(orgID)
		}
		return nil
	})
}

// ListAccountIDs 所有有投影的账户
func (r *balanceRepo) ListAccountIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.data.DB(ctx).Model(&model.AccountBalance{}).
		Order("account_id").
		Pluck("account_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list account ids: %w", err)
	}
	return ids, nil
}

// CacheBalance 写余额缓存；未配置 Redis 时为空操作
func (r *balanceRepo) CacheBalance(ctx context.Context, balance *biz.AccountBalance, ttl time.Duration) error {
	if r.data.rdb == nil {
		return nil
	}
	return cacheBalanceScript.Run(ctx, r.data.rdb,
		[]string{constants.RedisKeyBalance + balance.AccountID},
		balance.Balance, balance.Version, ttl.Milliseconds(),
	).Err()
}

// GetCachedBalance 读余额缓存
func (r *balanceRepo) GetCachedBalance(ctx context.Context, accountID string) (*biz.AccountBalance, bool) {
	if r.data.rdb == nil {
		return nil, false
	}
	vals, err := r.data.rdb.HMGet(ctx, constants.RedisKeyBalance+accountID, "balance", "version").Result()
	if err != nil {
		r.log.Warnf("failed to read balance cache: account=%s, err=%v", accountID, err)
		return nil, false
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, false
	}
	balanceStr, _ := vals[0].(string)
	versionStr, _ := vals[1].(string)
	balance, err := strconv.ParseInt(balanceStr, 10, 64)
	if err != nil {
		return nil, false
	}
	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, false
	}
	return &biz.AccountBalance{AccountID: accountID, Balance: balance, Version: version}, true
}
