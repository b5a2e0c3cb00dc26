package data

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// redisLocker 基于 redsync 的分布式锁
type redisLocker struct {
	rs  *redsync.Redsync
	log *log.Helper
}

// NewLocker 创建分布式锁；未配置 Redis 时返回 nil，扣费按无锁执行
func NewLocker(data *Data, logger log.Logger) biz.Locker {
	if data.rdb == nil {
		return nil
	}
	return &redisLocker{
		rs:  redsync.New(goredis.NewPool(data.rdb)),
		log: log.NewHelper(logger),
	}
}

// Lock 获取锁，重试次数较少：锁只用于降低冲突，拿不到时调用方降级为无锁
func (l *redisLocker) Lock(ctx context.Context, key string, expiry time.Duration) (func(context.Context) error, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(expiry),
		redsync.WithTries(8),
		redsync.WithRetryDelay(25*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, creditErrors.DeductLockFailed(key, err)
	}
	return func(ctx context.Context) error {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			if err == nil {
				err = redsync.ErrLockAlreadyExpired
			}
			return err
		}
		return nil
	}, nil
}
