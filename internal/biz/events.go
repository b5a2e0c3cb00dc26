package biz

import (
	"context"
	"time"
)

// Locker 分布式锁（可选）
type Locker interface {
	// Lock 获取锁，返回释放函数
	Lock(ctx context.Context, key string, expiry time.Duration) (unlock func(context.Context) error, err error)
}

// LedgerEventPublisher 流水事件发布（事务提交后调用，尽力而为）
type LedgerEventPublisher interface {
	PublishLedgerEntry(ctx context.Context, entry *LedgerEntry) error
}

// publishAsync 异步发布，失败只记录日志
func publishAsync(publisher LedgerEventPublisher, entry *LedgerEntry, warnf func(format string, a ...any)) {
	if publisher == nil || entry == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := publisher.PublishLedgerEntry(ctx, entry); err != nil {
			warnf("failed to publish ledger entry %s: %v", entry.ID, err)
		}
	}()
}
