package biz

import (
	"time"

	"credit-service/internal/conf"
)

// CreditConfig 积分引擎配置
type CreditConfig struct {
	MaxAttempts         int           // 冲突重试的最大尝试次数（含首次）
	TxTimeout           time.Duration // 单次尝试的事务超时
	RetryBackoff        time.Duration // 重试基础退避时间
	DeductLock          bool          // 是否启用按账户的扣费分布式锁
	LockExpiry          time.Duration
	BalanceCacheTTL     time.Duration
	DefaultActionCost   int64 // >0 时未配置价格的动作按该值扣费
	LowBalanceThreshold int64
	Prices              map[string]ActionPrice
	Reconcile           ReconcileConfig
}

// ReconcileConfig 对账任务配置
type ReconcileConfig struct {
	Spec        string
	Repair      bool
	SweepExpiry bool
}

// NewCreditConfig 从配置创建 CreditConfig
func NewCreditConfig(c *conf.Bootstrap) *CreditConfig {
	config := &CreditConfig{
		MaxAttempts:         3,
		TxTimeout:           5 * time.Second,
		RetryBackoff:        20 * time.Millisecond,
		LockExpiry:          5 * time.Second,
		BalanceCacheTTL:     5 * time.Minute,
		LowBalanceThreshold: 50,
		Prices:              make(map[string]ActionPrice),
		Reconcile: ReconcileConfig{
			Spec:        "0 0 * * * *",
			SweepExpiry: true,
		},
	}
	if c == nil || c.Credit == nil {
		return config
	}
	cc := c.Credit
	if cc.MaxAttempts > 0 {
		config.MaxAttempts = int(cc.MaxAttempts)
	}
	if d := cc.TxTimeout.AsDuration(); d > 0 {
		config.TxTimeout = d
	}
	if cc.RetryBackoff != nil {
		config.RetryBackoff = cc.RetryBackoff.AsDuration()
	}
	if d := cc.LockExpiry.AsDuration(); d > 0 {
		config.LockExpiry = d
	}
	if d := cc.BalanceCacheTtl.AsDuration(); d > 0 {
		config.BalanceCacheTTL = d
	}
	if cc.LowBalanceThreshold > 0 {
		config.LowBalanceThreshold = cc.LowBalanceThreshold
	}
	config.DeductLock = cc.DeductLock
	config.DefaultActionCost = cc.DefaultActionCost
	for k, v := range cc.Prices {
		if v == nil {
			continue
		}
		config.Prices[k] = ActionPrice{UnitCost: v.UnitCost, UnitCount: v.UnitCount}
	}
	if cc.Reconcile != nil {
		if cc.Reconcile.Spec != "" {
			config.Reconcile.Spec = cc.Reconcile.Spec
		}
		if cc.Reconcile.Repair != nil {
			config.Reconcile.Repair = *cc.Reconcile.Repair
		}
		if cc.Reconcile.SweepExpiry != nil {
			config.Reconcile.SweepExpiry = *cc.Reconcile.SweepExpiry
		}
	}
	return config
}
