package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CreditMetrics 积分服务指标
type CreditMetrics struct {
	// 发放相关指标
	IssueTotal    *prometheus.CounterVec   // 发放总数（按 grant 类型、结果）
	IssueDuration prometheus.Histogram     // 发放耗时
	IssueCredits  *prometheus.CounterVec   // 发放积分数（按 grant 类型）

	// 扣费相关指标
	DeductTotal        *prometheus.CounterVec   // 扣费总数（按动作、结果）
	DeductDuration     *prometheus.HistogramVec // 扣费耗时
	DeductCredits      *prometheus.CounterVec   // 扣除积分数（按动作）
	InsufficientTotal  *prometheus.CounterVec   // 积分不足拒绝次数（按动作）
	DefaultPriceUsed   *prometheus.CounterVec   // 未配置价格时使用默认价格的次数

	// 并发冲突相关指标
	ConflictTotal *prometheus.CounterVec // 冲突总数（按操作、原因）
	RetryTotal    *prometheus.CounterVec // 重试总数（按操作）

	// 余额投影相关指标
	BalanceQueryTotal  *prometheus.CounterVec // 余额查询总数（按来源 cache/db）
	MirrorFailureTotal *prometheus.CounterVec // 组织镜像更新失败（按原因）
	BalanceLowAlert    prometheus.Gauge       // 低余额账户数

	// 对账相关指标
	ReconcileDriftTotal  prometheus.Counter // 发现偏差的账户数
	ReconcileRepairTotal prometheus.Counter // 已修复的账户数
	ExpiredUnused        prometheus.Gauge   // 最近一次对账时已过期但未使用的积分
	ExpiredSweptCredits  prometheus.Counter // 过期清扫写入流水的积分数

	// 消息相关指标
	TriggerConsumeTotal *prometheus.CounterVec // 触发事件消费数（按事件类型、结果）
	LedgerPublishTotal  *prometheus.CounterVec // 流水事件发布数（按结果）

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewCreditMetrics 创建积分服务指标
func NewCreditMetrics() *CreditMetrics {
	return &CreditMetrics{
		IssueTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_issue_total",
				Help: "Total number of credit grant issuances",
			},
			[]string{"grant_type", "result"}, // result: success/skipped/failed
		),
		IssueDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_issue_duration_seconds",
				Help:    "Duration of credit issuance",
				Buckets: prometheus.DefBuckets,
			},
		),
		IssueCredits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_issue_credits_total",
				Help: "Total credits issued",
			},
			[]string{"grant_type"},
		),

		DeductTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_deduct_total",
				Help: "Total number of credit deductions",
			},
			[]string{"action", "result"}, // result: success/skipped/insufficient/conflict/failed
		),
		DeductDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_deduct_duration_seconds",
				Help:    "Duration of credit deductions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		DeductCredits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_deduct_credits_total",
				Help: "Total credits deducted",
			},
			[]string{"action"},
		),
		InsufficientTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_insufficient_total",
				Help: "Total number of deductions rejected for insufficient credits",
			},
			[]string{"action"},
		),
		DefaultPriceUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_default_price_used_total",
				Help: "Total number of deductions priced with the fallback cost",
			},
			[]string{"action"},
		),

		ConflictTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_conflict_total",
				Help: "Total number of optimistic concurrency conflicts",
			},
			[]string{"operation", "reason"},
		),
		RetryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_retry_total",
				Help: "Total number of retried operations",
			},
			[]string{"operation"},
		),

		BalanceQueryTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_balance_query_total",
				Help: "Total number of balance projection queries",
			},
			[]string{"source"}, // source: cache/db
		),
		MirrorFailureTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_org_mirror_failure_total",
				Help: "Total number of swallowed organization mirror failures",
			},
			[]string{"reason"},
		),
		BalanceLowAlert: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credit_balance_low_alert",
				Help: "Number of accounts with available credits below threshold",
			},
		),

		ReconcileDriftTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_reconcile_drift_total",
				Help: "Total number of accounts whose projection drifted from the grant pool",
			},
		),
		ReconcileRepairTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_reconcile_repair_total",
				Help: "Total number of repaired projections",
			},
		),
		ExpiredUnused: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credit_expired_unused",
				Help: "Credits that expired without being used, as of the last reconciliation",
			},
		),
		ExpiredSweptCredits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_expired_swept_credits_total",
				Help: "Total expired credits written off to the ledger",
			},
		),

		TriggerConsumeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_trigger_consume_total",
				Help: "Total number of consumed trigger events",
			},
			[]string{"event_type", "result"},
		),
		LedgerPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_ledger_publish_total",
				Help: "Total number of published ledger events",
			},
			[]string{"result"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *CreditMetrics
	initOnce       sync.Once
)

// InitMetrics 初始化全局指标
func InitMetrics() {
	initOnce.Do(func() {
		defaultMetrics = NewCreditMetrics()
	})
}

// GetMetrics 获取全局指标实例
func GetMetrics() *CreditMetrics {
	InitMetrics()
	return defaultMetrics
}
