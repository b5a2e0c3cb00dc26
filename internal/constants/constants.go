package constants

// 时间格式常量
const (
	// TimeFormatDay 日期格式 (YYYY-MM-DD)
	TimeFormatDay = "2006-01-02"
	// TimeFormatMonth 月份格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额投影缓存 key 前缀
	RedisKeyBalance = "credit:balance:"
	// RedisKeyDeductLock 扣费锁 key 前缀
	RedisKeyDeductLock = "credit:deduct:lock:"
)

// 操作名（用于指标与日志）
const (
	OperationIssue     = "issue"
	OperationDeduct    = "deduct"
	OperationReconcile = "reconcile"
)

// 操作结果常量（用于指标）
const (
	ResultSuccess      = "success"
	ResultSkipped      = "skipped"
	ResultInsufficient = "insufficient"
	ResultConflict     = "conflict"
	ResultFailed       = "failed"
)

// 统计周期常量
const (
	// StatsPeriodToday 今日
	StatsPeriodToday = "today"
	// StatsPeriodMonth 本月
	StatsPeriodMonth = "month"
)

// 流水元数据 key
const (
	MetadataGrantID         = "grant_id"
	MetadataGrantType       = "grant_type"
	MetadataOriginRef       = "origin_ref"
	MetadataExpiresAt       = "expires_at"
	MetadataActionKey       = "action_key"
	MetadataCost            = "cost"
	MetadataGrantDeductions = "grant_deductions"
	MetadataExpiredGrantID  = "expired_grant_id"
)

// 流水原因
const (
	ReasonGrantExpired = "grant expired"
)

// 幂等 key 前缀
const (
	IdempotencyPrefixExpiry = "expire:"
)

// 外部触发事件类型（来自支付方的 MQ 消息）
const (
	TriggerSubscriptionRenewed = "subscription_renewed"
	TriggerTopupCompleted      = "topup_completed"
	TriggerManualGrant         = "manual_grant"
)

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
