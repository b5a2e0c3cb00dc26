package conf

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bootstrap 配置根节点，对应 configs/config.yaml
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Credit *Credit `json:"credit"`
}

// Server 服务监听配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务配置
type HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置，driver 取值 mysql / postgres / sqlite
type Database struct {
	Driver       string `json:"driver"`
	Source       string `json:"source"`
	MaxOpenConns int32  `json:"max_open_conns"`
	MaxIdleConns int32  `json:"max_idle_conns"`
	AutoMigrate  bool   `json:"auto_migrate"`
}

// Redis 缓存配置，addr 为空时不启用缓存和分布式锁
type Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Rocketmq 消息队列配置
type Rocketmq struct {
	Enabled      bool     `json:"enabled"`
	NameServers  []string `json:"name_servers"`
	GroupName    string   `json:"group_name"`
	TriggerTopic string   `json:"trigger_topic"`
	LedgerTopic  string   `json:"ledger_topic"`
	RetryTimes   int32    `json:"retry_times"`
}

// Credit 积分引擎配置
type Credit struct {
	MaxAttempts         int32             `json:"max_attempts"`
	TxTimeout           *Duration         `json:"tx_timeout"`
	RetryBackoff        *Duration         `json:"retry_backoff"`
	DeductLock          bool              `json:"deduct_lock"`
	LockExpiry          *Duration         `json:"lock_expiry"`
	BalanceCacheTtl     *Duration         `json:"balance_cache_ttl"`
	DefaultActionCost   int64             `json:"default_action_cost"`
	LowBalanceThreshold int64             `json:"low_balance_threshold"`
	Prices              map[string]*Price `json:"prices"`
	Reconcile           *Reconcile        `json:"reconcile"`
}

// Price 单个计费动作的价格：unit_cost × unit_count，向上取整为整数积分
type Price struct {
	UnitCost  decimal.Decimal `json:"unit_cost"`
	UnitCount int64           `json:"unit_count"`
}

// Reconcile 对账任务配置；布尔项未配置时保持默认值
type Reconcile struct {
	Spec        string `json:"spec"`
	Repair      *bool  `json:"repair"`
	SweepExpiry *bool  `json:"sweep_expiry"`
}

// NewBool returns a pointer to b.
func NewBool(b bool) *bool {
	return &b
}

// Duration 支持 "5s"、"300ms" 这类字符串写法
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// AsDuration returns the wrapped value, zero for a nil receiver.
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		// 纯数字按秒处理
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}
