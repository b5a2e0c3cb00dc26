// Package testutil 提供基于 sqlite 内存库与 miniredis 的完整积分引擎装配，供各层测试使用
package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/clock"
	"credit-service/internal/conf"
	"credit-service/internal/data"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Epoch 测试默认的起始时间
var Epoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Stack 测试用的完整依赖
type Stack struct {
	Bootstrap *conf.Bootstrap
	DB        *gorm.DB
	Data      *data.Data
	Redis     *miniredis.Miniredis // 未启用 Redis 时为 nil
	RDB       *redis.Client
	Clock     *clock.FakeClock
	Logger    log.Logger

	Config      *biz.CreditConfig
	Ledger      *biz.LedgerStore
	Pool        *biz.GrantPool
	Projector   *biz.BalanceProjector
	Issuer      *biz.GrantIssuer
	Coordinator *biz.DeductionCoordinator
	Reconcile   *biz.ReconcileUseCase
	Stats       *biz.StatsUseCase
	Credit      *biz.CreditUseCase

	LedgerRepo  biz.LedgerRepo
	GrantRepo   biz.GrantRepo
	BalanceRepo biz.BalanceRepo
	Locker      biz.Locker
}

type options struct {
	redis     bool
	configure []func(*conf.Bootstrap)
}

// Option 定制测试装配
type Option func(*options)

// WithRedis 启用 miniredis（余额缓存与扣费锁）
func WithRedis() Option {
	return func(o *options) { o.redis = true }
}

// WithBootstrap 修改默认配置
func WithBootstrap(fn func(*conf.Bootstrap)) Option {
	return func(o *options) { o.configure = append(o.configure, fn) }
}

// Bootstrap 测试默认配置：三个动作价格，重试退避 1ms
func Bootstrap() *conf.Bootstrap {
	return &conf.Bootstrap{
		Data: &conf.Data{},
		Credit: &conf.Credit{
			MaxAttempts:  5,
			TxTimeout:    conf.NewDuration(5 * time.Second),
			RetryBackoff: conf.NewDuration(time.Millisecond),
			LockExpiry:   conf.NewDuration(2 * time.Second),
			Prices: map[string]*conf.Price{
				"image_enhance":         {UnitCost: decimal.NewFromInt(1), UnitCount: 1},
				"image_background_swap": {UnitCost: decimal.NewFromInt(2), UnitCount: 1},
				"video_generate_5s":     {UnitCost: decimal.RequireFromString("0.5"), UnitCount: 50},
				"bulk_export":           {UnitCost: decimal.NewFromInt(600), UnitCount: 1},
			},
			Reconcile: &conf.Reconcile{Repair: conf.NewBool(true), SweepExpiry: conf.NewBool(true)},
		},
	}
}

// NewDB 为每个测试创建独立的 sqlite 内存库
// 单连接保证同一测试内所有查询看到同一个库，事务内外的并发请求排队执行
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := data.NewDB(&conf.Bootstrap{
		Data: &conf.Data{Database: &conf.Database{
			Driver:       "sqlite",
			Source:       dsn,
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		}},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

// NewStack 装配 data + biz 两层
func NewStack(t testing.TB, opts ...Option) *Stack {
	t.Helper()
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	bc := Bootstrap()
	for _, fn := range o.configure {
		fn(bc)
	}

	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelWarn))
	s := &Stack{
		Bootstrap: bc,
		DB:        NewDB(t),
		Clock:     clock.NewFakeClock(Epoch),
		Logger:    logger,
	}

	if o.redis {
		s.Redis = miniredis.RunT(t)
		s.RDB = redis.NewClient(&redis.Options{Addr: s.Redis.Addr()})
		bc.Credit.DeductLock = true
	}

	d, cleanup, err := data.NewData(bc, logger, s.DB, s.RDB, nil)
	if err != nil {
		t.Fatalf("new data: %v", err)
	}
	t.Cleanup(cleanup)
	s.Data = d

	s.Config = biz.NewCreditConfig(bc)
	tx := data.NewTransaction(d)
	s.LedgerRepo = data.NewLedgerRepo(d, logger)
	s.GrantRepo = data.NewGrantRepo(d, logger)
	s.BalanceRepo = data.NewBalanceRepo(d, logger)
	s.Locker = data.NewLocker(d, logger)
	publisher := data.NewLedgerEventPublisher(d, logger)

	s.Ledger = biz.NewLedgerStore(s.LedgerRepo, s.Clock, logger)
	s.Pool = biz.NewGrantPool(s.GrantRepo, logger)
	s.Projector = biz.NewBalanceProjector(s.BalanceRepo, s.Config, logger)
	s.Issuer = biz.NewGrantIssuer(tx, s.Ledger, s.Pool, s.Projector, publisher, s.Clock, s.Config, logger)
	s.Coordinator = biz.NewDeductionCoordinator(tx, s.Ledger, s.Pool, s.Projector,
		biz.NewPriceLookup(s.Config), s.Locker, publisher, s.Clock, s.Config, logger)
	s.Reconcile = biz.NewReconcileUseCase(tx, s.Ledger, s.Pool, s.Projector, publisher, s.Clock, s.Config, logger)
	s.Stats = biz.NewStatsUseCase(data.NewStatsRepo(d, logger), s.Clock, logger)
	s.Credit = biz.NewCreditUseCase(s.Issuer, s.Coordinator, s.Pool, s.Projector, s.Ledger, s.Stats, s.Clock, logger)
	return s
}
