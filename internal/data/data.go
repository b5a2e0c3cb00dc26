package data

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/data/model"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/glebarez/sqlite"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/wire"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewMQProducer,
	NewData,
	NewTransaction,
	NewLedgerRepo,
	NewGrantRepo,
	NewBalanceRepo,
	NewStatsRepo,
	NewLocker,
	NewLedgerEventPublisher,
)

// Data 数据层结构体
type Data struct {
	db  *gorm.DB
	rdb *redis.Client     // 可能为 nil：未配置 Redis 时缓存与分布式锁关闭
	mq  rocketmq.Producer // 可能为 nil：未启用 RocketMQ
	mqc *conf.Rocketmq
}

type txKey struct{}

// newGormLogger 只记录慢查询与错误；幂等 key 未命中等 ErrRecordNotFound 不打日志
func newGormLogger(w io.Writer) gormlogger.Interface {
	return gormlogger.New(stdlog.New(w, "\r\n", stdlog.LstdFlags), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// NewDB 创建数据库连接，driver 支持 mysql / postgres / sqlite
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	dbc := c.Data.Database

	var dialector gorm.Dialector
	switch dbc.Driver {
	case "", "mysql":
		dialector = mysql.Open(dbc.Source)
	case "postgres":
		dialector = postgres.Open(dbc.Source)
	case "sqlite":
		dialector = sqlite.Open(dbc.Source)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbc.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(os.Stdout),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dbc.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(int(dbc.MaxOpenConns))
	}
	if dbc.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(int(dbc.MaxIdleConns))
	}

	if dbc.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}
	return db, nil
}

// Migrate 建表 ledger_entries / credit_grants / account_balance / org_balance_mirror
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

// NewRedis 创建 Redis 连接；未配置地址时返回 nil
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil || c.Data.Redis.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           int(c.Data.Redis.Db),
		ReadTimeout:  c.Data.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Data.Redis.WriteTimeout.AsDuration(),
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewMQProducer 创建 RocketMQ 生产者；未启用时返回 nil
func NewMQProducer(c *conf.Bootstrap, logger log.Logger) (rocketmq.Producer, error) {
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return nil, nil
	}
	mqc := c.Data.Rocketmq

	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(mqc.NameServers)),
		producer.WithGroupName(mqc.GroupName),
		producer.WithRetry(int(mqc.RetryTimes)),
	)
	if err != nil {
		return nil, fmt.Errorf("init rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		// 与消费者一致：MQ 不可用不影响服务启动，流水事件降级为不发布
		log.NewHelper(logger).Errorf("failed to start rocketmq producer, ledger events disabled: %v", err)
		return nil, nil
	}
	return p, nil
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client, mq rocketmq.Producer) (*Data, func(), error) {
	helper := log.NewHelper(logger)
	cleanup := func() {
		helper.Info("closing the data resources")
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				helper.Errorf("failed to close redis: %v", err)
			}
		}
		if mq != nil {
			if err := mq.Shutdown(); err != nil {
				helper.Errorf("failed to shutdown rocketmq producer: %v", err)
			}
		}
	}

	d := &Data{
		db:  db,
		rdb: rdb,
		mq:  mq,
	}
	if c.Data != nil {
		d.mqc = c.Data.Rocketmq
	}
	return d, cleanup, nil
}

// DB 返回 ctx 中的事务，没有事务时返回普通连接
func (d *Data) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

// InTx 开启事务；已在事务中时直接复用外层事务
func (d *Data) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// NewTransaction 返回 biz.Transaction
func NewTransaction(d *Data) biz.Transaction {
	return d
}
