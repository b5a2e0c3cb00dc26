package biz

import (
	"context"

	"credit-service/internal/clock"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	clock.NewSystemClock,
	NewCreditConfig,
	NewPriceLookup,
	NewLedgerStore,
	NewGrantPool,
	NewBalanceProjector,
	NewGrantIssuer,
	NewDeductionCoordinator,
	NewStatsUseCase,
	NewReconcileUseCase,
	NewCreditUseCase, // 组合 UseCase
)

// Transaction 事务接口（由 data 层实现）
// fn 内通过 ctx 传递事务，所有 repo 调用都会落在同一个事务中
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
