package biz

import (
	"context"

	"github.com/shopspring/decimal"
)

// ActionPrice 计费动作价格，cost = ceil(UnitCost × UnitCount)
type ActionPrice struct {
	UnitCost  decimal.Decimal
	UnitCount int64
}

// Cost 按整数积分向上取整；UnitCount 为 0 视为 1
func (p ActionPrice) Cost() int64 {
	count := p.UnitCount
	if count <= 0 {
		count = 1
	}
	return p.UnitCost.Mul(decimal.NewFromInt(count)).Ceil().IntPart()
}

// PriceLookup 价格查询，ok=false 表示未配置
type PriceLookup interface {
	Lookup(ctx context.Context, actionKey string) (price ActionPrice, ok bool, err error)
}

type configPriceLookup struct {
	prices map[string]ActionPrice
}

// NewPriceLookup 基于配置文件 credit.prices 的价格表
func NewPriceLookup(conf *CreditConfig) PriceLookup {
	return &configPriceLookup{prices: conf.Prices}
}

func (l *configPriceLookup) Lookup(_ context.Context, actionKey string) (ActionPrice, bool, error) {
	p, ok := l.prices[actionKey]
	return p, ok, nil
}
