package biz_test

import "github.com/shopspring/decimal"

func decimalOf(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
