package clock

import "time"

// Clock 时间源，业务层通过它获取当前时间以便测试注入
type Clock interface {
	Now() time.Time
}

// SystemClock 返回 UTC 系统时间
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock 提供给 wire 的默认时钟
func NewSystemClock() Clock {
	return SystemClock{}
}
