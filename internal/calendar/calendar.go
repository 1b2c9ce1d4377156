package calendar

import (
	"sync"
	"time"

	"msx-grid-bot-go/internal/logger"
)

// Status 表示一次交易时段查询的结果
type Status struct {
	Open       bool      // 当前是否处于交易时段
	NextChange time.Time // 在此时间之前结果可信，之后需要重新查询
}

// StatusSource 抽象了交易时段的查询来源
type StatusSource interface {
	FetchStatus() (*Status, error)
}

// Calendar 维护交易时段状态的TTL缓存。
// 查询失败时依次回退：上次缓存 → 美东时间的工作日窗口 → 放行。
type Calendar struct {
	source StatusSource
	now    func() time.Time

	mu     sync.Mutex
	cached *Status
}

// New 创建一个交易日历
func New(source StatusSource) *Calendar {
	return &Calendar{source: source, now: time.Now}
}

// Tradable 报告当前是否可以交易。
// 缓存未过期时直接返回缓存结果，不发起网络请求。
func (c *Calendar) Tradable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.cached != nil && now.Before(c.cached.NextChange) {
		return c.cached.Open
	}

	status, err := c.source.FetchStatus()
	if err != nil {
		logger.S().Warnf("查询交易时段失败: %v", err)
		if c.cached != nil {
			return c.cached.Open
		}
		return fallbackTradingHours(now)
	}

	// 开市结果用较短的刷新周期，休市结果依赖交易所给出的开市时间
	if status.Open && (status.NextChange.IsZero() || status.NextChange.After(now.Add(time.Hour))) {
		status.NextChange = now.Add(time.Hour)
	}
	if !status.Open && status.NextChange.IsZero() {
		status.NextChange = now.Add(5 * time.Minute)
	}
	c.cached = status
	return status.Open
}

// fallbackTradingHours 在没有任何可用数据时按美东时间做简单的工作日窗口检查。
// 时区数据不可用时放行，避免误伤交易。
func fallbackTradingHours(now time.Time) bool {
	eastern, err := time.LoadLocation("America/New_York")
	if err != nil {
		logger.S().Errorf("加载美东时区失败: %v", err)
		return true
	}
	t := now.In(eastern)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes <= 16*60
}
