package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeSource 是可编程的交易时段来源，记录被调用的次数
type fakeSource struct {
	status *Status
	err    error
	calls  int
}

func (s *fakeSource) FetchStatus() (*Status, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	st := *s.status
	return &st, nil
}

// 2026-08-25是周二
var tuesdayNoonUTC = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func newTestCalendar(src StatusSource, now time.Time) *Calendar {
	c := New(src)
	c.now = func() time.Time { return now }
	return c
}

func TestTradableCachesOpenStatus(t *testing.T) {
	src := &fakeSource{status: &Status{Open: true}}
	now := tuesdayNoonUTC
	c := New(src)
	c.now = func() time.Time { return now }

	assert.True(t, c.Tradable())
	assert.Equal(t, 1, src.calls)

	// 缓存有效期内不再发起查询
	now = now.Add(30 * time.Minute)
	assert.True(t, c.Tradable())
	assert.Equal(t, 1, src.calls)

	// 开市结果缓存一小时，过期后重新查询
	now = now.Add(31 * time.Minute)
	assert.True(t, c.Tradable())
	assert.Equal(t, 2, src.calls)
}

func TestTradableClosedUntilNextOpen(t *testing.T) {
	reopen := tuesdayNoonUTC.Add(2 * time.Hour)
	src := &fakeSource{status: &Status{Open: false, NextChange: reopen}}
	now := tuesdayNoonUTC
	c := New(src)
	c.now = func() time.Time { return now }

	assert.False(t, c.Tradable())
	assert.Equal(t, 1, src.calls)

	// 开市时间之前一直使用缓存
	now = now.Add(90 * time.Minute)
	assert.False(t, c.Tradable())
	assert.Equal(t, 1, src.calls)

	// 到达开市时间后重新查询
	src.status = &Status{Open: true}
	now = reopen.Add(time.Second)
	assert.True(t, c.Tradable())
	assert.Equal(t, 2, src.calls)
}

func TestTradableClosedWithoutReopenTime(t *testing.T) {
	src := &fakeSource{status: &Status{Open: false}}
	now := tuesdayNoonUTC
	c := New(src)
	c.now = func() time.Time { return now }

	assert.False(t, c.Tradable())

	// 未给出开市时间时按短周期重查
	now = now.Add(6 * time.Minute)
	assert.False(t, c.Tradable())
	assert.Equal(t, 2, src.calls)
}

func TestTradableFallsBackToCacheOnError(t *testing.T) {
	src := &fakeSource{status: &Status{Open: true, NextChange: tuesdayNoonUTC.Add(time.Minute)}}
	now := tuesdayNoonUTC
	c := New(src)
	c.now = func() time.Time { return now }

	assert.True(t, c.Tradable())

	// 查询失败时沿用上一次缓存的结果
	src.err = errors.New("calendar api unavailable")
	now = now.Add(2 * time.Minute)
	assert.True(t, c.Tradable())
}

func TestTradableFallbackTradingHours(t *testing.T) {
	src := &fakeSource{err: errors.New("calendar api unavailable")}

	// 没有缓存时回退到美东时间的工作日窗口
	// 周二美东10:00，处于交易时段
	c := newTestCalendar(src, time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC))
	assert.True(t, c.Tradable())

	// 周六不交易
	c = newTestCalendar(src, time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC))
	assert.False(t, c.Tradable())

	// 周二美东凌晨3:00，盘前不交易
	c = newTestCalendar(src, time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC))
	assert.False(t, c.Tradable())
}
