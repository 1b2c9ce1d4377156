package exchange

import (
	"sync"
	"time"
)

// RateGate 对交易所请求做全局节流。
// 所有请求共享同一个最小间隔；收到限流响应后间隔翻倍，且只增不减。
type RateGate struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	sleep       func(time.Duration) // 测试时可替换
}

// NewRateGate 创建一个节流器，minInterval为相邻请求之间的最小间隔
func NewRateGate(minInterval time.Duration) *RateGate {
	return &RateGate{
		minInterval: minInterval,
		sleep:       time.Sleep,
	}
}

// Wait 阻塞直到距离上一次请求至少过去了最小间隔
func (g *RateGate) Wait() {
	g.mu.Lock()
	now := time.Now()
	wait := g.minInterval - now.Sub(g.last)
	if wait < 0 {
		wait = 0
	}
	g.last = now.Add(wait)
	sleep := g.sleep
	g.mu.Unlock()

	if wait > 0 {
		sleep(wait)
	}
}

// Penalize 在收到限流响应后调用，将最小间隔翻倍并返回新值
func (g *RateGate) Penalize() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minInterval *= 2
	return g.minInterval
}

// MinInterval 返回当前的最小请求间隔
func (g *RateGate) MinInterval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minInterval
}
