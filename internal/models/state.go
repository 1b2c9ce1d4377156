package models

import "time"

// StrategyStatus 定义了策略的生命周期状态
type StrategyStatus string

const (
	StatusInitializing StrategyStatus = "initializing"
	StatusRunning      StrategyStatus = "running"
	StatusStopped      StrategyStatus = "stopped"
)

// StrategyState 持有单个策略在内存中的完整运行状态。
// 它只在调度循环的goroutine中被读写。
type StrategyState struct {
	Config         StrategyConfig `json:"config"`
	Status         StrategyStatus `json:"status"`
	Initialized    bool           `json:"initialized"`      // 初始化序列是否已完成
	StartPrice     float64        `json:"start_price"`      // 首次获取到的行情价格，此后不变
	StartedAt      time.Time      `json:"started_at"`       // 策略启动时间
	CurrentPrice   float64        `json:"current_price"`    // 最近一次tick的行情价格
	TotalCapital   float64        `json:"total_capital"`    // investment_amount * leverage
	EachOrderSize  float64        `json:"each_order_size"`  // 每格下单数量（基础资产）
	LastFilledTime int64          `json:"last_filled_time"` // 统计水位线：已入账成交的最大时间戳（毫秒）
	BuyOrder       *Order         `json:"buy_order"`        // 当前跟踪的买单，无则为nil
	SellOrder      *Order         `json:"sell_order"`       // 当前跟踪的卖单，无则为nil
	Position       Position       `json:"position"`         // 持仓快照，每tick被交易所数据覆盖
	Trades         []TradeRecord  `json:"trades"`           // 内存中的成交台账
	LastError      string         `json:"last_error"`       // 最近一次错误信息，用于状态查询
}

// RuntimeState 是跨重启持久化的最小运行时状态，保存在嵌入式数据库中。
// 配置本身另有只写一次的JSON快照，不放在这里。
type RuntimeState struct {
	Symbol         string         `json:"symbol"`
	Status         StrategyStatus `json:"status"`
	StartPrice     float64        `json:"start_price"`
	StartedAt      time.Time      `json:"started_at"`
	LastFilledTime int64          `json:"last_filled_time"`
	PositionID     int64          `json:"position_id"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StrategyReport 是对外暴露的单策略状态视图
type StrategyReport struct {
	Symbol       string         `json:"symbol"`
	Status       StrategyStatus `json:"status"`
	Config       StrategyConfig `json:"config"`
	StartPrice   float64        `json:"start_price"`
	CurrentPrice float64        `json:"current_price"`
	StartedAt    time.Time      `json:"started_at"`
	Connected    bool           `json:"connected"`
	Tradable     bool           `json:"tradable"`
	BuyOrder     *Order         `json:"buy_order"`
	SellOrder    *Order         `json:"sell_order"`
	Position     Position       `json:"position"`
	Summary      Summary        `json:"summary"`
	RecentTrades []TradeRecord  `json:"recent_trades"` // 最近5笔成交
	LastError    string         `json:"last_error,omitempty"`
}

// EngineReport 是对外暴露的全局状态视图
type EngineReport struct {
	Total      int              `json:"total"`
	Running    int              `json:"running"`
	Stopped    int              `json:"stopped"`
	Strategies []StrategyReport `json:"strategies"`
}
