package models

import (
	"fmt"
	"strings"
)

// Config 结构体定义了服务的所有配置参数
type Config struct {
	APIURL               string    `json:"api_url"`                 // 交易所REST API基础地址
	WSURL                string    `json:"ws_url"`                  // 交易所WebSocket地址
	CalendarAPIURL       string    `json:"calendar_api_url"`        // 交易时段查询接口地址
	AlertWebhookURL      string    `json:"alert_webhook_url"`       // 告警Webhook地址（可为空）
	ListenAddr           string    `json:"listen_addr"`             // HTTP服务监听地址, e.g., ":8080"
	DataDir              string    `json:"data_dir"`                // 配置快照与成交台账的存放目录
	DBPath               string    `json:"db_path"`                 // 运行时状态数据库路径
	TickIntervalSec      int       `json:"tick_interval_sec"`       // 调度循环的tick间隔（秒）
	MinOrderNotional     float64   `json:"min_order_notional"`      // 交易所最小订单名义价值
	MinRequestIntervalMs int       `json:"min_request_interval_ms"` // 请求交易所的最小间隔（毫秒）
	HTTPTimeoutSec       int       `json:"http_timeout_sec"`        // HTTP请求超时时间（秒）
	ReportIntervalSec    int       `json:"report_interval_sec"`     // 控制台汇总报告的输出间隔（秒）, 0表示关闭
	LogConfig            LogConfig `json:"log"`                     // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// ApplyDefaults 为未设置的配置项填充默认值
func (c *Config) ApplyDefaults() {
	if c.TickIntervalSec <= 0 {
		c.TickIntervalSec = 1
	}
	if c.MinOrderNotional <= 0 {
		c.MinOrderNotional = 10
	}
	if c.MinRequestIntervalMs <= 0 {
		c.MinRequestIntervalMs = 100
	}
	if c.HTTPTimeoutSec <= 0 {
		c.HTTPTimeoutSec = 15
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// Direction 定义了策略方向
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Side 定义了订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OpenType 区分开仓单与平仓单
type OpenType int

const (
	OpenTypeOpen  OpenType = 1 // 开仓
	OpenTypeClose OpenType = 2 // 平仓
)

// AssetType 定义了标的类型
type AssetType string

const (
	AssetCrypto AssetType = "crypto"
	AssetStock  AssetType = "stock"
)

// MarketType 定义了市场类型
type MarketType string

const (
	MarketSpot     MarketType = "spot"
	MarketContract MarketType = "contract"
)

// OrderStatus 定义了订单的生命周期状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// StrategyConfig 定义了单个网格策略的全部参数
type StrategyConfig struct {
	Symbol           string     `json:"symbol"`            // 交易标的, e.g., "ETHUSDT"
	MinPrice         float64    `json:"min_price"`         // 网格区间下界
	MaxPrice         float64    `json:"max_price"`         // 网格区间上界
	Direction        Direction  `json:"direction"`         // 策略方向: long / short
	GridSpacing      float64    `json:"grid_spacing"`      // 网格间距比例, (0, 1)
	InvestmentAmount float64    `json:"investment_amount"` // 投入本金（未加杠杆）
	Leverage         float64    `json:"leverage"`          // 杠杆倍数, (0, 100]
	AssetType        AssetType  `json:"asset_type"`        // 标的类型: crypto / stock
	MarketType       MarketType `json:"market_type"`       // 市场类型: spot / contract
	ContractType     int        `json:"contract_type"`     // 合约类型编码，由标的与市场类型推导
}

// Normalize 规整化参数：symbol去空格并转为大写，方向转小写
func (c *StrategyConfig) Normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Direction = Direction(strings.ToLower(string(c.Direction)))
	c.AssetType = AssetType(strings.ToLower(string(c.AssetType)))
	c.MarketType = MarketType(strings.ToLower(string(c.MarketType)))
	c.ContractType = deriveContractType(c.AssetType, c.MarketType)
}

// deriveContractType 由标的与市场类型推导合约类型编码
func deriveContractType(asset AssetType, market MarketType) int {
	if market != MarketContract {
		return 0
	}
	if asset == AssetStock {
		return 1
	}
	return 3
}

// Validate 校验策略参数，返回第一个不满足约束的错误
func (c *StrategyConfig) Validate() error {
	if c.Symbol == "" {
		return NewConfigError("symbol 不能为空")
	}
	if c.MinPrice <= 0 {
		return NewConfigError("min_price 必须大于0")
	}
	if c.MaxPrice <= 0 {
		return NewConfigError("max_price 必须大于0")
	}
	if c.MinPrice >= c.MaxPrice {
		return NewConfigError("min_price 必须小于 max_price")
	}
	if c.Direction != DirectionLong && c.Direction != DirectionShort {
		return NewConfigError("direction 必须为 long 或 short")
	}
	if c.GridSpacing <= 0 || c.GridSpacing >= 1 {
		return NewConfigError("grid_spacing 必须在 (0, 1) 区间内")
	}
	if c.InvestmentAmount <= 0 {
		return NewConfigError("investment_amount 必须大于0")
	}
	if c.Leverage <= 0 || c.Leverage > 100 {
		return NewConfigError("leverage 必须在 (0, 100] 区间内")
	}
	if c.AssetType != AssetCrypto && c.AssetType != AssetStock {
		return NewConfigError("asset_type 必须为 crypto 或 stock")
	}
	if c.MarketType != MarketSpot && c.MarketType != MarketContract {
		return NewConfigError("market_type 必须为 spot 或 contract")
	}
	return nil
}

// TotalCapital 返回加杠杆后的总操作资金
func (c *StrategyConfig) TotalCapital() float64 {
	return c.InvestmentAmount * c.Leverage
}

// Order 定义了标准化后的订单信息
type Order struct {
	ID        string      `json:"id"`         // 交易所订单ID，下单失败时为空
	Symbol    string      `json:"symbol"`     // 交易标的
	Side      Side        `json:"side"`       // buy / sell
	OpenType  OpenType    `json:"open_type"`  // 开仓 / 平仓
	Price     float64     `json:"price"`      // 委托价格
	Volume    float64     `json:"volume"`     // 委托数量
	AvgPrice  float64     `json:"avg_price"`  // 成交均价
	Status    OrderStatus `json:"status"`     // pending / filled / cancelled / failed
	Timestamp int64       `json:"timestamp"`  // 创建时间（毫秒）
	PNL       float64     `json:"pnl"`        // 已实现盈亏
	Fee       float64     `json:"fee"`        // 手续费
	Msg       string      `json:"msg"`        // 失败原因等附加信息
}

// FailedOrder 构造一个表示下单失败的哨兵订单
func FailedOrder(symbol string, side Side, price, volume float64, msg string) *Order {
	return &Order{
		Symbol: symbol,
		Side:   side,
		Price:  price,
		Volume: volume,
		Status: OrderStatusFailed,
		Msg:    msg,
	}
}

// Position 定义了标准化后的持仓快照
type Position struct {
	ID               int64   `json:"id"`                // 交易所持仓ID
	Symbol           string  `json:"symbol"`            // 交易标的
	Side             string  `json:"side"`              // long / short
	Size             float64 `json:"size"`              // 持仓数量（基础资产）
	Amount           float64 `json:"amount"`            // 持仓名义金额
	Margin           float64 `json:"margin"`            // 占用保证金
	EntryPrice       float64 `json:"entry_price"`       // 开仓均价
	UnrealizedPNL    float64 `json:"unrealized_pnl"`    // 未实现盈亏
	LiquidationPrice float64 `json:"liquidation_price"` // 强平价格
	Timestamp        int64   `json:"timestamp"`         // 更新时间（毫秒）
}

// AccountInfo 定义了账户资金信息
type AccountInfo struct {
	Balance        float64 `json:"balance"`         // 可用余额
	AcctBalance    float64 `json:"acct_balance"`    // 账户总余额
	AssetValuation float64 `json:"asset_valuation"` // 资产估值
	TotalPNL       float64 `json:"total_pnl"`       // 总盈亏
}

// Ticker 定义了标的的最新行情。
// REST的K线回退只有最新价，买一卖一价由WebSocket推送补充。
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

// TradeRecord 定义了成交台账中的一条记录
type TradeRecord struct {
	OrderID    string   `json:"order_id"`
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	OpenType   OpenType `json:"open_type"`
	Price      float64  `json:"price"`
	Volume     float64  `json:"volume"`
	AvgPrice   float64  `json:"avg_price"`
	PNL        float64  `json:"pnl"`
	Fee        float64  `json:"fee"`
	Timestamp  int64    `json:"timestamp"`   // 成交时间（毫秒）
	PositionID int64    `json:"position_id"` // 关联的持仓ID
}

// Summary 定义了策略的统计汇总
type Summary struct {
	TotalInvestment  float64 `json:"total_investment"`  // 投入本金（未加杠杆）
	RealizedPNL      float64 `json:"realized_pnl"`      // 已实现盈亏
	UnrealizedPNL    float64 `json:"unrealized_pnl"`    // 未实现盈亏
	TotalPNL         float64 `json:"total_pnl"`         // 总盈亏
	GridCount        int     `json:"grid_count"`        // 累计成交笔数
	ArbitrageCount   int     `json:"arbitrage_count"`   // 套利（平仓）笔数
	TotalVolume      float64 `json:"total_volume"`      // 累计成交金额
	AnnualizedReturn float64 `json:"annualized_return"` // 年化收益率（百分比）
	RunningDays      float64 `json:"running_days"`      // 运行天数
}

// APIError 表示交易所返回的业务错误
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error, code=%d, msg=%s", e.Code, e.Msg)
}
