package exchange

import "msx-grid-bot-go/internal/models"

// Exchange 定义了策略引擎所依赖的交易所适配器能力集。
// 这使得引擎可以在真实接入和内存模拟之间轻松切换。
type Exchange interface {
	// Connected 报告适配器是否已完成认证并可以接受请求
	Connected() bool
	// FetchTicker 获取标的最新行情
	FetchTicker(symbol string) (*models.Ticker, error)
	// FetchOpenOrders 获取标的当前未成交的挂单
	FetchOpenOrders(symbol string) ([]models.Order, error)
	// FetchClosedOrders 获取标的历史订单（含已成交与已取消），按时间从新到旧排列
	FetchClosedOrders(symbol string) ([]models.Order, error)
	// FetchPositions 获取持仓列表，symbol为空时返回全部
	FetchPositions(symbol string) ([]models.Position, error)
	// FetchAccount 获取账户资金信息
	FetchAccount() (*models.AccountInfo, error)
	// CreateOrder 下单。失败时返回error，调用方负责转换为哨兵订单
	CreateOrder(req *OrderRequest) (*models.Order, error)
	// CancelOrder 按订单ID撤单
	CancelOrder(orderID string) error
	// CancelAllOrders 撤销标的的全部挂单
	CancelAllOrders(symbol string) error
}

// OrderRequest 描述一笔下单请求
type OrderRequest struct {
	Symbol       string
	Side         models.Side
	OrderType    string // "limit" 或 "market"
	Price        float64
	Volume       float64
	OpenType     models.OpenType
	ContractType int
	Leverage     float64
	PositionID   int64 // 平仓时必填
}
