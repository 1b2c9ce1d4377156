package exchange

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"msx-grid-bot-go/internal/models"
)

// SimExchange 是内存中的交易所模拟实现，
// 供测试与演练模式使用。成交由调用方显式触发。
type SimExchange struct {
	mu sync.Mutex

	connected bool
	prices    map[string]float64
	account   models.AccountInfo
	open      map[string]models.Order   // 按订单ID索引的挂单
	closed    []models.Order            // 历史订单，最新的在前
	positions map[string]*models.Position

	nextOrderID    int64
	nextPositionID int64
	createErr      error // 注入的下单错误，一次性生效
}

// NewSimExchange 创建一个模拟交易所
func NewSimExchange() *SimExchange {
	return &SimExchange{
		connected:      true,
		prices:         make(map[string]float64),
		open:           make(map[string]models.Order),
		positions:      make(map[string]*models.Position),
		nextOrderID:    1000,
		nextPositionID: 1,
		account:        models.AccountInfo{Balance: 1_000_000},
	}
}

// SetConnected 设置认证状态
func (e *SimExchange) SetConnected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = v
}

// SetPrice 设置标的的最新行情价格
func (e *SimExchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance 设置可用余额
func (e *SimExchange) SetBalance(balance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.Balance = balance
}

// FailNextCreate 注入一次下单失败
func (e *SimExchange) FailNextCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createErr = err
}

func (e *SimExchange) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *SimExchange) FetchTicker(symbol string) (*models.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("标的 %s 无行情数据", symbol)
	}
	return &models.Ticker{Symbol: symbol, Last: price, Bid: price, Ask: price, Timestamp: time.Now().UnixMilli()}, nil
}

func (e *SimExchange) FetchOpenOrders(symbol string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var orders []models.Order
	for _, o := range e.open {
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (e *SimExchange) FetchClosedOrders(symbol string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var orders []models.Order
	for _, o := range e.closed {
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (e *SimExchange) FetchPositions(symbol string) ([]models.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var positions []models.Position
	for _, p := range e.positions {
		if p.Size == 0 {
			continue
		}
		if symbol == "" || p.Symbol == symbol {
			positions = append(positions, *p)
		}
	}
	return positions, nil
}

func (e *SimExchange) FetchAccount() (*models.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account
	return &acct, nil
}

func (e *SimExchange) CreateOrder(req *OrderRequest) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.createErr != nil {
		err := e.createErr
		e.createErr = nil
		return nil, err
	}
	if req.Volume <= 0 {
		return nil, fmt.Errorf("订单数量无效: %v", req.Volume)
	}

	e.nextOrderID++
	order := models.Order{
		ID:        strconv.FormatInt(e.nextOrderID, 10),
		Symbol:    req.Symbol,
		Side:      req.Side,
		OpenType:  req.OpenType,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    models.OrderStatusPending,
		Timestamp: time.Now().UnixMilli(),
	}

	if req.OrderType == "market" {
		price := e.prices[req.Symbol]
		if price <= 0 {
			price = req.Price
		}
		order.Price = price
		e.fillLocked(order, order.Timestamp, 0, 0)
		return &order, nil
	}

	e.open[order.ID] = order
	return &order, nil
}

func (e *SimExchange) CancelOrder(orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.open[orderID]
	if !ok {
		return fmt.Errorf("订单 %s 不存在或已终结", orderID)
	}
	delete(e.open, orderID)
	o.Status = models.OrderStatusCancelled
	e.closed = append([]models.Order{o}, e.closed...)
	return nil
}

func (e *SimExchange) CancelAllOrders(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, o := range e.open {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		delete(e.open, id)
		o.Status = models.OrderStatusCancelled
		e.closed = append([]models.Order{o}, e.closed...)
	}
	return nil
}

// FillOrder 将一张挂单标记为成交，并同步更新持仓
func (e *SimExchange) FillOrder(orderID string, pnl, fee float64) error {
	return e.FillOrderAt(orderID, time.Now().UnixMilli(), pnl, fee)
}

// FillOrderAt 以指定的成交时间戳将挂单标记为成交
func (e *SimExchange) FillOrderAt(orderID string, timestamp int64, pnl, fee float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.open[orderID]
	if !ok {
		return fmt.Errorf("订单 %s 不存在或已终结", orderID)
	}
	delete(e.open, orderID)
	e.fillLocked(o, timestamp, pnl, fee)
	return nil
}

// fillLocked 记录成交并调整持仓。开仓增加持仓数量，平仓则扣减。
func (e *SimExchange) fillLocked(o models.Order, timestamp int64, pnl, fee float64) {
	o.Status = models.OrderStatusFilled
	o.Timestamp = timestamp
	o.AvgPrice = o.Price
	o.PNL = pnl
	o.Fee = fee
	e.closed = append([]models.Order{o}, e.closed...)

	pos, ok := e.positions[o.Symbol]
	if !ok {
		side := "long"
		if o.OpenType == models.OpenTypeOpen && o.Side == models.SideSell {
			side = "short"
		}
		pos = &models.Position{
			ID:     e.nextPositionID,
			Symbol: o.Symbol,
			Side:   side,
		}
		e.nextPositionID++
		e.positions[o.Symbol] = pos
	}

	if o.OpenType == models.OpenTypeOpen {
		total := pos.Size + o.Volume
		if total > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.Size + o.Price*o.Volume) / total
		}
		pos.Size = total
	} else {
		pos.Size -= o.Volume
		if pos.Size < 0 {
			pos.Size = 0
		}
	}
	pos.Amount = pos.Size * o.Price
	pos.Timestamp = timestamp
}

// SetUnrealizedPNL 设置持仓的未实现盈亏，用于统计相关测试
func (e *SimExchange) SetUnrealizedPNL(symbol string, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos, ok := e.positions[symbol]; ok {
		pos.UnrealizedPNL = pnl
	}
}

// InjectClosedOrder 直接向历史订单列表头部插入一条记录，
// 用于模拟交易所返回乱序或外部产生的成交
func (e *SimExchange) InjectClosedOrder(o models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = append([]models.Order{o}, e.closed...)
}

// OpenOrderCount 返回指定标的的当前挂单数量
func (e *SimExchange) OpenOrderCount(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.open {
		if symbol == "" || o.Symbol == symbol {
			n++
		}
	}
	return n
}

// CancelledCount 返回已撤销的订单数量
func (e *SimExchange) CancelledCount(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.closed {
		if o.Status == models.OrderStatusCancelled && (symbol == "" || o.Symbol == symbol) {
			n++
		}
	}
	return n
}
