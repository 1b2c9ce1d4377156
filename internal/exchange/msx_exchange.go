package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
)

// 交易所业务错误码
const (
	codeRateLimited  = 1006 // 请求频繁
	codeMarketClosed = 6005 // 休市
)

// MSXExchange 通过REST与WebSocket接入MSX交易所。
// 所有REST请求经过共享的RateGate节流；收到1006限流响应时
// 间隔翻倍并立即重试一次。
type MSXExchange struct {
	client *resty.Client
	wsURL  string
	token  string
	gate   *RateGate

	mu        sync.RWMutex
	connected bool
	tickers   map[string]*models.Ticker // WebSocket推送的最新行情缓存

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMSXExchange 创建一个真实交易所适配器。
// token为空时适配器处于未认证状态，Connected返回false。
func NewMSXExchange(apiURL, wsURL, token string, minRequestInterval, timeout time.Duration) *MSXExchange {
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetHeader("Authorization", "Bearer "+token)
	}
	return &MSXExchange{
		client:    client,
		wsURL:     wsURL,
		token:     token,
		gate:      NewRateGate(minRequestInterval),
		connected: token != "",
		tickers:   make(map[string]*models.Ticker),
		stopChan:  make(chan struct{}),
	}
}

// Connected 报告适配器是否已持有有效凭证
func (e *MSXExchange) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// SetToken 更新认证凭证。引擎在认证尚未就绪时会每tick轮询Connected。
func (e *MSXExchange) SetToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = token
	e.connected = token != ""
	e.client.SetHeader("Authorization", "Bearer "+token)
}

// apiEnvelope 是交易所REST响应的统一外层结构
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// request 发送REST请求并解包统一响应结构。
// 限流（1006）时将节流间隔翻倍并立即重试一次。
func (e *MSXExchange) request(method, path string, body interface{}, out interface{}) error {
	env, err := e.requestOnce(method, path, body)
	if err == nil && env.Code == codeRateLimited {
		newInterval := e.gate.Penalize()
		logger.S().Warnf("交易所限流 (1006)，请求间隔增加至 %s，立即重试一次", newInterval)
		env, err = e.requestOnce(method, path, body)
	}
	if err != nil {
		return err
	}
	switch env.Code {
	case 0:
		// 成功
	case codeRateLimited:
		return &models.RateLimitError{Code: env.Code, Msg: env.Msg}
	default:
		return &models.APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return nil
}

func (e *MSXExchange) requestOnce(method, path string, body interface{}) (*apiEnvelope, error) {
	e.gate.Wait()
	req := e.client.R()
	if body != nil {
		req.SetBody(body)
	}
	var resp *resty.Response
	var err error
	if method == "GET" {
		resp, err = req.Get(path)
	} else {
		resp, err = req.Post(path)
	}
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	if resp.StatusCode() == 429 {
		return &apiEnvelope{Code: codeRateLimited, Msg: "too many requests"}, nil
	}
	env := &apiEnvelope{}
	if err := json.Unmarshal(resp.Body(), env); err != nil {
		return nil, fmt.Errorf("解析 %s 响应失败, status=%d: %w", path, resp.StatusCode(), err)
	}
	return env, nil
}

// flexString 兼容以字符串或数字编码的字段
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	*s = flexString(strings.Trim(string(b), `"`))
	if *s == "null" {
		*s = ""
	}
	return nil
}

// floatString 兼容交易所以字符串编码的数字字段
type floatString float64

func (f *floatString) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = floatString(v)
	return nil
}

// rawOrder 是交易所订单的线格式
type rawOrder struct {
	ID       flexString  `json:"id"`
	Symbol   string      `json:"symbol"`
	Price    floatString `json:"price"`
	Vol      floatString `json:"vol"`
	AmtTotal floatString `json:"amtTotal"`
	LongFlag int         `json:"longFlag"`
	OpenType int         `json:"openType"`
	Status   flexString  `json:"status"`
	Ctime    int64       `json:"ctime"`
	AvgPrice floatString `json:"avgPrice"`
	RealPnl  floatString `json:"realPnl"`
	RealFee  floatString `json:"realFee"`
}

// toOrder 将线格式转换为标准订单。
// 交易所用 longFlag(1多/2空) 与 openType(1开/2平) 表达方向，
// 这里归一化为 buy/sell：开多=买、开空=卖、平多=卖、平空=买。
func (r *rawOrder) toOrder() models.Order {
	side := models.SideBuy
	switch {
	case r.LongFlag == 1 && r.OpenType == 1:
		side = models.SideBuy
	case r.LongFlag == 2 && r.OpenType == 1:
		side = models.SideSell
	case r.LongFlag == 1 && r.OpenType == 2:
		side = models.SideSell
	case r.LongFlag == 2 && r.OpenType == 2:
		side = models.SideBuy
	}
	status := models.OrderStatusPending
	switch string(r.Status) {
	case "2", "filled", "executed", "closed":
		status = models.OrderStatusFilled
	case "4", "cancelled", "canceled":
		status = models.OrderStatusCancelled
	}
	openType := models.OpenTypeOpen
	if r.OpenType == 2 {
		openType = models.OpenTypeClose
	}
	return models.Order{
		ID:        string(r.ID),
		Symbol:    strings.TrimSpace(r.Symbol),
		Side:      side,
		OpenType:  openType,
		Price:     float64(r.Price),
		Volume:    float64(r.Vol),
		AvgPrice:  float64(r.AvgPrice),
		Status:    status,
		Timestamp: r.Ctime,
		PNL:       float64(r.RealPnl),
		Fee:       float64(r.RealFee),
	}
}

// FetchOpenOrders 获取标的当前挂单
func (e *MSXExchange) FetchOpenOrders(symbol string) ([]models.Order, error) {
	var raws []rawOrder
	body := map[string]interface{}{"PageSize": 10000, "PageIndex": 1}
	if err := e.request("POST", "/api/v1/co/stock/order/limit", body, &raws); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(raws))
	for i := range raws {
		o := raws[i].toOrder()
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// FetchClosedOrders 获取历史订单，交易所按时间从新到旧返回
func (e *MSXExchange) FetchClosedOrders(symbol string) ([]models.Order, error) {
	var data struct {
		List []rawOrder `json:"list"`
	}
	body := map[string]interface{}{"PageSize": 1000, "PageIndex": 1}
	if err := e.request("POST", "/api/v1/co/stock/order/hisPage", body, &data); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(data.List))
	for i := range data.List {
		o := data.List[i].toOrder()
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// rawPosition 是交易所持仓的线格式
type rawPosition struct {
	ID       int64       `json:"id"`
	Symbol   string      `json:"symbol"`
	LongFlag int         `json:"longFlag"`
	Margin   floatString `json:"posMargin"`
	Amount   floatString `json:"nowAmtTotal"`
	Volume   floatString `json:"nowVolTotal"`
	Pnl      floatString `json:"pnl"`
	LiqPrice floatString `json:"liqPrice"`
	AvgPrice floatString `json:"avgPrice"`
	Ctime    int64       `json:"ctime"`
}

type rawPositionPage struct {
	Balance        floatString   `json:"balance"`
	AcctBalance    floatString   `json:"AcctBalance"`
	AssetValuation floatString   `json:"assetValuation"`
	PnlTotal       floatString   `json:"pnlTotal"`
	PosList        []rawPosition `json:"posList"`
}

func (e *MSXExchange) fetchPositionPage() (*rawPositionPage, error) {
	page := &rawPositionPage{}
	if err := e.request("POST", "/api/v1/co/pos/list", nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// FetchPositions 获取持仓列表，symbol为空时返回全部
func (e *MSXExchange) FetchPositions(symbol string) ([]models.Position, error) {
	page, err := e.fetchPositionPage()
	if err != nil {
		return nil, err
	}
	positions := make([]models.Position, 0, len(page.PosList))
	for _, p := range page.PosList {
		sym := strings.TrimSpace(p.Symbol)
		if symbol != "" && sym != symbol {
			continue
		}
		side := "long"
		if p.LongFlag == 2 {
			side = "short"
		}
		positions = append(positions, models.Position{
			ID:               p.ID,
			Symbol:           sym,
			Side:             side,
			Size:             float64(p.Volume),
			Amount:           float64(p.Amount),
			Margin:           float64(p.Margin),
			EntryPrice:       float64(p.AvgPrice),
			UnrealizedPNL:    float64(p.Pnl),
			LiquidationPrice: float64(p.LiqPrice),
			Timestamp:        p.Ctime,
		})
	}
	return positions, nil
}

// FetchAccount 获取账户资金信息
func (e *MSXExchange) FetchAccount() (*models.AccountInfo, error) {
	page, err := e.fetchPositionPage()
	if err != nil {
		return nil, err
	}
	return &models.AccountInfo{
		Balance:        float64(page.Balance),
		AcctBalance:    float64(page.AcctBalance),
		AssetValuation: float64(page.AssetValuation),
		TotalPNL:       float64(page.PnlTotal),
	}, nil
}

// FetchTicker 获取最新行情。优先使用WebSocket缓存，缓存过期时回退REST。
func (e *MSXExchange) FetchTicker(symbol string) (*models.Ticker, error) {
	e.mu.RLock()
	cached, ok := e.tickers[symbol]
	e.mu.RUnlock()
	if ok && time.Since(time.UnixMilli(cached.Timestamp)) < 10*time.Second {
		return cached, nil
	}

	var bars []struct {
		C floatString `json:"c"`
		T int64       `json:"t"`
	}
	body := map[string]interface{}{"symbol": symbol, "kType": "1m", "sType": 3, "pageIndex": 1, "pageSize": 1}
	if err := e.request("POST", "/api/v1/stockhome/newKline", body, &bars); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("标的 %s 无行情数据", symbol)
	}
	t := &models.Ticker{Symbol: symbol, Last: float64(bars[0].C), Timestamp: bars[0].T}
	e.mu.Lock()
	e.tickers[symbol] = t
	e.mu.Unlock()
	return t, nil
}

// CreateOrder 下单。引擎侧以 buy/sell 表达方向，这里映射回
// 交易所的 side(1多/2空) + openType(1开/2平) 语义。
func (e *MSXExchange) CreateOrder(req *OrderRequest) (*models.Order, error) {
	sideV := 1
	if req.OpenType == models.OpenTypeOpen {
		if req.Side == models.SideSell {
			sideV = 2
		}
	} else {
		// 平仓单的方向指向被平的持仓：卖出平多=1，买入平空=2
		if req.Side == models.SideBuy {
			sideV = 2
		}
	}
	typeV := 1
	if req.OrderType == "market" {
		typeV = 2
	}
	payload := map[string]interface{}{
		"symbol":     req.Symbol,
		"orderType":  typeV,
		"openType":   int(req.OpenType),
		"side":       sideV,
		"marginMode": 1,
		"coType":     req.ContractType,
		"vol":        strconv.FormatFloat(req.Volume, 'f', -1, 64),
		"leverage":   strconv.FormatFloat(req.Leverage, 'f', -1, 64),
	}
	if req.OrderType == "limit" {
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.OpenType == models.OpenTypeClose && req.PositionID > 0 {
		payload["posId"] = req.PositionID
	}

	var created struct {
		ID flexString `json:"id"`
	}
	if err := e.request("POST", "/api/v1/co/stock/order/trade", payload, &created); err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:        string(created.ID),
		Symbol:    req.Symbol,
		Side:      req.Side,
		OpenType:  req.OpenType,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    models.OrderStatusPending,
		Timestamp: time.Now().UnixMilli(),
	}
	// 部分接口下单成功但不回传订单ID，此时从挂单列表补齐
	if order.ID == "" {
		if open, err := e.FetchOpenOrders(req.Symbol); err == nil {
			for i := len(open) - 1; i >= 0; i-- {
				o := open[i]
				if o.Side == req.Side && o.OpenType == req.OpenType {
					order.ID = o.ID
					order.Timestamp = o.Timestamp
					break
				}
			}
		}
	}
	return order, nil
}

// CancelOrder 按订单ID撤单
func (e *MSXExchange) CancelOrder(orderID string) error {
	payload := map[string]interface{}{"id": orderID}
	return e.request("POST", "/api/v1/co/stock/order/cancel", payload, nil)
}

// CancelAllOrders 撤销标的的全部挂单
func (e *MSXExchange) CancelAllOrders(symbol string) error {
	orders, err := e.FetchOpenOrders(symbol)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if err := e.CancelOrder(o.ID); err != nil {
			logger.S().Warnf("撤销订单 %s 失败: %v", o.ID, err)
		}
	}
	return nil
}

// StartTickerStream 启动WebSocket行情订阅，推送结果写入行情缓存。
// 连接断开后按固定间隔重连。
func (e *MSXExchange) StartTickerStream(symbols []string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.stopChan:
				return
			default:
			}
			if err := e.runTickerStream(symbols); err != nil {
				logger.S().Warnf("行情WebSocket断开: %v, 5秒后重连", err)
			}
			select {
			case <-e.stopChan:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

func (e *MSXExchange) runTickerStream(symbols []string) error {
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{"op": "subscribe", "channel": "ticker", "symbols": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-e.stopChan:
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg struct {
			Channel string      `json:"channel"`
			Symbol  string      `json:"symbol"`
			Last    floatString `json:"last"`
			Bid     floatString `json:"bid"`
			Ask     floatString `json:"ask"`
			Ts      int64       `json:"ts"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Channel != "ticker" || msg.Symbol == "" {
			continue
		}
		e.mu.Lock()
		e.tickers[msg.Symbol] = &models.Ticker{
			Symbol:    msg.Symbol,
			Last:      float64(msg.Last),
			Bid:       float64(msg.Bid),
			Ask:       float64(msg.Ask),
			Timestamp: msg.Ts,
		}
		e.mu.Unlock()
	}
}

// Close 停止WebSocket订阅并等待后台goroutine退出
func (e *MSXExchange) Close() {
	close(e.stopChan)
	e.wg.Wait()
}
