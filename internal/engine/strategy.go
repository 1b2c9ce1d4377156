package engine

import (
	"fmt"

	"msx-grid-bot-go/internal/exchange"
	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
	"msx-grid-bot-go/internal/persistence"
)

// strategy 封装单个标的的网格策略。
// 它的全部方法只在引擎的调度循环中被调用。
type strategy struct {
	eng       *Engine
	state     *models.StrategyState
	fatal     error // 致命初始化失败后置位，策略不再参与调度
	posID     int64 // 出现过的最后一个非零持仓ID，平仓后成交台账仍按它落盘
	snapSaved bool  // 配置快照已写入
}

// process 处理一个tick。任何异常都被限制在本策略内。
func (s *strategy) process() {
	sym := s.state.Config.Symbol
	defer func() {
		if r := recover(); r != nil {
			s.state.LastError = fmt.Sprintf("panic: %v", r)
			logger.S().Errorf("策略 %s 处理异常: %v", sym, r)
		}
	}()

	if s.state.Status == models.StatusStopped || s.fatal != nil {
		return
	}
	if !s.tradable() {
		return
	}

	if !s.state.Initialized {
		if err := s.initialize(); err != nil {
			s.state.LastError = err.Error()
			if models.IsFatalInit(err) {
				s.fatal = err
				s.eng.sendAlert(fmt.Sprintf("%s 初始化失败: %v", sym, err))
				logger.S().Errorf("策略 %s 致命初始化失败: %v", sym, err)
			} else {
				logger.S().Warnf("策略 %s 初始化失败, 下一tick重试: %v", sym, err)
			}
			return
		}
		if !s.state.Initialized {
			return // 等待交易所认证就绪
		}
	}

	if err := s.check(); err != nil {
		s.state.LastError = err.Error()
		logger.S().Warnf("策略 %s 检查订单失败: %v", sym, err)
		return
	}
	s.state.LastError = ""
}

// tradable 报告当前tick是否允许交易。只有股票类标的受交易时段约束。
func (s *strategy) tradable() bool {
	if s.state.Config.AssetType != models.AssetStock {
		return true
	}
	return s.eng.cal.Tradable()
}

// initialize 执行初始化序列：清理历史挂单、记录起始价格、
// 按需建仓、校验每格金额、初始化统计水位线、挂出首对网格订单。
func (s *strategy) initialize() error {
	cfg := &s.state.Config
	if !s.eng.ex.Connected() {
		logger.S().Debugf("等待交易所认证就绪: %s", cfg.Symbol)
		return nil
	}

	// 清理历史挂单，避免与本次网格相互干扰
	if err := s.eng.ex.CancelAllOrders(cfg.Symbol); err != nil {
		return fmt.Errorf("撤销历史挂单失败: %w", err)
	}

	ticker, err := s.eng.ex.FetchTicker(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("获取行情失败: %w", err)
	}
	if ticker.Last <= 0 {
		return fmt.Errorf("标的 %s 行情价格无效: %v", cfg.Symbol, ticker.Last)
	}
	s.state.CurrentPrice = ticker.Last
	if s.state.StartPrice == 0 {
		s.state.StartPrice = ticker.Last
		logger.S().Infof("策略 %s 启动价格已记录: %v", cfg.Symbol, s.state.StartPrice)
	}

	if err := s.reconcilePosition(); err != nil {
		return fmt.Errorf("获取持仓失败: %w", err)
	}

	// 每格下单数量与最小名义价值校验
	priceRange := cfg.MaxPrice - cfg.MinPrice
	each := s.state.TotalCapital * cfg.GridSpacing / priceRange
	if each*cfg.MinPrice < s.eng.minNotional() {
		return &models.FatalInitError{
			Reason: fmt.Sprintf("每格金额 %.4f 低于最小订单名义价值 %.2f, 请增大投资额或网格间距",
				each*cfg.MinPrice, s.eng.minNotional()),
		}
	}
	s.state.EachOrderSize = each
	logger.S().Infof("策略 %s 每格下单数量: %.6f (价格范围=%.4f, 网格间距=%.2f%%)",
		cfg.Symbol, each, priceRange, cfg.GridSpacing*100)

	if s.state.Position.Size == 0 {
		if err := s.buildInitialPosition(); err != nil {
			return err
		}
	} else {
		logger.S().Infof("策略 %s 检测到已有持仓, 跳过建仓: size=%v", cfg.Symbol, s.state.Position.Size)
	}

	// 统计水位线取历史成交的最大时间戳，启动前的成交不计入本策略
	if s.state.LastFilledTime == 0 {
		closed, err := s.eng.ex.FetchClosedOrders(cfg.Symbol)
		if err != nil {
			return fmt.Errorf("获取历史订单失败: %w", err)
		}
		for _, o := range closed {
			if o.Status == models.OrderStatusFilled && o.Timestamp > s.state.LastFilledTime {
				s.state.LastFilledTime = o.Timestamp
			}
		}
	}

	s.placeGridOrders(s.state.CurrentPrice, s.state.EachOrderSize)

	s.state.Initialized = true
	s.state.Status = models.StatusRunning
	s.saveSnapshot()
	s.persist()
	logger.S().Infof("策略 %s 初始化完成: 起始价=%v, 持仓=%v", cfg.Symbol, s.state.StartPrice, s.state.Position.Size)
	return nil
}

// buildInitialPosition 按价格在区间中的位置计算目标仓位并以市价建仓。
// 做多时价格越低仓位越重，做空相反。
func (s *strategy) buildInitialPosition() error {
	cfg := &s.state.Config
	price := s.state.CurrentPrice
	if price < cfg.MinPrice {
		price = cfg.MinPrice
	}
	if price > cfg.MaxPrice {
		price = cfg.MaxPrice
	}

	ratio := (price - cfg.MinPrice) / (cfg.MaxPrice - cfg.MinPrice)
	initialRatio := ratio
	if cfg.Direction == models.DirectionLong {
		initialRatio = 1 - ratio
	}
	if initialRatio < 0 {
		initialRatio = 0
	}
	if initialRatio > 1 {
		initialRatio = 1
	}

	targetVolume := s.state.TotalCapital * initialRatio / price
	logger.S().Infof("策略 %s 初始建仓: 价格=%v, 位置比例=%.2f%%, 仓位比例=%.2f%%, 目标数量=%.6f",
		cfg.Symbol, price, ratio*100, initialRatio*100, targetVolume)
	if targetVolume <= 0 {
		logger.S().Infof("策略 %s 目标仓位为0, 跳过建仓", cfg.Symbol)
		return nil
	}

	side := models.SideBuy
	if cfg.Direction == models.DirectionShort {
		side = models.SideSell
	}
	if _, err := s.eng.ex.CreateOrder(&exchange.OrderRequest{
		Symbol:       cfg.Symbol,
		Side:         side,
		OrderType:    "market",
		Volume:       targetVolume,
		OpenType:     models.OpenTypeOpen,
		ContractType: cfg.ContractType,
		Leverage:     cfg.Leverage,
	}); err != nil {
		return fmt.Errorf("初始建仓失败: %w", err)
	}
	return s.reconcilePosition()
}

// check 执行稳态检查：刷新行情与持仓，按挂单列表差集推断成交，
// 再按成交情况重新锚定网格并更新统计。
func (s *strategy) check() error {
	cfg := &s.state.Config

	ticker, err := s.eng.ex.FetchTicker(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("获取行情失败: %w", err)
	}
	s.state.CurrentPrice = ticker.Last

	// 持仓以交易所为准，每tick整体覆盖；失败只记日志，不中断本tick
	if err := s.reconcilePosition(); err != nil {
		logger.S().Warnf("策略 %s 更新持仓失败: %v", cfg.Symbol, err)
	}

	// 初始化时没建仓的策略，在持仓首次出现后补写配置快照
	if !s.snapSaved {
		s.saveSnapshot()
	}

	open, err := s.eng.ex.FetchOpenOrders(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("获取挂单失败: %w", err)
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		if o.ID != "" {
			openIDs[o.ID] = true
		}
	}

	// 跟踪的订单不在挂单列表中即视为已成交。
	// 下单失败的哨兵订单没有ID，同样触发重新布单。
	buyFilled := s.state.BuyOrder != nil && !openIDs[s.state.BuyOrder.ID]
	sellFilled := s.state.SellOrder != nil && !openIDs[s.state.SellOrder.ID]

	switch {
	case buyFilled && sellFilled:
		// 两侧同tick成交：以最近一笔历史订单为锚重新布单，不撤单
		closed, err := s.eng.ex.FetchClosedOrders(cfg.Symbol)
		if err != nil {
			return fmt.Errorf("获取历史订单失败: %w", err)
		}
		if len(closed) > 0 {
			last := closed[0]
			logger.S().Infof("策略 %s 买卖单同时成交, 以最近成交价 %v 重新布单", cfg.Symbol, last.Price)
			s.placeGridOrders(last.Price, last.Volume)
		}
	case buyFilled:
		logger.S().Infof("策略 %s 买单成交: 价格=%v, 数量=%v", cfg.Symbol, s.state.BuyOrder.Price, s.state.BuyOrder.Volume)
		if s.state.SellOrder != nil && s.state.SellOrder.ID != "" {
			if err := s.eng.ex.CancelOrder(s.state.SellOrder.ID); err != nil {
				logger.S().Warnf("策略 %s 撤销卖单失败: %v", cfg.Symbol, err)
			}
		}
		s.placeGridOrders(s.state.BuyOrder.Price, s.state.BuyOrder.Volume)
	case sellFilled:
		logger.S().Infof("策略 %s 卖单成交: 价格=%v, 数量=%v", cfg.Symbol, s.state.SellOrder.Price, s.state.SellOrder.Volume)
		if s.state.BuyOrder != nil && s.state.BuyOrder.ID != "" {
			if err := s.eng.ex.CancelOrder(s.state.BuyOrder.ID); err != nil {
				logger.S().Warnf("策略 %s 撤销买单失败: %v", cfg.Symbol, err)
			}
		}
		s.placeGridOrders(s.state.SellOrder.Price, s.state.SellOrder.Volume)
	}

	if buyFilled || sellFilled {
		s.persist()
	}
	s.updateStatistics()
	return nil
}

// placeGridOrders 在锚定价格两侧各挂一张限价单。
// 买单只在价格不低于区间下界时挂出；卖单还要求有持仓，
// 数量不超过当前持仓。每侧至多保留一张跟踪订单。
func (s *strategy) placeGridOrders(anchorPrice, refVolume float64) {
	cfg := &s.state.Config
	newBuyPrice := anchorPrice * (1 - cfg.GridSpacing)
	newSellPrice := anchorPrice * (1 + cfg.GridSpacing)

	// 做多：买单开仓、卖单平仓；做空相反
	buyOpenType, sellOpenType := models.OpenTypeOpen, models.OpenTypeClose
	if cfg.Direction == models.DirectionShort {
		buyOpenType, sellOpenType = models.OpenTypeClose, models.OpenTypeOpen
	}

	if newBuyPrice >= cfg.MinPrice {
		s.state.BuyOrder = s.placeLimitOrder(models.SideBuy, buyOpenType, newBuyPrice, refVolume)
	} else {
		logger.S().Debugf("策略 %s 买单价格 %.4f 低于区间下界 %.4f, 跳过", cfg.Symbol, newBuyPrice, cfg.MinPrice)
		s.state.BuyOrder = nil
	}

	if newSellPrice <= cfg.MaxPrice && s.state.Position.Size > 0 {
		sellVolume := refVolume
		if s.state.Position.Size < sellVolume {
			sellVolume = s.state.Position.Size
		}
		s.state.SellOrder = s.placeLimitOrder(models.SideSell, sellOpenType, newSellPrice, sellVolume)
	} else {
		logger.S().Debugf("策略 %s 卖单条件不满足: 价格=%.4f, 区间上界=%.4f, 持仓=%v",
			cfg.Symbol, newSellPrice, cfg.MaxPrice, s.state.Position.Size)
		s.state.SellOrder = nil
	}
}

// placeLimitOrder 挂出一张限价单。失败时返回哨兵订单而不是传播错误，
// 下一tick的成交推断会对哨兵订单重新布单。
func (s *strategy) placeLimitOrder(side models.Side, openType models.OpenType, price, volume float64) *models.Order {
	cfg := &s.state.Config
	req := &exchange.OrderRequest{
		Symbol:       cfg.Symbol,
		Side:         side,
		OrderType:    "limit",
		Price:        price,
		Volume:       volume,
		OpenType:     openType,
		ContractType: cfg.ContractType,
		Leverage:     cfg.Leverage,
	}
	if openType == models.OpenTypeClose && s.state.Position.ID > 0 {
		req.PositionID = s.state.Position.ID
	}
	order, err := s.eng.ex.CreateOrder(req)
	if err != nil {
		logger.S().Errorf("策略 %s 挂%s单失败: 价格=%.4f, 数量=%.6f, %v", cfg.Symbol, sideName(side), price, volume, err)
		return models.FailedOrder(cfg.Symbol, side, price, volume, err.Error())
	}
	logger.S().Infof("策略 %s 挂%s单: ID=%s, 价格=%.4f, 数量=%.6f, 类型=%s",
		cfg.Symbol, sideName(side), order.ID, price, volume, openTypeName(openType))
	return order
}

// reconcilePosition 用交易所返回的持仓快照整体覆盖本地持仓。
// 交易所无该标的持仓时本地持仓归零。
func (s *strategy) reconcilePosition() error {
	positions, err := s.eng.ex.FetchPositions(s.state.Config.Symbol)
	if err != nil {
		return err
	}
	if len(positions) > 0 {
		s.state.Position = positions[0]
	} else {
		s.state.Position = models.Position{Symbol: s.state.Config.Symbol}
	}
	if s.state.Position.ID != 0 {
		s.posID = s.state.Position.ID
	}
	return nil
}

// stop 停止策略：撤销全部挂单，flatten时以市价清仓
func (s *strategy) stop(flatten bool) {
	cfg := &s.state.Config
	s.state.Status = models.StatusStopped
	logger.S().Infof("开始停止网格策略: %s", cfg.Symbol)

	if err := s.eng.ex.CancelAllOrders(cfg.Symbol); err != nil {
		logger.S().Errorf("策略 %s 停止时撤单失败: %v", cfg.Symbol, err)
	}
	s.state.BuyOrder = nil
	s.state.SellOrder = nil

	if flatten {
		s.flattenPosition()
	}

	s.persist()
	logger.S().Infof("网格策略已停止: %s", cfg.Symbol)
}

// flattenPosition 以市价平掉当前持仓，将风险降到最小
func (s *strategy) flattenPosition() {
	cfg := &s.state.Config
	positions, err := s.eng.ex.FetchPositions(cfg.Symbol)
	if err != nil {
		logger.S().Errorf("策略 %s 清仓时获取持仓失败: %v", cfg.Symbol, err)
		return
	}
	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		closeSide := models.SideSell
		if pos.Side == "short" {
			closeSide = models.SideBuy
		}
		logger.S().Infof("策略 %s 市价平仓: side=%s, size=%v, posId=%d", cfg.Symbol, pos.Side, pos.Size, pos.ID)
		if _, err := s.eng.ex.CreateOrder(&exchange.OrderRequest{
			Symbol:       pos.Symbol,
			Side:         closeSide,
			OrderType:    "market",
			Volume:       pos.Size,
			OpenType:     models.OpenTypeClose,
			ContractType: cfg.ContractType,
			Leverage:     cfg.Leverage,
			PositionID:   pos.ID,
		}); err != nil {
			logger.S().Errorf("策略 %s 平仓失败: posId=%d, %v", cfg.Symbol, pos.ID, err)
		}
	}
	s.state.Position = models.Position{Symbol: cfg.Symbol}
}

// saveSnapshot 在首次建立持仓后写入只写一次的配置快照
func (s *strategy) saveSnapshot() {
	if s.eng.files == nil || s.state.Position.ID == 0 {
		return
	}
	snap := &persistence.ConfigSnapshot{
		PositionID:    s.state.Position.ID,
		Config:        s.state.Config,
		TotalCapital:  s.state.TotalCapital,
		EachOrderSize: s.state.EachOrderSize,
		StartPrice:    s.state.StartPrice,
		StartedAt:     s.state.StartedAt,
	}
	if err := s.eng.files.SaveConfigSnapshot(snap); err != nil {
		logger.S().Errorf("策略 %s 写入配置快照失败: %v", s.state.Config.Symbol, err)
		return
	}
	s.snapSaved = true
}

// persist 保存跨重启的最小运行时状态
func (s *strategy) persist() {
	if s.eng.repo == nil {
		return
	}
	st := &models.RuntimeState{
		Symbol:         s.state.Config.Symbol,
		Status:         s.state.Status,
		StartPrice:     s.state.StartPrice,
		StartedAt:      s.state.StartedAt,
		LastFilledTime: s.state.LastFilledTime,
		PositionID:     s.posID,
	}
	if err := s.eng.repo.SaveState(st); err != nil {
		logger.S().Warnf("策略 %s 保存运行时状态失败: %v", s.state.Config.Symbol, err)
	}
}

// report 生成策略的对外状态视图
func (s *strategy) report() *models.StrategyReport {
	recent := s.state.Trades
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	return &models.StrategyReport{
		Symbol:       s.state.Config.Symbol,
		Status:       s.state.Status,
		Config:       s.state.Config,
		StartPrice:   s.state.StartPrice,
		CurrentPrice: s.state.CurrentPrice,
		StartedAt:    s.state.StartedAt,
		Connected:    s.eng.ex.Connected(),
		Tradable:     s.tradable(),
		BuyOrder:     s.state.BuyOrder,
		SellOrder:    s.state.SellOrder,
		Position:     s.state.Position,
		Summary:      s.summary(),
		RecentTrades: recent,
		LastError:    s.state.LastError,
	}
}

func sideName(side models.Side) string {
	if side == models.SideBuy {
		return "买"
	}
	return "卖"
}

func openTypeName(t models.OpenType) string {
	if t == models.OpenTypeOpen {
		return "开仓"
	}
	return "平仓"
}
