package engine

import (
	"sort"

	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
)

// updateStatistics 把新成交的订单并入成交台账。
// 以 LastFilledTime 为水位线：只有时间戳严格大于水位线的成交会入账，
// 水位线只会前移，历史订单接口乱序返回也不会重复计数。
func (s *strategy) updateStatistics() {
	sym := s.state.Config.Symbol
	closed, err := s.eng.ex.FetchClosedOrders(sym)
	if err != nil {
		logger.S().Warnf("策略 %s 获取历史订单失败: %v", sym, err)
		return
	}

	var fresh []models.Order
	for _, o := range closed {
		if o.Status == models.OrderStatusFilled && o.Timestamp > 0 && o.Timestamp > s.state.LastFilledTime {
			fresh = append(fresh, o)
		}
	}
	if len(fresh) == 0 {
		return
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })

	records := make([]models.TradeRecord, 0, len(fresh))
	maxTS := s.state.LastFilledTime
	for _, o := range fresh {
		// 平仓后 Position.ID 归零，但已实现盈亏仍要落到原持仓的台账里
		records = append(records, models.TradeRecord{
			OrderID:    o.ID,
			Symbol:     sym,
			Side:       o.Side,
			OpenType:   o.OpenType,
			Price:      o.Price,
			Volume:     o.Volume,
			AvgPrice:   o.AvgPrice,
			PNL:        o.PNL,
			Fee:        o.Fee,
			Timestamp:  o.Timestamp,
			PositionID: s.posID,
		})
		if o.Timestamp > maxTS {
			maxTS = o.Timestamp
		}
	}
	s.state.Trades = append(s.state.Trades, records...)
	s.state.LastFilledTime = maxTS

	if s.eng.files != nil && s.posID != 0 {
		if err := s.eng.files.AppendTrades(s.posID, records); err != nil {
			logger.S().Errorf("策略 %s 写入成交台账失败: %v", sym, err)
		}
	}
	s.persist()
	logger.S().Infof("策略 %s 新增成交 %d 笔, 水位线=%d", sym, len(records), s.state.LastFilledTime)
}

// summary 计算策略的汇总统计。
// 投入本金按未加杠杆的金额计，收益率与年化都以它为基数。
func (s *strategy) summary() models.Summary {
	sum := models.Summary{
		TotalInvestment: s.state.Config.InvestmentAmount,
		UnrealizedPNL:   s.state.Position.UnrealizedPNL,
		GridCount:       len(s.state.Trades),
	}
	for _, t := range s.state.Trades {
		sum.RealizedPNL += t.PNL
		sum.TotalVolume += t.Price * t.Volume
		if t.OpenType == models.OpenTypeClose {
			sum.ArbitrageCount++
		}
	}
	sum.TotalPNL = sum.RealizedPNL + sum.UnrealizedPNL

	if !s.state.StartedAt.IsZero() && sum.TotalInvestment > 0 {
		days := s.eng.now().Sub(s.state.StartedAt).Hours() / 24
		if days < 1e-6 {
			days = 1e-6 // 刚启动时避免除零
		}
		sum.RunningDays = days
		sum.AnnualizedReturn = sum.TotalPNL / sum.TotalInvestment * (365 / days) * 100
	}
	return sum
}
