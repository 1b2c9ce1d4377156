package engine

import (
	"fmt"

	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
)

// Recover 在进程启动时重建崩溃前的策略。
// 枚举交易所当前的全部持仓，凡是能找到配置快照的持仓都按快照
// 恢复为运行中的策略，并从成交台账回放统计数据。
// 应当在 Start 之前调用。
func (e *Engine) Recover() error {
	if e.files == nil {
		return nil
	}
	positions, err := e.ex.FetchPositions("")
	if err != nil {
		return fmt.Errorf("恢复时枚举持仓失败: %w", err)
	}

	for _, pos := range positions {
		if pos.Size == 0 || pos.ID == 0 {
			continue
		}
		snap, err := e.files.LoadConfigSnapshot(pos.ID)
		if err != nil {
			logger.S().Errorf("读取持仓 %d 的配置快照失败: %v", pos.ID, err)
			continue
		}
		if snap == nil {
			logger.S().Debugf("持仓 %d (%s) 无配置快照, 不属于本引擎管理", pos.ID, pos.Symbol)
			continue
		}
		if _, ok := e.strategies[snap.Config.Symbol]; ok {
			continue
		}

		trades, err := e.files.ReplayLedger(pos.ID)
		if err != nil {
			logger.S().Errorf("回放持仓 %d 的成交台账失败: %v", pos.ID, err)
		}
		var lastFilled int64
		for _, t := range trades {
			if t.Timestamp > lastFilled {
				lastFilled = t.Timestamp
			}
		}

		// Initialized 置回false：让初始化序列重新撤掉交易所上
		// 残留的旧挂单并布出新的网格对。起始价与统计水位线保留，
		// 已有持仓会让建仓步骤自动跳过。
		st := &models.StrategyState{
			Config:         snap.Config,
			Status:         models.StatusInitializing,
			Initialized:    false,
			StartPrice:     snap.StartPrice,
			StartedAt:      snap.StartedAt,
			TotalCapital:   snap.TotalCapital,
			EachOrderSize:  snap.EachOrderSize,
			LastFilledTime: lastFilled,
			Position:       pos,
			Trades:         trades,
		}

		// 嵌入式数据库中的运行时状态更新，优先于快照
		if e.repo != nil {
			if rt, err := e.repo.LoadState(snap.Config.Symbol); err != nil {
				logger.S().Warnf("读取 %s 运行时状态失败: %v", snap.Config.Symbol, err)
			} else if rt != nil {
				if rt.StartPrice > 0 {
					st.StartPrice = rt.StartPrice
				}
				if !rt.StartedAt.IsZero() {
					st.StartedAt = rt.StartedAt
				}
				if rt.LastFilledTime > st.LastFilledTime {
					st.LastFilledTime = rt.LastFilledTime
				}
				if rt.Status == models.StatusStopped {
					st.Status = models.StatusStopped
				}
			}
		}

		e.strategies[snap.Config.Symbol] = &strategy{eng: e, state: st, posID: pos.ID, snapSaved: true}
		e.sendAlert(fmt.Sprintf("%s 策略已从重启中恢复, 持仓ID=%d, size=%v", snap.Config.Symbol, pos.ID, pos.Size))
		logger.S().Infof("已恢复策略 %s: 持仓ID=%d, size=%v, 成交记录=%d 笔",
			snap.Config.Symbol, pos.ID, pos.Size, len(trades))
	}
	return nil
}
