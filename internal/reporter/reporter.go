package reporter

import (
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"msx-grid-bot-go/internal/engine"
	"msx-grid-bot-go/internal/logger"
)

// Reporter 周期性地将所有策略的运行概况渲染为表格输出到控制台
type Reporter struct {
	eng      *engine.Engine
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New 创建一个报告器
func New(eng *engine.Engine, interval time.Duration) *Reporter {
	return &Reporter{
		eng:      eng,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start 启动周期报告循环
func (r *Reporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.Render()
			}
		}
	}()
}

// Stop 停止报告循环
func (r *Reporter) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

// Render 输出一次全量策略概况
func (r *Reporter) Render() {
	report, err := r.eng.StatusAll()
	if err != nil {
		logger.S().Warnf("生成策略报告失败: %v", err)
		return
	}
	if report.Total == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("网格策略概况 (运行 %d / 停止 %d)", report.Running, report.Stopped)
	t.AppendHeader(table.Row{"标的", "状态", "方向", "当前价", "持仓", "已实现盈亏", "未实现盈亏", "总盈亏", "成交笔数", "年化%"})
	for _, s := range report.Strategies {
		t.AppendRow(table.Row{
			s.Symbol,
			s.Status,
			s.Config.Direction,
			s.CurrentPrice,
			s.Position.Size,
			s.Summary.RealizedPNL,
			s.Summary.UnrealizedPNL,
			s.Summary.TotalPNL,
			s.Summary.GridCount,
			s.Summary.AnnualizedReturn,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}
