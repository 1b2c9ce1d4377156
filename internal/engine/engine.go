package engine

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"msx-grid-bot-go/internal/calendar"
	"msx-grid-bot-go/internal/exchange"
	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
	"msx-grid-bot-go/internal/persistence"
)

// command 是外部请求进入调度循环的载体
type command struct {
	run  func()
	done chan struct{}
}

// Engine 管理多个网格策略，并在单一调度循环中依次处理它们。
// 所有策略状态只在循环goroutine中被读写；外部的启动、停止、
// 删除与状态查询请求通过命令通道串行化进入循环。
type Engine struct {
	cfg   *models.Config
	ex    exchange.Exchange
	cal   *calendar.Calendar
	files *persistence.Layer
	repo  persistence.StateRepository
	alert *resty.Client

	strategies map[string]*strategy

	commands chan *command
	stopChan chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
	now      func() time.Time
}

// New 创建策略引擎。repo可以为nil，此时运行时状态不做跨重启持久化。
func New(cfg *models.Config, ex exchange.Exchange, cal *calendar.Calendar, files *persistence.Layer, repo persistence.StateRepository) *Engine {
	e := &Engine{
		cfg:        cfg,
		ex:         ex,
		cal:        cal,
		files:      files,
		repo:       repo,
		strategies: make(map[string]*strategy),
		commands:   make(chan *command, 16),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
	if cfg.AlertWebhookURL != "" {
		e.alert = resty.New().SetTimeout(10 * time.Second)
	}
	return e
}

// Start 启动调度循环
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go e.run()
	logger.S().Infof("策略引擎已启动, tick间隔=%ds", e.cfg.TickIntervalSec)
}

// Stop 停止调度循环并等待其退出
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopChan)
	e.wg.Wait()
	logger.S().Info("策略引擎已停止")
}

// run 是唯一的调度循环。命令优先于tick处理，保证外部请求及时生效。
func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.cfg.TickIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case cmd := <-e.commands:
			cmd.run()
			close(cmd.done)
		case <-ticker.C:
			e.tick()
		}
	}
}

// do 将一个操作串行化到调度循环中执行并等待完成。
// 循环尚未启动时直接内联执行（启动前的恢复阶段只有单个goroutine）。
func (e *Engine) do(fn func()) error {
	if !e.running.Load() {
		fn()
		return nil
	}
	cmd := &command{run: fn, done: make(chan struct{})}
	select {
	case e.commands <- cmd:
	case <-e.stopChan:
		return models.ErrEngineStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-e.stopChan:
		return models.ErrEngineStopped
	}
}

// tick 按symbol顺序处理每个策略。单个策略的异常不影响其它策略。
func (e *Engine) tick() {
	symbols := make([]string, 0, len(e.strategies))
	for sym := range e.strategies {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		e.strategies[sym].process()
	}
}

// StartStrategy 校验并注册一个新策略。任何校验失败都不会改变注册表。
func (e *Engine) StartStrategy(cfg models.StrategyConfig) (*models.StrategyReport, error) {
	var report *models.StrategyReport
	var startErr error
	if err := e.do(func() {
		report, startErr = e.doStart(cfg)
	}); err != nil {
		return nil, err
	}
	return report, startErr
}

func (e *Engine) doStart(cfg models.StrategyConfig) (*models.StrategyReport, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, ok := e.strategies[cfg.Symbol]; ok {
		return nil, models.ErrStrategyExists
	}

	// 资金检查：可用余额加上已占用于该标的持仓的保证金
	acct, err := e.ex.FetchAccount()
	if err != nil {
		return nil, fmt.Errorf("查询账户余额失败: %w", err)
	}
	available := acct.Balance
	if positions, perr := e.ex.FetchPositions(cfg.Symbol); perr == nil {
		for _, p := range positions {
			available += p.Margin
		}
	}
	if available < cfg.InvestmentAmount {
		return nil, &models.InsufficientFundsError{Required: cfg.InvestmentAmount, Available: available}
	}

	s := &strategy{
		eng: e,
		state: &models.StrategyState{
			Config:       cfg,
			Status:       models.StatusInitializing,
			TotalCapital: cfg.TotalCapital(),
			StartedAt:    e.now(),
		},
	}
	e.strategies[cfg.Symbol] = s
	logger.S().Infof("网格策略已注册: %s, 方向=%s, 价格区间=[%v, %v], 网格间距=%.2f%%, 投入资金=%v, 杠杆=%v, 总资金=%v",
		cfg.Symbol, cfg.Direction, cfg.MinPrice, cfg.MaxPrice, cfg.GridSpacing*100,
		cfg.InvestmentAmount, cfg.Leverage, s.state.TotalCapital)
	return s.report(), nil
}

// StopStrategy 停止策略：标记停止并撤销全部挂单。
// symbol为空时停止所有未停止的策略。flatten为true时额外以市价平掉持仓。
// 对已停止的策略重复调用是幂等的。
func (e *Engine) StopStrategy(symbol string, flatten bool) error {
	var stopErr error
	if err := e.do(func() {
		stopErr = e.doStop(symbol, flatten)
	}); err != nil {
		return err
	}
	return stopErr
}

func (e *Engine) doStop(symbol string, flatten bool) error {
	if symbol == "" {
		for _, s := range e.strategies {
			if s.state.Status != models.StatusStopped {
				s.stop(flatten)
			}
		}
		return nil
	}
	s, ok := e.strategies[symbol]
	if !ok {
		return models.ErrStrategyNotFound
	}
	if s.state.Status == models.StatusStopped {
		return nil
	}
	s.stop(flatten)
	return nil
}

// DeleteStrategy 从注册表移除一个已停止的策略。
// 磁盘上的配置快照与成交台账保留不动。
func (e *Engine) DeleteStrategy(symbol string) error {
	var delErr error
	if err := e.do(func() {
		s, ok := e.strategies[symbol]
		if !ok {
			delErr = models.ErrStrategyNotFound
			return
		}
		if s.state.Status != models.StatusStopped {
			delErr = models.ErrNotStopped
			return
		}
		delete(e.strategies, symbol)
		if e.repo != nil {
			if err := e.repo.DeleteState(symbol); err != nil {
				logger.S().Warnf("删除运行时状态失败: %s, %v", symbol, err)
			}
		}
		logger.S().Infof("策略已删除: %s", symbol)
	}); err != nil {
		return err
	}
	return delErr
}

// Status 返回单个策略的状态视图
func (e *Engine) Status(symbol string) (*models.StrategyReport, error) {
	var report *models.StrategyReport
	var statusErr error
	if err := e.do(func() {
		s, ok := e.strategies[symbol]
		if !ok {
			statusErr = models.ErrStrategyNotFound
			return
		}
		report = s.report()
	}); err != nil {
		return nil, err
	}
	return report, statusErr
}

// StatusAll 返回全部策略的汇总状态视图
func (e *Engine) StatusAll() (*models.EngineReport, error) {
	report := &models.EngineReport{}
	if err := e.do(func() {
		symbols := make([]string, 0, len(e.strategies))
		for sym := range e.strategies {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			s := e.strategies[sym]
			report.Strategies = append(report.Strategies, *s.report())
			report.Total++
			if s.state.Status == models.StatusStopped {
				report.Stopped++
			} else {
				report.Running++
			}
		}
	}); err != nil {
		return nil, err
	}
	return report, nil
}

// Account 返回交易所账户资金信息
func (e *Engine) Account() (*models.AccountInfo, error) {
	return e.ex.FetchAccount()
}

// minNotional 返回交易所最小订单名义价值
func (e *Engine) minNotional() float64 {
	return e.cfg.MinOrderNotional
}

// sendAlert 通过Webhook推送告警消息，未配置时只写日志
func (e *Engine) sendAlert(msg string) {
	logger.S().Warnf("策略告警: %s", msg)
	if e.alert == nil {
		return
	}
	alertURL := e.cfg.AlertWebhookURL + "/" + url.PathEscape(msg)
	go func() {
		if _, err := e.alert.R().Get(alertURL); err != nil {
			logger.S().Warnf("发送告警失败: %v", err)
		}
	}()
}
