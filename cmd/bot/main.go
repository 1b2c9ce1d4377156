package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"msx-grid-bot-go/internal/calendar"
	"msx-grid-bot-go/internal/config"
	"msx-grid-bot-go/internal/engine"
	"msx-grid-bot-go/internal/exchange"
	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
	"msx-grid-bot-go/internal/persistence"
	"msx-grid-bot-go/internal/reporter"
	"msx-grid-bot-go/internal/server"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or sim")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 先用默认配置初始化，保证加载.env和配置文件阶段也有日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	// --- 初始化交易所适配器 ---
	var ex exchange.Exchange
	switch *mode {
	case "live":
		token := os.Getenv("MSX_API_TOKEN")
		if token == "" {
			logger.S().Warn("MSX_API_TOKEN 未设置，策略将等待认证就绪后才会初始化。")
		}
		msx := exchange.NewMSXExchange(
			cfg.APIURL, cfg.WSURL, token,
			time.Duration(cfg.MinRequestIntervalMs)*time.Millisecond,
			time.Duration(cfg.HTTPTimeoutSec)*time.Second,
		)
		defer msx.Close()
		ex = msx
	case "sim":
		logger.S().Info("--- 模拟交易所模式 ---")
		ex = exchange.NewSimExchange()
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'sim'。", *mode)
	}

	// --- 初始化持久化 ---
	files, err := persistence.NewLayer(cfg.DataDir)
	if err != nil {
		logger.S().Fatalf("初始化数据目录失败: %v", err)
	}
	var repo persistence.StateRepository
	if cfg.DBPath != "" {
		repo, err = persistence.NewBadgerRepository(cfg.DBPath)
		if err != nil {
			logger.S().Fatalf("打开状态数据库失败: %v", err)
		}
		defer repo.Close()
	}

	// --- 初始化交易日历 ---
	cal := calendar.New(calendar.NewHTTPSource(cfg.CalendarAPIURL, time.Duration(cfg.HTTPTimeoutSec)*time.Second))

	// --- 创建引擎并恢复崩溃前的策略 ---
	eng := engine.New(cfg, ex, cal, files, repo)
	if err := eng.Recover(); err != nil {
		logger.S().Warnf("策略恢复失败，以空注册表启动: %v", err)
	}
	eng.Start()

	// --- 周期报告 ---
	var rep *reporter.Reporter
	if cfg.ReportIntervalSec > 0 {
		rep = reporter.New(eng, time.Duration(cfg.ReportIntervalSec)*time.Second)
		rep.Start()
	}

	// --- 启动API服务 ---
	srv := server.NewServer(eng, cfg.ListenAddr)
	go func() {
		if err := srv.Run(); err != nil {
			logger.S().Fatalf("API服务异常退出: %v", err)
		}
	}()

	// --- 等待中断信号以实现优雅退出 ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.S().Info("收到退出信号，开始优雅关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.S().Warnf("关闭API服务失败: %v", err)
	}
	if rep != nil {
		rep.Stop()
	}
	// 只停调度循环，不撤单不平仓：挂单与持仓留在交易所，
	// 下次启动由恢复流程接管
	eng.Stop()
	logger.S().Info("服务已成功停止。")
}
