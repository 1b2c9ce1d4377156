package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"msx-grid-bot-go/internal/engine"
	"msx-grid-bot-go/internal/logger"
	"msx-grid-bot-go/internal/models"
)

// Server 通过HTTP暴露策略引擎的控制面
type Server struct {
	router     *gin.Engine
	eng        *engine.Engine
	httpServer *http.Server
}

// NewServer 创建API服务
func NewServer(eng *engine.Engine, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		eng:    eng,
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/hello", s.handleHello)
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.POST("/delete", s.handleDelete)
		api.GET("/status", s.handleStatus)
		api.GET("/free_balance", s.handleFreeBalance)
	}
}

// Run 启动HTTP服务，阻塞直到服务退出
func (s *Server) Run() error {
	logger.S().Infof("API服务监听于 %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "hello", "time": time.Now().Format(time.RFC3339)})
}

// handleStart 启动一个网格策略。
// 参数校验失败、重复启动、资金不足都返回failed，不会中断服务。
func (s *Server) handleStart(c *gin.Context) {
	var cfg models.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "请求参数格式错误: " + err.Error()})
		return
	}

	report, err := s.eng.StartStrategy(cfg)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "网格策略已启动",
		"params": gin.H{
			"symbol":            report.Config.Symbol,
			"min_price":         report.Config.MinPrice,
			"max_price":         report.Config.MaxPrice,
			"direction":         report.Config.Direction,
			"grid_spacing":      report.Config.GridSpacing,
			"investment_amount": report.Config.InvestmentAmount,
			"leverage":          report.Config.Leverage,
			"total_capital":     report.Config.TotalCapital(),
			"asset_type":        report.Config.AssetType,
			"market_type":       report.Config.MarketType,
		},
	})
}

type stopRequest struct {
	Symbol  string `json:"symbol"`
	Flatten bool   `json:"flatten"`
}

// handleStop 停止策略。不带symbol时停止全部未停止的策略。
func (s *Server) handleStop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "请求参数格式错误: " + err.Error()})
		return
	}
	if err := s.eng.StopStrategy(req.Symbol, req.Flatten); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	msg := "网格策略已停止"
	if req.Symbol == "" {
		msg = "全部网格策略已停止"
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": msg})
}

type deleteRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) handleDelete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "缺少 symbol 参数"})
		return
	}
	if err := s.eng.DeleteStrategy(req.Symbol); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "策略已删除"})
}

// handleStatus 查询策略状态。带symbol参数时返回单个策略，否则返回全部。
func (s *Server) handleStatus(c *gin.Context) {
	if symbol := c.Query("symbol"); symbol != "" {
		report, err := s.eng.Status(symbol)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": report})
		return
	}
	report, err := s.eng.StatusAll()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": report})
}

func (s *Server) handleFreeBalance(c *gin.Context) {
	acct, err := s.eng.Account()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data": gin.H{
			"balance":        acct.Balance,
			"acctBalance":    acct.AcctBalance,
			"assetValuation": acct.AssetValuation,
			"pnlTotal":       acct.TotalPNL,
		},
	})
}
