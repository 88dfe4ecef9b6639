package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbmesh/config"
	"arbmesh/coordinator"
	"arbmesh/database"
	"arbmesh/executor"
	"arbmesh/logger"
	"arbmesh/risk"
	"arbmesh/storage"
)

// Server 运维接口服务
// 只读状态查询 + 两个运维动作：风控手工解除、执行模式切换
type Server struct {
	cfg        *config.Config
	riskMgr    *risk.Manager
	coord      *coordinator.Coordinator
	mode       *executor.ModeController
	db         database.Database
	logStorage *storage.LogStorage
	cross      *executor.CrossExecutor
	triangular *executor.TriangularExecutor

	engine    *gin.Engine
	srv       *http.Server
	startedAt time.Time
}

// NewServer 创建运维接口服务
func NewServer(cfg *config.Config, riskMgr *risk.Manager, coord *coordinator.Coordinator,
	mode *executor.ModeController, db database.Database, logStorage *storage.LogStorage,
	cross *executor.CrossExecutor, triangular *executor.TriangularExecutor) *Server {

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), ginLoggerMiddleware())

	s := &Server{
		cfg:        cfg,
		riskMgr:    riskMgr,
		coord:      coord,
		mode:       mode,
		db:         db,
		logStorage: logStorage,
		cross:      cross,
		triangular: triangular,
		engine:     engine,
		startedAt:  time.Now(),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/risk", s.handleRisk)
		api.POST("/risk/override", s.handleRiskOverride)
		api.GET("/mode", s.handleGetMode)
		api.POST("/mode", s.handleSetMode)
		api.GET("/coordinator", s.handleCoordinator)
		api.GET("/trades", s.handleTrades)
		api.GET("/logs", s.handleLogs)

		// 外部信号源（自研扫描器/第三方探测器）通过这两个接口触发执行
		api.POST("/execute/cross", s.handleExecuteCross)
		api.POST("/execute/triangular", s.handleExecuteTriangular)
	}
}

// Start 启动服务（非阻塞）
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    s.cfg.Web.Listen,
		Handler: s.engine,
	}

	go func() {
		logger.Info("🌐 运维接口已启动: http://%s", s.cfg.Web.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ 运维接口异常退出: %v", err)
		}
	}()
}

// Stop 优雅停止
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.Warn("⚠️ 运维接口关闭超时: %v", err)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"mode":           string(s.mode.Current()),
		"risk_status":    string(s.riskMgr.Status()),
		"risk_domain":    s.cfg.App.RiskDomain,
	})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.GetSnapshot())
}

func (s *Server) handleRiskOverride(c *gin.Context) {
	if err := s.riskMgr.OverrideLockdown(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Warn("🔧 [运维] 风控锁定已手工解除（来源 %s）", c.ClientIP())
	c.JSON(http.StatusOK, s.riskMgr.GetSnapshot())
}

func (s *Server) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": string(s.mode.Current())})
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.mode.Switch(executor.Mode(req.Mode)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logger.Warn("🔧 [运维] 执行模式切换为 %s（来源 %s）", req.Mode, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"mode": string(s.mode.Current())})
}

func (s *Server) handleCoordinator(c *gin.Context) {
	leases, quarantines := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"leases":      leases,
		"quarantines": quarantines,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	filter := &database.TradeFilter{
		Strategy: c.Query("strategy"),
		Outcome:  c.Query("outcome"),
		Limit:    limit,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	trades, err := s.db.GetTrades(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleExecuteCross(c *gin.Context) {
	var req struct {
		BuyAccount  string  `json:"buy_account" binding:"required"`
		SellAccount string  `json:"sell_account" binding:"required"`
		Pair        string  `json:"pair" binding:"required"`
		BuyPrice    float64 `json:"buy_price" binding:"required"`
		SellPrice   float64 `json:"sell_price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := s.cross.ExecuteCrossTrade(c.Request.Context(),
		req.BuyAccount, req.SellAccount, req.Pair, req.BuyPrice, req.SellPrice)
	if err != nil {
		status := http.StatusInternalServerError
		switch err {
		case executor.ErrRiskLockdown, executor.ErrAccountBusy:
			status = http.StatusConflict
		case executor.ErrNotProfitable:
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"error": err.Error(), "outcome": outcome})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) handleExecuteTriangular(c *gin.Context) {
	var req struct {
		Account string  `json:"account" binding:"required"`
		Asset   string  `json:"asset" binding:"required"`
		Capital float64 `json:"capital"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Capital <= 0 {
		req.Capital = s.cfg.Trading.CapitalPerTrade
	}

	outcome, err := s.triangular.ExecuteTriangular(c.Request.Context(),
		req.Account, req.Asset, req.Capital)
	if err != nil {
		status := http.StatusInternalServerError
		switch err {
		case executor.ErrRiskLockdown, executor.ErrAccountBusy:
			status = http.StatusConflict
		case executor.ErrNotProfitable:
			status = http.StatusOK
		}
		c.JSON(status, gin.H{"error": err.Error(), "outcome": outcome})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) handleLogs(c *gin.Context) {
	if s.logStorage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "日志存储未启用"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := s.logStorage.QueryLogs(&storage.LogQueryParams{
		Level:   c.Query("level"),
		Keyword: c.Query("keyword"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": records, "count": len(records)})
}
