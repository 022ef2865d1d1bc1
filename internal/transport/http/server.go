// Package apihttp 运维操作面：手动触发周期、查询持仓与成交、开关自动循环。
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"aquant/internal/engine"
	"aquant/internal/logger"
	"aquant/internal/store"

	"github.com/gin-gonic/gin"
)

// CycleService 引擎对 HTTP 层暴露的能力。
type CycleService interface {
	RunBuyCycle(ctx context.Context, modelID int64) *engine.CycleResult
	RunSellCycle(ctx context.Context, modelID int64) *engine.CycleResult
}

type Server struct {
	addr      string
	cycles    CycleService
	models    store.ModelRepository
	positions store.PositionRepository
	trades    store.TradeRepository
	router    *gin.Engine
	srv       *http.Server
}

type Config struct {
	Addr      string
	Cycles    CycleService
	Models    store.ModelRepository
	Positions store.PositionRepository
	Trades    store.TradeRepository
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Cycles == nil {
		return nil, errors.New("cycle service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		cycles:    cfg.Cycles,
		models:    cfg.Models,
		positions: cfg.Positions,
		trades:    cfg.Trades,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.GET("/models", s.handleModels)
	api.POST("/models/:id/buy-cycle", s.handleBuyCycle)
	api.POST("/models/:id/sell-cycle", s.handleSellCycle)
	api.PUT("/models/:id/auto", s.handleAutoFlags)
	api.GET("/models/:id/positions", s.handlePositions)
	api.GET("/models/:id/trades", s.handleTrades)
}

// Start 非阻塞启动，Shutdown 负责优雅退出。
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	logger.Infof("HTTP 服务启动 addr=%s", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP 服务异常退出: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler 暴露给测试用。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleModels(c *gin.Context) {
	list, err := s.models.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// 不向外暴露密钥
	for i := range list {
		list[i].APIKey = ""
		list[i].APISecret = ""
	}
	c.JSON(http.StatusOK, gin.H{"models": list})
}

func (s *Server) handleBuyCycle(c *gin.Context) {
	s.runCycle(c, s.cycles.RunBuyCycle)
}

func (s *Server) handleSellCycle(c *gin.Context) {
	s.runCycle(c, s.cycles.RunSellCycle)
}

func (s *Server) runCycle(c *gin.Context, run func(context.Context, int64) *engine.CycleResult) {
	id, ok := modelID(c)
	if !ok {
		return
	}
	result := run(c.Request.Context(), id)
	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusInternalServerError
		if result.Error == engine.ErrModelNotFound.Error() {
			status = http.StatusNotFound
		}
	}
	c.JSON(status, result)
}

type autoFlagsRequest struct {
	AutoBuy  bool `json:"auto_buy"`
	AutoSell bool `json:"auto_sell"`
}

func (s *Server) handleAutoFlags(c *gin.Context) {
	id, ok := modelID(c)
	if !ok {
		return
	}
	var req autoFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体解析失败: " + err.Error()})
		return
	}
	if err := s.models.SetAutoFlags(c.Request.Context(), id, req.AutoBuy, req.AutoSell); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "模型不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"auto_buy": req.AutoBuy, "auto_sell": req.AutoSell})
}

func (s *Server) handlePositions(c *gin.Context) {
	id, ok := modelID(c)
	if !ok {
		return
	}
	list, err := s.positions.ListByModel(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": list})
}

func (s *Server) handleTrades(c *gin.Context) {
	id, ok := modelID(c)
	if !ok {
		return
	}
	cycleID := c.Query("cycle_id")
	if cycleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 cycle_id 参数"})
		return
	}
	list, err := s.trades.ListByCycle(c.Request.Context(), cycleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := list[:0]
	for _, t := range list {
		if t.ModelID == id {
			out = append(out, t)
		}
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func modelID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的模型 id"})
		return 0, false
	}
	return id, true
}
