// Package server exposes the coordinator to the display layer over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/internal/infrastructure/config"
	"github.com/jchen042/tradedesk/internal/orders"
	"github.com/jchen042/tradedesk/internal/subscription"
	pkgerrors "github.com/jchen042/tradedesk/pkg/errors"
	"github.com/jchen042/tradedesk/pkg/models"
)

// Server wires the subscription coordinator and order services behind the
// display-facing HTTP API.
type Server struct {
	coordinator *subscription.Coordinator
	aggregator  *orders.Aggregator
	executor    *orders.BatchCancelExecutor
	logger      *zap.Logger
	engine      *gin.Engine
	http        *http.Server
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, coordinator *subscription.Coordinator, aggregator *orders.Aggregator, executor *orders.BatchCancelExecutor, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	engine.Use(cors.New(corsCfg))

	s := &Server{
		coordinator: coordinator,
		aggregator:  aggregator,
		executor:    executor,
		logger:      logger,
		engine:      engine,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: engine,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/windows/:id/subscriptions", s.handleSubscribe)
		v1.DELETE("/windows/:id/subscriptions", s.handleUnsubscribe)
		v1.GET("/windows/:id/subscriptions", s.handleListSubscriptions)
		v1.DELETE("/windows/:id", s.handleTeardown)

		v1.GET("/orders/unified", s.handleUnifiedQuery)
		v1.POST("/orders/cancel-batch", s.handleCancelBatch)
		v1.POST("/orders/cancel-all", s.handleCancelAll)
	}
}

// Handler exposes the gin engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type subscribeRequest struct {
	Code        string           `json:"code" binding:"required"`
	QuoteType   models.QuoteType `json:"quote_type" binding:"required"`
	LotFlag     bool             `json:"lot_flag"`
	Symbol      string           `json:"symbol"`
	Exchange    string           `json:"exchange"`
	ProductType string           `json:"product_type"`
}

type unsubscribeRequest struct {
	Code      string           `json:"code" binding:"required"`
	QuoteType models.QuoteType `json:"quote_type" binding:"required"`
	LotFlag   bool             `json:"lot_flag"`
}

func (s *Server) handleSubscribe(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contract := models.Contract{
		ActualCode:  req.Code,
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		ProductType: req.ProductType,
	}
	if err := s.coordinator.SubscribeWindow(c.Request.Context(), windowID, contract, req.QuoteType, req.LotFlag); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

func (s *Server) handleUnsubscribe(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coordinator.UnsubscribeWindow(c.Request.Context(), windowID, req.Code, req.QuoteType, req.LotFlag); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

func (s *Server) handleListSubscriptions(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}
	records := s.coordinator.Registry().GetWindowSubscriptions(windowID)
	c.JSON(http.StatusOK, gin.H{"subscriptions": records})
}

func (s *Server) handleTeardown(c *gin.Context) {
	windowID, ok := windowParam(c)
	if !ok {
		return
	}
	if err := s.coordinator.TeardownWindow(c.Request.Context(), windowID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"torn_down": true})
}

func (s *Server) handleUnifiedQuery(c *gin.Context) {
	contract := c.Query("contract")
	side := c.Query("side")
	refresh := c.Query("refresh") == "true"

	res, err := s.aggregator.UnifiedQuery(c.Request.Context(), contract, side, refresh)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type cancelBatchRequest struct {
	Orders         []models.Order `json:"orders" binding:"required,min=1"`
	MaxParallelism int            `json:"max_parallelism"`
	AutoRefresh    *bool          `json:"auto_refresh"`
}

func (s *Server) handleCancelBatch(c *gin.Context) {
	var req cancelBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	autoRefresh := true
	if req.AutoRefresh != nil {
		autoRefresh = *req.AutoRefresh
	}
	result := s.executor.CancelBatch(c.Request.Context(), req.Orders, req.MaxParallelism, autoRefresh)
	c.JSON(http.StatusOK, result)
}

type cancelAllRequest struct {
	Contract string `json:"contract"`
	Side     string `json:"side"`
}

func (s *Server) handleCancelAll(c *gin.Context) {
	// An absent or empty body means "everything".
	var req cancelAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		result models.BatchCancelResult
		err    error
	)
	if req.Contract != "" {
		result, err = s.executor.CancelAllForContract(c.Request.Context(), req.Contract, req.Side)
	} else {
		result, err = s.executor.CancelAll(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func windowParam(c *gin.Context) (uuid.UUID, bool) {
	windowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window id must be a uuid"})
		return uuid.Nil, false
	}
	return windowID, true
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch pkgerrors.KindOf(err) {
	case pkgerrors.KindValidation:
		status = http.StatusBadRequest
	case pkgerrors.KindDuplicateSubscription:
		status = http.StatusConflict
	case pkgerrors.KindNotSubscribed:
		status = http.StatusNotFound
	case pkgerrors.KindUpstreamTimeout:
		status = http.StatusGatewayTimeout
	case pkgerrors.KindUpstreamRejection:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(pkgerrors.KindOf(err))})
}
