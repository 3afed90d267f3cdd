// Package admin 提供管线的管理 HTTP 接口
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/houzhh15/geoip-filter/internal/geoip"
	"github.com/houzhh15/geoip-filter/internal/pipeline"
)

// StatusSource 管线状态来源（*pipeline.Pipeline 满足该接口）
type StatusSource interface {
	Stats() *pipeline.PipelineStats
	HealthCheck() error
}

// Options 管理接口选项
type Options struct {
	Addr        string
	MetricsPath string
	Version     string
	// Gatherer 为空时使用 prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	// Database 当前使用的数据库，可为空
	Database *geoip.Info
}

// Server 管理 HTTP 服务
type Server struct {
	opts   Options
	source StatusSource
	router *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// NewServer 创建管理服务
func NewServer(opts Options, source StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		opts:   opts,
		source: source,
		router: router,
		logger: logger,
	}
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/stats", s.stats)
	s.router.GET(s.opts.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) health(c *gin.Context) {
	if err := s.source.HealthCheck(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": s.opts.Version,
	})
}

func (s *Server) stats(c *gin.Context) {
	resp := gin.H{"pipeline": s.source.Stats()}
	if s.opts.Database != nil {
		resp["database"] = s.opts.Database
	}
	c.JSON(http.StatusOK, resp)
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台启动监听，监听失败时立即返回错误
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
