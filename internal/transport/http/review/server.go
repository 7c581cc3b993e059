package reviewhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradelens/internal/logger"
	"tradelens/internal/metrics"
	"tradelens/internal/position"
	"tradelens/internal/review"
	"tradelens/internal/store"

	"github.com/gin-gonic/gin"
)

// RunStore 是看板读取复盘结果所需的查询接口，由 store.Store 实现。
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	LatestRun(ctx context.Context) (store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListSymbols(ctx context.Context, runID string) ([]store.SymbolResult, error)
	ListPositions(ctx context.Context, runID, symbol string) ([]position.Position, error)
}

// Reviewer 提交与查询异步复盘任务，由 review.Service 实现。
type Reviewer interface {
	Submit(req review.Request) (review.Job, error)
	Job(id string) (review.Job, bool)
	Jobs() []review.Job
	Rebuild(ctx context.Context, runID string, policy position.Policy) (review.Result, error)
	DefaultPolicy() position.Policy
}

// Server 提供复盘看板与查询 API。
type Server struct {
	addr     string
	router   *gin.Engine
	runs     RunStore
	reviewer Reviewer
	candles  review.CandleProvider
	charts   *review.ChartWriter
}

// Config 描述看板依赖；Reviewer/Candles/Charts 可为空，对应接口返回 503。
type Config struct {
	Addr     string
	Runs     RunStore
	Reviewer Reviewer
	Candles  review.CandleProvider
	Charts   *review.ChartWriter
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:     cfg.Addr,
		router:   router,
		runs:     cfg.Runs,
		reviewer: cfg.Reviewer,
		candles:  cfg.Candles,
		charts:   cfg.Charts,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/chart/:id/:symbol", s.handleChart)

	api := s.router.Group("/api")
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/latest", s.handleLatestRun)
	api.GET("/runs/:id", s.handleRun)
	api.GET("/runs/:id/symbols", s.handleRunSymbols)
	api.GET("/runs/:id/positions", s.handleRunPositions)
	api.GET("/runs/:id/stats", s.handleRunStats)
	api.POST("/runs/:id/rebuild", s.handleRebuild)
	api.POST("/reviews", s.handleSubmit)
	api.GET("/reviews", s.handleJobs)
	api.GET("/reviews/:id", s.handleJob)
	api.GET("/candles", s.handleCandles)
}

// Handler 暴露路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger 以 debug 级别记录每个请求。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 看板监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
