// Package server exposes the billing engine over HTTP: the provider webhook
// endpoint, quota and entitlement checks, usage ingest, and the operator
// admin surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingservice "github.com/smallbiznis/couture/internal/billing/service"
	"github.com/smallbiznis/couture/internal/billing/verifier"
	"github.com/smallbiznis/couture/internal/config"
	"github.com/smallbiznis/couture/internal/observability"
	"github.com/smallbiznis/couture/internal/observability/metrics"
	plandomain "github.com/smallbiznis/couture/internal/plan/domain"
	"github.com/smallbiznis/couture/internal/plan/publisher"
	quotaservice "github.com/smallbiznis/couture/internal/quota/service"
	usageservice "github.com/smallbiznis/couture/internal/usage/service"
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	verifier   *verifier.Verifier
	billingSvc *billingservice.Service
	quotaSvc   *quotaservice.Service
	usageSvc   *usageservice.Service
	planSvc    plandomain.Service
	publisher  *publisher.Publisher
	metrics    *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Verifier   *verifier.Verifier
	BillingSvc *billingservice.Service
	QuotaSvc   *quotaservice.Service
	UsageSvc   *usageservice.Service
	PlanSvc    plandomain.Service
	Publisher  *publisher.Publisher
	Metrics    *metrics.Metrics
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		verifier:   p.Verifier,
		billingSvc: p.BillingSvc,
		quotaSvc:   p.QuotaSvc,
		usageSvc:   p.UsageSvc,
		planSvc:    p.PlanSvc,
		publisher:  p.Publisher,
		metrics:    p.Metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/billing/webhooks/:provider", s.handleProviderWebhook)
	api.POST("/usage", s.handleRecordUsage)

	orgs := api.Group("/organizations/:id")
	orgs.GET("/quota/:resource", s.handleQuotaCheck)
	orgs.POST("/quota/:resource/reserve", s.handleQuotaReserve)
	orgs.GET("/features/:feature", s.handleFeatureCheck)

	admin := api.Group("/admin")
	admin.POST("/organizations/:id/billing/sync", s.handleForceSync)
	admin.POST("/plans/sync", s.handlePlansSync)
	admin.GET("/inconsistencies", s.handleListInconsistencies)
}

func run(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Module wires the gin engine, route registration, and server lifecycle.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine, NewServer),
	fx.Invoke(run),
)
