package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/subledger/docs"
	"github.com/fatflowers/subledger/internal/app/api/handlers"
	mw "github.com/fatflowers/subledger/internal/app/api/middleware"
	"github.com/fatflowers/subledger/internal/app/service/checkout"
	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/portal"
	"github.com/fatflowers/subledger/internal/app/service/reconcile"
	"github.com/fatflowers/subledger/internal/app/service/statistics"
	subsvc "github.com/fatflowers/subledger/internal/app/service/subscription"
	cfgpkg "github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log       *zap.SugaredLogger
	Cfg       *cfgpkg.Config
	DB        *gorm.DB
	Processor *reconcile.Processor
	Store     *ledger.Store
	Checkout  *checkout.Service
	Portal    *portal.Service
	Subs      *subsvc.Service
	Stats     *statistics.Service
}

func registerRoutes(r *gin.Engine, d routeDeps) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	log := d.Log

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, sqlDB)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	// Signed by the gateway, not by a session token
	handlers.RegisterWebhookRoutes(apiV1.Group("/webhooks"), d.Processor, log)

	auth := mw.AuthMiddleware(d.Cfg.Auth, log)
	handlers.RegisterBillingRoutes(apiV1.Group("/billing", auth), d.Checkout, d.Portal, d.Subs, log)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin", auth, mw.RequireAdmin()), d.Store, d.Processor, d.Stats, log)
	return nil
}

// registerMetrics serves Prometheus on its own listener so scrapes stay out of
// the API access log.
func registerMetrics(lc fx.Lifecycle, r *gin.Engine, cfg *cfgpkg.Config, log *zap.SugaredLogger) {
	if cfg.MetricsAddr == "" {
		return
	}
	p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
		ReqCntURLLabelMappingFn: func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		},
		Logger: log,
	})
	p.SetListenAddress(cfg.MetricsAddr)
	p.Use(r)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start()
			return nil
		},
		OnStop: p.Stop,
	})
}

func runServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	// metrics middleware must be installed before any route
	fx.Invoke(registerMetrics),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
