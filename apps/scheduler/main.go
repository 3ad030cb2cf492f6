package main

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payables/internal/audit"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/lock"
	"github.com/smallbiznis/payables/internal/observability"
	"github.com/smallbiznis/payables/internal/scheduler"
	"github.com/smallbiznis/payables/internal/supplierdocument"
	"github.com/smallbiznis/payables/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		lock.Module,
		audit.Module,
		supplierdocument.Module,
		scheduler.Module,

		// No API server, only the metrics endpoint
		fx.Invoke(ServeMetrics),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func ServeMetrics(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
