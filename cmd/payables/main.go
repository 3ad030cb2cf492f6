package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/migration"
	"github.com/smallbiznis/payables/internal/observability"
	"github.com/smallbiznis/payables/internal/scheduler"
	"github.com/smallbiznis/payables/internal/server"
	"github.com/smallbiznis/payables/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger API and background jobs
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
