package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payables/internal/clock"
	"github.com/smallbiznis/payables/internal/config"
	"github.com/smallbiznis/payables/internal/migration"
	"github.com/smallbiznis/payables/internal/observability"
	"github.com/smallbiznis/payables/internal/server"
	"github.com/smallbiznis/payables/pkg/db"
	"go.uber.org/fx"
)

// The api binary serves the ledger HTTP API without background jobs. Run
// apps/scheduler next to it for the alert scan.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
