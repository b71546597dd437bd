package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/snapvend/snapvend/internal/checkout"
	"github.com/snapvend/snapvend/internal/clock"
	"github.com/snapvend/snapvend/internal/config"
	"github.com/snapvend/snapvend/internal/event"
	"github.com/snapvend/snapvend/internal/fees"
	"github.com/snapvend/snapvend/internal/gateway"
	"github.com/snapvend/snapvend/internal/idempotency"
	"github.com/snapvend/snapvend/internal/ledger"
	"github.com/snapvend/snapvend/internal/migration"
	"github.com/snapvend/snapvend/internal/observability"
	"github.com/snapvend/snapvend/internal/payout"
	"github.com/snapvend/snapvend/internal/plan"
	"github.com/snapvend/snapvend/internal/providers"
	"github.com/snapvend/snapvend/internal/ratelimit"
	"github.com/snapvend/snapvend/internal/scheduler"
	"github.com/snapvend/snapvend/internal/server"
	"github.com/snapvend/snapvend/internal/subscription"
	"github.com/snapvend/snapvend/internal/wallet"
	"github.com/snapvend/snapvend/internal/webhook"
	"github.com/snapvend/snapvend/pkg/db"
)

func main() {
	fx.New(
		config.Module,
		clock.Module,
		observability.Module,
		db.Module,
		migration.Module,
		fx.Provide(newSnowflakeNode),
		ratelimit.Module,
		fees.Module,
		gateway.Module,
		event.Module,
		wallet.Module,
		plan.Module,
		idempotency.Module,
		providers.Module,
		checkout.Module,
		subscription.Module,
		ledger.Module,
		payout.Module,
		webhook.Module,
		scheduler.Module,
		server.Module,
	).Run()
}

func newSnowflakeNode(cfg config.Config, log *zap.Logger) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNodeID)
	if err != nil {
		return nil, err
	}
	log.Info("snowflake node ready", zap.Int64("node_id", cfg.SnowflakeNodeID))
	return node, nil
}
