package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"affiliate-controlplane/internal/httpapi"
	"affiliate-controlplane/internal/server"
	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/db"
	"affiliate-controlplane/pkg/health"
	"affiliate-controlplane/pkg/logger"
	"affiliate-controlplane/pkg/redis"
	"affiliate-controlplane/pkg/sequence"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/services/click"
	"affiliate-controlplane/services/commission"
	"affiliate-controlplane/services/experiment"
	"affiliate-controlplane/services/fraud"
	"affiliate-controlplane/services/link"
	"affiliate-controlplane/services/notification"
	"affiliate-controlplane/services/partner"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(db.Otel, db.Metric),
		redis.Module,
		task.Client,
		sequence.Module,
		health.Module,
		fx.Provide(provideSnowflakeNode),
		partner.Module,
		link.Module,
		click.Module,
		fraud.Module,
		commission.Module,
		experiment.Module,
		notification.Module,
		server.Module,
		httpapi.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
