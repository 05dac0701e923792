package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"affiliate-controlplane/pkg/config"
	"affiliate-controlplane/pkg/db"
	"affiliate-controlplane/pkg/logger"
	"affiliate-controlplane/pkg/redis"
	"affiliate-controlplane/pkg/task"
	"affiliate-controlplane/services/click"
	"affiliate-controlplane/services/link"
	"affiliate-controlplane/services/notification"
	"affiliate-controlplane/services/partner"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		partner.Module,
		link.Module,
		click.Module,
		notification.Module,
		link.Worker,
		notification.Worker,
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
