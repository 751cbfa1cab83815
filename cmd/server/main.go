package main

import (
	"context"

	"github.com/alignhq/alignment-protocol/internal/api"
	"github.com/alignhq/alignment-protocol/internal/app"
	"github.com/alignhq/alignment-protocol/internal/cache"
	"github.com/alignhq/alignment-protocol/internal/clock"
	"github.com/alignhq/alignment-protocol/internal/config"
	"github.com/alignhq/alignment-protocol/internal/db"
	"github.com/alignhq/alignment-protocol/internal/logger"
	"github.com/alignhq/alignment-protocol/internal/notify"
	"github.com/alignhq/alignment-protocol/internal/server"
	"github.com/alignhq/alignment-protocol/internal/service/matching"
	"github.com/alignhq/alignment-protocol/internal/service/protocol"
	"github.com/alignhq/alignment-protocol/internal/service/slots"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	appCtx := app.New(database, redisCache, log, clock.System{}, notify.NewLogNotifier(log), cfg)

	slotsSvc := slots.NewService(appCtx)
	matchingSvc := matching.NewService(appCtx)
	protocolSvc := protocol.NewService(appCtx, slotsSvc)

	// background sweep: the sole source of time-based state change
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sweeper := clock.NewSweeper(appCtx.Clock, cfg.Protocol.SweepInterval, log, protocolSvc, matchingSvc)
	go sweeper.Run(sweepCtx)

	handler := api.NewHandler(appCtx, protocolSvc, matchingSvc, slotsSvc)
	fiberApp := server.New(handler)

	addr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	log.Info("starting protocol server", "addr", addr)

	if err := server.Start(cfg, fiberApp); err != nil {
		log.Error("failed to start http server", "err", err)
	}
}
