package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/cache"
	"github.com/alignhq/alignment-protocol/internal/clock"
	"github.com/alignhq/alignment-protocol/internal/config"
	"github.com/alignhq/alignment-protocol/internal/notify"
)

// AppContext holds shared dependencies (DB, Redis, Logger, Clock, etc.)
type AppContext struct {
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Clock      clock.Clock
	Notifier   notify.Notifier
	Config     *config.Config
}

// New creates a new AppContext
func New(db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, clk clock.Clock, notifier notify.Notifier, cfg *config.Config) *AppContext {
	return &AppContext{
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Clock:      clk,
		Notifier:   notifier,
		Config:     cfg,
	}
}
