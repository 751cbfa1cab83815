package slots_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/app"
	"github.com/alignhq/alignment-protocol/internal/cache"
	"github.com/alignhq/alignment-protocol/internal/clock"
	"github.com/alignhq/alignment-protocol/internal/config"
	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/notify"
	"github.com/alignhq/alignment-protocol/internal/service/slots"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*slots.Service, *gorm.DB) {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbase, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := dbase.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(dbase))

	require.NoError(t, dbase.Create(&db.User{
		ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x",
		Gender: "male", Seeking: "women", Tier: db.TierPremium,
	}).Error)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	appCtx := app.New(dbase, cache.NewRedisCache(cfg), logger, clock.NewFake(testStart), notify.NewLogNotifier(logger), cfg)
	return slots.NewService(appCtx), dbase
}

func statuses(t *testing.T, dbase *gorm.DB, userID uint64) []string {
	t.Helper()
	var rows []db.ConnectionSlot
	require.NoError(t, dbase.Where("user_id = ?", userID).Order("idx ASC").Find(&rows).Error)
	out := make([]string, len(rows))
	for i, s := range rows {
		out[i] = s.Status
	}
	return out
}

func TestCapacityFor(t *testing.T) {
	assert.Equal(t, 1, slots.CapacityFor(db.TierFree))
	assert.Equal(t, 3, slots.CapacityFor(db.TierPremium))
	assert.Equal(t, 1, slots.CapacityFor("unknown"))
}

func TestEnsureSlotsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, dbase := setupService(t)

	require.NoError(t, svc.EnsureSlots(ctx, 1))
	assert.Equal(t, []string{db.SlotEmpty, db.SlotEmpty, db.SlotEmpty}, statuses(t, dbase, 1))

	// reentrant: no duplicate rows, no status churn
	require.NoError(t, svc.EnsureSlots(ctx, 1))
	assert.Equal(t, []string{db.SlotEmpty, db.SlotEmpty, db.SlotEmpty}, statuses(t, dbase, 1))

	assert.ErrorIs(t, svc.EnsureSlots(ctx, 999), svcErr.ErrUnknownUser)
}

func TestDowngradeLocksEmptyOnly(t *testing.T) {
	ctx := context.Background()
	svc, dbase := setupService(t)
	require.NoError(t, svc.EnsureSlots(ctx, 1))

	// slot 2 holds a running connection
	connID := uint64(7)
	require.NoError(t, dbase.Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND idx = ?", 1, 2).
		Updates(map[string]any{"status": db.SlotActive, "connection_id": connID}).Error)

	require.NoError(t, svc.ChangeTier(ctx, 1, db.TierFree))

	// empty slot 3 locks; active slot 2 keeps running past capacity
	assert.Equal(t, []string{db.SlotEmpty, db.SlotActive, db.SlotLocked}, statuses(t, dbase, 1))

	ok, err := svc.HasEmpty(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAfterDowngradeLocks(t *testing.T) {
	ctx := context.Background()
	svc, dbase := setupService(t)
	require.NoError(t, svc.EnsureSlots(ctx, 1))

	connID := uint64(7)
	require.NoError(t, dbase.Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND idx = ?", 1, 3).
		Updates(map[string]any{"status": db.SlotActive, "connection_id": connID}).Error)

	require.NoError(t, svc.ChangeTier(ctx, 1, db.TierFree))
	require.NoError(t, svc.ReleaseForConnection(ctx, connID))

	// the freed slot exceeds the free capacity, so it comes back locked
	assert.Equal(t, []string{db.SlotEmpty, db.SlotLocked, db.SlotLocked}, statuses(t, dbase, 1))
}

func TestUpgradeUnlocks(t *testing.T) {
	ctx := context.Background()
	svc, dbase := setupService(t)
	require.NoError(t, svc.EnsureSlots(ctx, 1))

	require.NoError(t, svc.ChangeTier(ctx, 1, db.TierFree))
	assert.Equal(t, []string{db.SlotEmpty, db.SlotLocked, db.SlotLocked}, statuses(t, dbase, 1))

	require.NoError(t, svc.ChangeTier(ctx, 1, db.TierPremium))
	assert.Equal(t, []string{db.SlotEmpty, db.SlotEmpty, db.SlotEmpty}, statuses(t, dbase, 1))
}

func TestChangeTierValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	assert.ErrorIs(t, svc.ChangeTier(ctx, 1, "gold"), svcErr.ErrInvalidTier)
	assert.ErrorIs(t, svc.ChangeTier(ctx, 999, db.TierFree), svcErr.ErrUnknownUser)

	_, err := svc.ListForUser(ctx, 999)
	assert.ErrorIs(t, err, svcErr.ErrUnknownUser)
}
