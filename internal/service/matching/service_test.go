package matching_test

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
	"github.com/alignhq/alignment-protocol/internal/service/matching"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// setupService spins up an in-memory SQLite DB, seeds two users with
// their slot rows, starts a miniredis, and wires a matching service
// with a fake clock.
func setupService(t *testing.T) (*matching.Service, *clock.Fake, *gorm.DB) {
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

	users := []db.User{
		{ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x", Gender: "male", Seeking: "women", Tier: db.TierFree},
		{ID: 2, Username: "user2", Email: "u2@test.com", PasswordHash: "x", Gender: "female", Seeking: "men", Tier: db.TierFree},
		{ID: 3, Username: "user3", Email: "u3@test.com", PasswordHash: "x", Gender: "female", Seeking: "men", Tier: db.TierPremium},
	}
	require.NoError(t, dbase.Create(&users).Error)

	for _, u := range users {
		capacity := db.FreeSlots
		if u.Tier == db.TierPremium {
			capacity = db.PremiumSlots
		}
		for idx := 1; idx <= db.PremiumSlots; idx++ {
			status := db.SlotEmpty
			if idx > capacity {
				status = db.SlotLocked
			}
			require.NoError(t, dbase.Create(&db.ConnectionSlot{UserID: u.ID, Idx: idx, Status: status}).Error)
		}
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	fake := clock.NewFake(testStart)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // discard logs in tests

	appCtx := app.New(dbase, cache.NewRedisCache(cfg), logger, fake, notify.NewLogNotifier(logger), cfg)
	return matching.NewService(appCtx), fake, dbase
}

func slotStatuses(t *testing.T, dbase *gorm.DB, userID uint64) []string {
	t.Helper()
	var slots []db.ConnectionSlot
	require.NoError(t, dbase.Where("user_id = ?", userID).Order("idx ASC").Find(&slots).Error)
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Status
	}
	return out
}

func TestProposeInvalidScore(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	_, err := svc.Propose(ctx, 1, 2, 101, nil)
	assert.ErrorIs(t, err, svcErr.ErrInvalidScore)

	_, err = svc.Propose(ctx, 1, 2, -1, nil)
	assert.ErrorIs(t, err, svcErr.ErrInvalidScore)
}

func TestProposeNoAvailableSlot(t *testing.T) {
	ctx := context.Background()
	svc, _, dbase := setupService(t)

	// occupy user1's only free-tier slot
	require.NoError(t, dbase.Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND idx = 1", uint64(1)).
		Update("status", db.SlotActive).Error)

	_, err := svc.Propose(ctx, 1, 2, 85, nil)
	assert.ErrorIs(t, err, svcErr.ErrNoAvailableSlot)
}

func TestMutualAcceptCreatesConnection(t *testing.T) {
	ctx := context.Background()
	svc, _, dbase := setupService(t)

	match, err := svc.Propose(ctx, 1, 2, 92, []string{"Shared values"})
	require.NoError(t, err)

	match, err = svc.Respond(ctx, match.ID, 1, true)
	require.NoError(t, err)
	assert.Equal(t, db.MatchPending, match.Status)
	assert.Equal(t, []string{db.SlotWaiting, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 1))

	match, err = svc.Respond(ctx, match.ID, 2, true)
	require.NoError(t, err)
	assert.Equal(t, db.MatchAccepted, match.Status)

	var conn db.Connection
	require.NoError(t, dbase.Where("match_id = ?", match.ID).First(&conn).Error)
	assert.Equal(t, 1, conn.CurrentDay)
	assert.Equal(t, db.ConnectionActive, conn.Status)
	assert.WithinDuration(t, testStart, conn.StartedAt, time.Second)

	assert.Equal(t, []string{db.SlotActive, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 1))
	assert.Equal(t, []string{db.SlotActive, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 2))
}

// A pass anywhere in the flow (even after one accept) yields declined,
// never a connection.
func TestPassAfterAcceptDeclines(t *testing.T) {
	ctx := context.Background()
	svc, _, dbase := setupService(t)

	match, err := svc.Propose(ctx, 1, 2, 75, nil)
	require.NoError(t, err)

	_, err = svc.Respond(ctx, match.ID, 1, true)
	require.NoError(t, err)

	match, err = svc.Respond(ctx, match.ID, 2, false)
	require.NoError(t, err)
	assert.Equal(t, db.MatchDeclined, match.Status)

	// the waiting reservation is freed
	assert.Equal(t, []string{db.SlotEmpty, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 1))

	var count int64
	require.NoError(t, dbase.Model(&db.Connection{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRespondFailures(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	_, err := svc.Respond(ctx, 999, 1, true)
	assert.ErrorIs(t, err, svcErr.ErrUnknownMatch)

	match, err := svc.Propose(ctx, 1, 2, 80, nil)
	require.NoError(t, err)

	_, err = svc.Respond(ctx, match.ID, 3, true)
	assert.ErrorIs(t, err, svcErr.ErrNotAParticipant)

	_, err = svc.Respond(ctx, match.ID, 1, true)
	require.NoError(t, err)
	_, err = svc.Respond(ctx, match.ID, 1, true)
	assert.ErrorIs(t, err, svcErr.ErrAlreadyResponded)

	_, err = svc.Respond(ctx, match.ID, 2, false)
	require.NoError(t, err)
	_, err = svc.Respond(ctx, match.ID, 2, true)
	assert.ErrorIs(t, err, svcErr.ErrAlreadyResponded)
}

// Both sides accept concurrently: each reads the match before the
// other's write lands. The loser of the versioned write must roll back
// only its own reservation; freeing the partner's waiting slot would
// leave the promoted connection half-bound.
func TestConcurrentMutualAcceptKeepsBothSlots(t *testing.T) {
	ctx := context.Background()
	svc, _, dbase := setupService(t)

	match, err := svc.Propose(ctx, 1, 2, 90, nil)
	require.NoError(t, err)

	// slip user1's accept in just before user2's match write executes,
	// so user2's first attempt fails the version check and retries
	injected := false
	err = dbase.Callback().Update().Before("gorm:update").Register("partner_accept", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "matches" {
			return
		}
		injected = true
		_, err := svc.Respond(ctx, match.ID, 1, true)
		assert.NoError(t, err)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbase.Callback().Update().Remove("partner_accept") })

	stored, err := svc.Respond(ctx, match.ID, 2, true)
	require.NoError(t, err)
	assert.True(t, injected)
	assert.Equal(t, db.MatchAccepted, stored.Status)

	var count int64
	require.NoError(t, dbase.Model(&db.Connection{}).Where("match_id = ?", match.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// both sides hold an active slot bound to the connection
	assert.Equal(t, []string{db.SlotActive, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 1))
	assert.Equal(t, []string{db.SlotActive, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 2))
}

func TestExpirySweepFreesReservation(t *testing.T) {
	ctx := context.Background()
	svc, fake, dbase := setupService(t)

	match, err := svc.Propose(ctx, 1, 2, 88, nil)
	require.NoError(t, err)
	_, err = svc.Respond(ctx, match.ID, 1, true)
	require.NoError(t, err)

	fake.Advance(25 * time.Hour)

	// a late response is rejected before the sweep runs
	_, err = svc.Respond(ctx, match.ID, 2, true)
	assert.ErrorIs(t, err, svcErr.ErrMatchExpired)

	require.NoError(t, svc.Sweep(ctx, fake.Now()))

	stored, err := svc.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, db.MatchExpired, stored.Status)
	assert.Equal(t, []string{db.SlotEmpty, db.SlotLocked, db.SlotLocked}, slotStatuses(t, dbase, 1))
}
