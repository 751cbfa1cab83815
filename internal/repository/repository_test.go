package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setup in-memory DB
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

func TestConnectionUpdateVersioned(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewConnectionRepository(dbase)

	conn := &db.Connection{
		MatchID: 1, UserAID: 1, UserBID: 2,
		CurrentDay: 1, Status: db.ConnectionActive,
		StartedAt: time.Now(), LastHandshakeAt: time.Now(),
	}
	require.NoError(t, repo.Create(ctx, conn))

	conn.CurrentDay = 2
	require.NoError(t, repo.UpdateVersioned(ctx, conn))
	assert.Equal(t, uint64(1), conn.Version)

	// a stale writer carrying the old version must fail
	stale := *conn
	stale.Version = 0
	stale.CurrentDay = 3
	err := repo.UpdateVersioned(ctx, &stale)
	assert.ErrorIs(t, err, svcErr.ErrConcurrentModification)

	fresh, err := repo.Find(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.CurrentDay)
}

func TestHandshakeOpenIdempotent(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewHandshakeRepository(dbase)

	hs := &db.DailyHandshake{ConnectionID: 7, Day: 3, Deadline: time.Now().Add(3 * time.Hour)}
	created, err := repo.Open(ctx, hs)
	require.NoError(t, err)
	assert.True(t, created)

	// a second open for the same (connection, day) is a no-op
	dup := &db.DailyHandshake{ConnectionID: 7, Day: 3, Deadline: time.Now().Add(5 * time.Hour)}
	created, err = repo.Open(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := repo.FindByConnectionAndDay(ctx, 7, 3)
	require.NoError(t, err)
	assert.False(t, stored.Resolved)
}

func TestHandshakeVersionedRace(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewHandshakeRepository(dbase)

	hs := &db.DailyHandshake{ConnectionID: 1, Day: 1, Deadline: time.Now().Add(3 * time.Hour)}
	_, err := repo.Open(ctx, hs)
	require.NoError(t, err)

	// two racing submissions both start from version 0
	first := *hs
	second := *hs

	no := false
	first.ResponseA = &no
	first.Resolved = true
	first.Outcome = db.OutcomeEnded
	require.NoError(t, repo.UpdateVersioned(ctx, &first))

	yes := true
	second.ResponseB = &yes
	err = repo.UpdateVersioned(ctx, &second)
	assert.ErrorIs(t, err, svcErr.ErrConcurrentModification)

	stored, err := repo.FindByConnectionAndDay(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, stored.Resolved)
	assert.Equal(t, db.OutcomeEnded, stored.Outcome)
}

func TestSlotReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSlotRepository(dbase)

	require.NoError(t, repo.EnsureForUser(ctx, 1, db.FreeSlots))

	slots, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, slots, db.PremiumSlots)
	assert.Equal(t, db.SlotEmpty, slots[0].Status)
	assert.Equal(t, db.SlotLocked, slots[1].Status)
	assert.Equal(t, db.SlotLocked, slots[2].Status)

	slot, err := repo.Reserve(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, db.SlotWaiting, slot.Status)

	// only one empty slot on the free tier
	_, err = repo.Reserve(ctx, 1, 43)
	assert.ErrorIs(t, err, svcErr.ErrNoCapacity)

	require.NoError(t, repo.ReleaseByMatch(ctx, 42))
	count, err := repo.CountEmpty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSlotBindConnection(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSlotRepository(dbase)

	require.NoError(t, repo.EnsureForUser(ctx, 1, db.FreeSlots))
	require.NoError(t, repo.EnsureForUser(ctx, 2, db.FreeSlots))

	_, err := repo.Reserve(ctx, 1, 9)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, 2, 9)
	require.NoError(t, err)

	require.NoError(t, repo.BindConnection(ctx, 9, 77))

	bound, err := repo.ListByConnection(ctx, 77)
	require.NoError(t, err)
	require.Len(t, bound, 2)
	for _, s := range bound {
		assert.Equal(t, db.SlotActive, s.Status)
		assert.Nil(t, s.MatchID)
	}
}

func TestMessageListPaginationAndUnread(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewMessageRepository(dbase)

	for i := 0; i < 7; i++ {
		msg := &db.Message{ConnectionID: 5, SenderID: 1, Kind: db.MessageText, Content: "m"}
		require.NoError(t, repo.Append(ctx, msg))
	}

	page1, next, err := repo.List(ctx, 5, nil, 5)
	require.NoError(t, err)
	assert.Len(t, page1, 5)
	require.NotNil(t, next)

	page2, next2, err := repo.List(ctx, 5, next, 5)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Nil(t, next2)

	// all 7 unread for the partner, none for the sender
	count, err := repo.CountUnread(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	count, err = repo.CountUnread(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, repo.MarkRead(ctx, 5, 2))
	count, err = repo.CountUnread(ctx, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
