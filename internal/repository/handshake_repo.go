package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
)

// HandshakeRepository provides data access methods for DailyHandshake
// records. The (connection_id, day) unique index makes window opening
// idempotent across overlapping sweeps.
type HandshakeRepository struct {
	db *gorm.DB
}

// NewHandshakeRepository creates a new repository bound to the given DB connection.
func NewHandshakeRepository(database *gorm.DB) *HandshakeRepository {
	return &HandshakeRepository{db: database}
}

// Open inserts the day's handshake record, ignoring the insert when a
// concurrent sweep already created it. Returns true when this call
// created the row.
func (r *HandshakeRepository) Open(ctx context.Context, hs *db.DailyHandshake) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connection_id"}, {Name: "day"}},
			DoNothing: true,
		}).
		Create(hs)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindByConnectionAndDay loads a specific day's handshake.
func (r *HandshakeRepository) FindByConnectionAndDay(ctx context.Context, connectionID uint64, day int) (*db.DailyHandshake, error) {
	var hs db.DailyHandshake
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND day = ?", connectionID, day).
		First(&hs).Error
	if err != nil {
		return nil, err
	}
	return &hs, nil
}

// UpdateVersioned writes the handshake's mutable fields guarded by its
// optimistic version. The per-record version serializes the two racing
// decision submissions: whichever write lands second sees zero rows
// and gets ErrConcurrentModification.
func (r *HandshakeRepository) UpdateVersioned(ctx context.Context, hs *db.DailyHandshake) error {
	expected := hs.Version
	res := r.db.WithContext(ctx).
		Model(&db.DailyHandshake{}).
		Where("id = ? AND version = ?", hs.ID, expected).
		Updates(map[string]any{
			"response_a": hs.ResponseA,
			"response_b": hs.ResponseB,
			"resolved":   hs.Resolved,
			"outcome":    hs.Outcome,
			"version":    expected + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.ErrConcurrentModification
	}
	hs.Version = expected + 1
	return nil
}

// ListUnresolvedExpired returns handshakes past their deadline that
// still await resolution (the silence = no sweep input).
func (r *HandshakeRepository) ListUnresolvedExpired(ctx context.Context, now time.Time) ([]db.DailyHandshake, error) {
	var hss []db.DailyHandshake
	err := r.db.WithContext(ctx).
		Where("resolved = ? AND deadline < ?", false, now).
		Find(&hss).Error
	return hss, err
}
