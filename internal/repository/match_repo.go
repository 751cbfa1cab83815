package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
)

// MatchRepository provides data access methods for the Match model.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// Create inserts a new proposed match.
func (r *MatchRepository) Create(ctx context.Context, match *db.Match) error {
	return r.db.WithContext(ctx).Create(match).Error
}

// Find loads a match by id.
func (r *MatchRepository) Find(ctx context.Context, matchID uint64) (*db.Match, error) {
	var match db.Match
	if err := r.db.WithContext(ctx).First(&match, matchID).Error; err != nil {
		return nil, err
	}
	return &match, nil
}

// UpdateVersioned writes the match's mutable fields guarded by its
// optimistic version. The in-memory version is bumped on success and
// left untouched on failure.
//
// Behavior:
//   - The UPDATE carries "WHERE version = <last seen>".
//   - Zero rows affected means a concurrent writer won; the caller
//     gets ErrConcurrentModification and must re-read before retrying.
func (r *MatchRepository) UpdateVersioned(ctx context.Context, match *db.Match) error {
	expected := match.Version
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ? AND version = ?", match.ID, expected).
		Updates(map[string]any{
			"status":     match.Status,
			"response_a": match.ResponseA,
			"response_b": match.ResponseB,
			"version":    expected + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.ErrConcurrentModification
	}
	match.Version = expected + 1
	return nil
}

// ListExpiredPending returns matches still open past their deadline,
// including half-accepted ones (status stays pending until terminal).
func (r *MatchRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]db.Match, error) {
	var matches []db.Match
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", db.MatchPending, now).
		Find(&matches).Error
	return matches, err
}
