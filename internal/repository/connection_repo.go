package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
)

// ConnectionRepository provides data access methods for the Connection
// model, the durable source of truth for the 21-day protocol.
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new repository bound to the given DB connection.
func NewConnectionRepository(database *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: database}
}

// Create inserts a new connection (mutual acceptance).
func (r *ConnectionRepository) Create(ctx context.Context, conn *db.Connection) error {
	return r.db.WithContext(ctx).Create(conn).Error
}

// Find loads a connection by id. Archived connections stay readable.
func (r *ConnectionRepository) Find(ctx context.Context, connectionID uint64) (*db.Connection, error) {
	var conn db.Connection
	if err := r.db.WithContext(ctx).First(&conn, connectionID).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// UpdateVersioned writes the connection's mutable fields guarded by
// its optimistic version (single writer per entity). Zero rows
// affected → ErrConcurrentModification; caller re-reads and retries.
func (r *ConnectionRepository) UpdateVersioned(ctx context.Context, conn *db.Connection) error {
	expected := conn.Version
	res := r.db.WithContext(ctx).
		Model(&db.Connection{}).
		Where("id = ? AND version = ?", conn.ID, expected).
		Updates(map[string]any{
			"current_day":       conn.CurrentDay,
			"status":            conn.Status,
			"last_handshake_at": conn.LastHandshakeAt,
			"reveal_a":          conn.RevealA,
			"reveal_b":          conn.RevealB,
			"archived_at":       conn.ArchivedAt,
			"version":           expected + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.ErrConcurrentModification
	}
	conn.Version = expected + 1
	return nil
}

// ListDueForWindow returns the active connections whose daily window
// at windowOpen has arrived and that do not yet have a handshake for
// their current day.
//
// last_handshake_at < windowOpen keeps a connection that already
// resolved today (advancing its day) from opening the next day's
// window before tomorrow.
func (r *ConnectionRepository) ListDueForWindow(ctx context.Context, windowOpen time.Time) ([]db.Connection, error) {
	var conns []db.Connection
	err := r.db.WithContext(ctx).
		Table("connections c").
		Where("c.status = ?", db.ConnectionActive).
		Where("c.last_handshake_at < ?", windowOpen).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM daily_handshakes h
				WHERE h.connection_id = c.id
				  AND h.day = c.current_day
			)`).
		Find(&conns).Error
	return conns, err
}
