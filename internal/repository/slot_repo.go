package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
)

// SlotRepository provides data access methods for ConnectionSlot rows.
// Slot status transitions are guarded updates: every write names the
// status it expects to replace, so racing writers cannot double-book
// a slot.
type SlotRepository struct {
	db *gorm.DB
}

// NewSlotRepository creates a new repository bound to the given DB connection.
func NewSlotRepository(database *gorm.DB) *SlotRepository {
	return &SlotRepository{db: database}
}

// EnsureForUser creates the user's slot rows if missing. Every user
// owns db.PremiumSlots rows; indexes beyond capacity start locked.
func (r *SlotRepository) EnsureForUser(ctx context.Context, userID uint64, capacity int) error {
	for idx := 1; idx <= db.PremiumSlots; idx++ {
		status := db.SlotEmpty
		if idx > capacity {
			status = db.SlotLocked
		}
		slot := db.ConnectionSlot{UserID: userID, Idx: idx, Status: status}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "idx"}},
				DoNothing: true,
			}).
			Create(&slot).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// ListByUser returns the user's slots ordered by index.
func (r *SlotRepository) ListByUser(ctx context.Context, userID uint64) ([]db.ConnectionSlot, error) {
	var slots []db.ConnectionSlot
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("idx ASC").
		Find(&slots).Error
	return slots, err
}

// CountEmpty returns how many of the user's slots can take a new match.
func (r *SlotRepository) CountEmpty(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND status = ?", userID, db.SlotEmpty).
		Count(&count).Error
	return count, err
}

// Reserve moves the user's lowest empty slot to waiting for the given
// match. Fails with ErrNoCapacity when every slot is occupied.
func (r *SlotRepository) Reserve(ctx context.Context, userID, matchID uint64) (*db.ConnectionSlot, error) {
	var slot db.ConnectionSlot
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, db.SlotEmpty).
		Order("idx ASC").
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, svcErr.ErrNoCapacity
	} else if err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("id = ? AND status = ?", slot.ID, db.SlotEmpty).
		Updates(map[string]any{"status": db.SlotWaiting, "match_id": matchID})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost the slot to a concurrent reservation
		return nil, svcErr.ErrNoCapacity
	}

	slot.Status = db.SlotWaiting
	slot.MatchID = &matchID
	return &slot, nil
}

// ReleaseByMatch frees every waiting reservation held for a match
// (decline or expiry).
func (r *SlotRepository) ReleaseByMatch(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("match_id = ? AND status = ?", matchID, db.SlotWaiting).
		Updates(map[string]any{"status": db.SlotEmpty, "match_id": nil}).Error
}

// BindConnection promotes both waiting reservations of a match to
// active slots referencing the newly created connection.
func (r *SlotRepository) BindConnection(ctx context.Context, matchID, connectionID uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("match_id = ? AND status = ?", matchID, db.SlotWaiting).
		Updates(map[string]any{
			"status":        db.SlotActive,
			"match_id":      nil,
			"connection_id": connectionID,
		}).Error
}

// ListByConnection returns the two slots occupied by a connection.
func (r *SlotRepository) ListByConnection(ctx context.Context, connectionID uint64) ([]db.ConnectionSlot, error) {
	var slots []db.ConnectionSlot
	err := r.db.WithContext(ctx).
		Where("connection_id = ?", connectionID).
		Find(&slots).Error
	return slots, err
}

// Release resets a slot after its connection ends. The slot returns to
// empty, or locked when its index now exceeds the owner's capacity
// (post-downgrade).
func (r *SlotRepository) Release(ctx context.Context, slotID uint64, lock bool) error {
	status := db.SlotEmpty
	if lock {
		status = db.SlotLocked
	}
	return r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("id = ?", slotID).
		Updates(map[string]any{
			"status":        status,
			"match_id":      nil,
			"connection_id": nil,
		}).Error
}

// LockEmptyAbove locks the user's empty slots with an index beyond the
// new capacity. Occupied slots are left alone: a downgrade never
// force-ends a connection.
func (r *SlotRepository) LockEmptyAbove(ctx context.Context, userID uint64, capacity int) error {
	return r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND idx > ? AND status = ?", userID, capacity, db.SlotEmpty).
		Update("status", db.SlotLocked).Error
}

// UnlockUpTo re-opens locked slots within the new capacity (upgrade).
func (r *SlotRepository) UnlockUpTo(ctx context.Context, userID uint64, capacity int) error {
	return r.db.WithContext(ctx).
		Model(&db.ConnectionSlot{}).
		Where("user_id = ? AND idx <= ? AND status = ?", userID, capacity, db.SlotLocked).
		Update("status", db.SlotEmpty).Error
}
