package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/db"
)

// UserRepository provides data access methods for the User model.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// Find loads a user by id.
func (r *UserRepository) Find(ctx context.Context, userID uint64) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetTier updates a user's subscription tier. Slot resizing is the
// caller's responsibility (slot manager).
func (r *UserRepository) SetTier(ctx context.Context, userID uint64, tier string) error {
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ?", userID).
		Update("tier", tier).Error
}
