package slots

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/app"
	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/repository"
)

// Service is the slot manager: it owns the mapping from subscription
// tier to capacity and every slot status transition. Slot status is
// always derived from match/connection state, never set directly by
// clients.
type Service struct {
	appCtx   *app.AppContext
	slotRepo *repository.SlotRepository
	userRepo *repository.UserRepository
}

func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		slotRepo: repository.NewSlotRepository(appCtx.DB),
		userRepo: repository.NewUserRepository(appCtx.DB),
	}
}

// CapacityFor maps a subscription tier to its slot capacity.
func CapacityFor(tier string) int {
	if tier == db.TierPremium {
		return db.PremiumSlots
	}
	return db.FreeSlots
}

// EnsureSlots creates a user's slot rows according to their tier.
func (s *Service) EnsureSlots(ctx context.Context, userID uint64) error {
	user, err := s.userRepo.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return svcErr.ErrUnknownUser
		}
		return err
	}
	return s.slotRepo.EnsureForUser(ctx, userID, CapacityFor(user.Tier))
}

// ListForUser returns the user's slots ordered by index.
func (s *Service) ListForUser(ctx context.Context, userID uint64) ([]db.ConnectionSlot, error) {
	if _, err := s.userRepo.Find(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.ErrUnknownUser
		}
		return nil, err
	}
	return s.slotRepo.ListByUser(ctx, userID)
}

// HasEmpty reports whether the user can take a new match.
func (s *Service) HasEmpty(ctx context.Context, userID uint64) (bool, error) {
	count, err := s.slotRepo.CountEmpty(ctx, userID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReleaseForConnection frees both slots of an ended or revealed
// connection. A slot whose index now exceeds its owner's capacity
// (the owner downgraded while the connection ran) comes back locked
// instead of empty.
func (s *Service) ReleaseForConnection(ctx context.Context, connectionID uint64) error {
	occupied, err := s.slotRepo.ListByConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	for _, slot := range occupied {
		owner, err := s.userRepo.Find(ctx, slot.UserID)
		if err != nil {
			return err
		}
		lock := slot.Idx > CapacityFor(owner.Tier)
		if err := s.slotRepo.Release(ctx, slot.ID, lock); err != nil {
			return err
		}
	}
	return nil
}

// ChangeTier updates the user's subscription tier and resizes their
// slots. A downgrade locks excess empty slots only; slots holding an
// active connection or a waiting reservation keep running and lock on
// release instead.
func (s *Service) ChangeTier(ctx context.Context, userID uint64, tier string) error {
	if tier != db.TierFree && tier != db.TierPremium {
		return svcErr.ErrInvalidTier
	}
	if _, err := s.userRepo.Find(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return svcErr.ErrUnknownUser
		}
		return err
	}
	if err := s.userRepo.SetTier(ctx, userID, tier); err != nil {
		return err
	}

	capacity := CapacityFor(tier)
	if err := s.slotRepo.LockEmptyAbove(ctx, userID, capacity); err != nil {
		return err
	}
	if err := s.slotRepo.UnlockUpTo(ctx, userID, capacity); err != nil {
		return err
	}

	s.appCtx.Logger.Info("subscription tier changed", "user", userID, "tier", tier, "capacity", capacity)
	return nil
}
