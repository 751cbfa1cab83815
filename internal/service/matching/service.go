package matching

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/app"
	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/notify"
	"github.com/alignhq/alignment-protocol/internal/repository"
)

// Service is the match acceptance gate. It records each side's
// accept/pass decision on a proposed match and promotes to a
// Connection only on mutual acceptance. Any single pass, or the expiry
// sweep, terminates the match and frees slot reservations.
type Service struct {
	appCtx    *app.AppContext
	matchRepo *repository.MatchRepository
	slotRepo  *repository.SlotRepository
	connRepo  *repository.ConnectionRepository
}

func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:    appCtx,
		matchRepo: repository.NewMatchRepository(appCtx.DB),
		slotRepo:  repository.NewSlotRepository(appCtx.DB),
		connRepo:  repository.NewConnectionRepository(appCtx.DB),
	}
}

// Propose validates and stores a pairing produced by the external
// matching service.
//
// Behavior:
//   - Fails with ErrInvalidScore when score is outside [0,100].
//   - Fails with ErrNoAvailableSlot when either user has no empty slot.
//   - The match expires after the configured TTL; expiry is equivalent
//     to a pass.
func (s *Service) Propose(ctx context.Context, userA, userB uint64, score int, reasons []string) (*db.Match, error) {
	s.appCtx.Logger.Debug("Propose called", "user_a", userA, "user_b", userB, "score", score)

	if score < 0 || score > 100 {
		return nil, svcErr.ErrInvalidScore
	}
	if userA == userB {
		return nil, svcErr.ErrSelfMatch
	}

	for _, uid := range []uint64{userA, userB} {
		count, err := s.slotRepo.CountEmpty(ctx, uid)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, svcErr.ErrNoAvailableSlot
		}
	}

	now := s.appCtx.Clock.Now()
	match := &db.Match{
		UserAID:   userA,
		UserBID:   userB,
		Score:     score,
		Status:    db.MatchPending,
		ExpiresAt: now.Add(s.appCtx.Config.Protocol.MatchTTL),
	}
	if err := match.SetReasons(reasons); err != nil {
		return nil, err
	}
	if err := s.matchRepo.Create(ctx, match); err != nil {
		return nil, err
	}

	for _, uid := range []uint64{userA, userB} {
		s.appCtx.Notifier.Publish(ctx, notify.Event{
			Kind:    notify.EventMatchProposed,
			UserID:  uid,
			MatchID: match.ID,
		})
	}
	return match, nil
}

// GetMatch loads a match view by id.
func (s *Service) GetMatch(ctx context.Context, matchID uint64) (*db.Match, error) {
	match, err := s.matchRepo.Find(ctx, matchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.ErrUnknownMatch
		}
		return nil, err
	}
	return match, nil
}

// Respond records one side's accept/pass decision.
//
// Behavior:
//   - Fails with ErrUnknownMatch, ErrNotAParticipant, ErrAlreadyResponded
//     or ErrMatchExpired.
//   - A pass immediately declines the match and frees any waiting
//     reservation.
//   - The first accept reserves a waiting slot for that side.
//   - The second accept promotes atomically: match accepted, connection
//     created on day 1, both reserved slots flip to active.
//   - A stale write (ErrConcurrentModification) is retried once after
//     re-reading.
func (s *Service) Respond(ctx context.Context, matchID, userID uint64, accept bool) (*db.Match, error) {
	match, err := s.respondOnce(ctx, matchID, userID, accept)
	if errors.Is(err, svcErr.ErrConcurrentModification) {
		match, err = s.respondOnce(ctx, matchID, userID, accept)
	}
	return match, err
}

func (s *Service) respondOnce(ctx context.Context, matchID, userID uint64, accept bool) (*db.Match, error) {
	match, err := s.matchRepo.Find(ctx, matchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.ErrUnknownMatch
		}
		return nil, err
	}
	if !match.HasParticipant(userID) {
		return nil, svcErr.ErrNotAParticipant
	}
	if match.Terminal() {
		return nil, svcErr.ErrAlreadyResponded
	}
	if s.appCtx.Clock.Now().After(match.ExpiresAt) {
		// the sweep will expire it; reject the late response now
		return nil, svcErr.ErrMatchExpired
	}

	side := &match.ResponseA
	other := match.ResponseB
	if userID == match.UserBID {
		side = &match.ResponseB
		other = match.ResponseA
	}
	if *side != nil {
		return nil, svcErr.ErrAlreadyResponded
	}
	*side = &accept

	switch {
	case !accept:
		return s.decline(ctx, match, userID)
	case other != nil && *other:
		return s.promote(ctx, match, userID)
	default:
		// half-accepted: reserve a slot, keep status pending
		slot, err := s.slotRepo.Reserve(ctx, userID, match.ID)
		if err != nil {
			return nil, err
		}
		if err := s.matchRepo.UpdateVersioned(ctx, match); err != nil {
			// roll back only this side's reservation so the retry starts
			// clean; the partner may hold a legitimate waiting slot
			_ = s.slotRepo.Release(ctx, slot.ID, false)
			return nil, err
		}
		return match, nil
	}
}

// decline terminates the match on a pass and frees reservations.
func (s *Service) decline(ctx context.Context, match *db.Match, userID uint64) (*db.Match, error) {
	match.Status = db.MatchDeclined
	if err := s.matchRepo.UpdateVersioned(ctx, match); err != nil {
		return nil, err
	}
	if err := s.slotRepo.ReleaseByMatch(ctx, match.ID); err != nil {
		return nil, err
	}
	s.appCtx.Notifier.Publish(ctx, notify.Event{
		Kind:    notify.EventMatchResolved,
		UserID:  match.OtherSide(userID),
		MatchID: match.ID,
		Outcome: db.MatchDeclined,
	})
	return match, nil
}

// promote creates the connection on mutual acceptance. The match
// update, slot reservation, connection insert and slot binding commit
// in one transaction: either both sides see an active connection or
// nothing changed.
func (s *Service) promote(ctx context.Context, match *db.Match, userID uint64) (*db.Match, error) {
	now := s.appCtx.Clock.Now()
	var conn *db.Connection

	err := s.appCtx.DB.Transaction(func(tx *gorm.DB) error {
		matches := repository.NewMatchRepository(tx)
		slots := repository.NewSlotRepository(tx)
		conns := repository.NewConnectionRepository(tx)

		if _, err := slots.Reserve(ctx, userID, match.ID); err != nil {
			return err
		}

		match.Status = db.MatchAccepted
		if err := matches.UpdateVersioned(ctx, match); err != nil {
			return err
		}

		conn = &db.Connection{
			MatchID:         match.ID,
			UserAID:         match.UserAID,
			UserBID:         match.UserBID,
			CurrentDay:      1,
			Status:          db.ConnectionActive,
			StartedAt:       now,
			LastHandshakeAt: now,
		}
		if err := conns.Create(ctx, conn); err != nil {
			return err
		}
		return slots.BindConnection(ctx, match.ID, conn.ID)
	})
	if err != nil {
		return nil, err
	}

	s.appCtx.Logger.Info("match promoted to connection",
		"match", match.ID, "connection", conn.ID, "user_a", match.UserAID, "user_b", match.UserBID)

	for _, uid := range []uint64{match.UserAID, match.UserBID} {
		s.appCtx.Notifier.Publish(ctx, notify.Event{
			Kind:         notify.EventMatchResolved,
			UserID:       uid,
			MatchID:      match.ID,
			ConnectionID: conn.ID,
			Outcome:      db.MatchAccepted,
		})
	}
	return match, nil
}

// Name identifies the sweep task.
func (s *Service) Name() string { return "match_expiry" }

// Sweep expires matches past their deadline, equivalent in effect to a
// pass from the unresponsive side.
func (s *Service) Sweep(ctx context.Context, now time.Time) error {
	expired, err := s.matchRepo.ListExpiredPending(ctx, now)
	if err != nil {
		return err
	}
	for i := range expired {
		match := &expired[i]
		match.Status = db.MatchExpired
		if err := s.matchRepo.UpdateVersioned(ctx, match); err != nil {
			if errors.Is(err, svcErr.ErrConcurrentModification) {
				continue // a live response beat the sweep; next pass re-checks
			}
			return err
		}
		if err := s.slotRepo.ReleaseByMatch(ctx, match.ID); err != nil {
			return err
		}
		s.appCtx.Logger.Debug("match expired", "match", match.ID)
		for _, uid := range []uint64{match.UserAID, match.UserBID} {
			s.appCtx.Notifier.Publish(ctx, notify.Event{
				Kind:    notify.EventMatchResolved,
				UserID:  uid,
				MatchID: match.ID,
				Outcome: db.MatchExpired,
			})
		}
	}
	return nil
}
