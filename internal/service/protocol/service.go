package protocol

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/app"
	"github.com/alignhq/alignment-protocol/internal/clock"
	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/notify"
	"github.com/alignhq/alignment-protocol/internal/policy"
	"github.com/alignhq/alignment-protocol/internal/repository"
	"github.com/alignhq/alignment-protocol/internal/service/slots"
)

// Service drives the 21-day connection lifecycle: daily handshake
// windows, decision resolution (silence = no), day progression with
// content unlocks, the reveal gate, and the protocol conversation.
//
// It is also a sweep task: the Clock's background sweep (never a
// client timer) opens windows and resolves overdue handshakes.
type Service struct {
	appCtx   *app.AppContext
	connRepo *repository.ConnectionRepository
	hsRepo   *repository.HandshakeRepository
	msgRepo  *repository.MessageRepository
	slotsSvc *slots.Service
}

func NewService(appCtx *app.AppContext, slotsSvc *slots.Service) *Service {
	return &Service{
		appCtx:   appCtx,
		connRepo: repository.NewConnectionRepository(appCtx.DB),
		hsRepo:   repository.NewHandshakeRepository(appCtx.DB),
		msgRepo:  repository.NewMessageRepository(appCtx.DB),
		slotsSvc: slotsSvc,
	}
}

// ConnectionView is the client-facing state of a connection, including
// the derived unlock flags.
type ConnectionView struct {
	ID              uint64    `json:"id"`
	UserAID         uint64    `json:"userAId"`
	UserBID         uint64    `json:"userBId"`
	CurrentDay      int       `json:"currentDay"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"startedAt"`
	LastHandshakeAt time.Time `json:"lastHandshakeAt"`
	VoiceUnlocked   bool      `json:"voiceUnlocked"`
	ImagesUnlocked  bool      `json:"imagesUnlocked"`
	RevealEligible  bool      `json:"revealEligible"`
	Revealed        bool      `json:"revealed"`
}

func viewOf(conn *db.Connection) *ConnectionView {
	unlocks := policy.UnlocksFor(conn.CurrentDay)
	return &ConnectionView{
		ID:              conn.ID,
		UserAID:         conn.UserAID,
		UserBID:         conn.UserBID,
		CurrentDay:      conn.CurrentDay,
		Status:          conn.Status,
		StartedAt:       conn.StartedAt,
		LastHandshakeAt: conn.LastHandshakeAt,
		VoiceUnlocked:   unlocks.Voice,
		ImagesUnlocked:  unlocks.Images,
		RevealEligible:  unlocks.RevealEligible,
		Revealed:        conn.Status == db.ConnectionRevealed,
	}
}

// GetConnection returns the current view of a connection. Archived
// (revealed) connections remain readable.
func (s *Service) GetConnection(ctx context.Context, connectionID uint64) (*ConnectionView, error) {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return viewOf(conn), nil
}

// DecisionResult is the response to a handshake decision submission.
type DecisionResult struct {
	Outcome    string `json:"outcome"` // continued | ended | pending
	CurrentDay int    `json:"currentDay"`
}

// SubmitDecision records one side's daily continue/end decision.
//
// Behavior:
//   - Fails with ErrUnknownConnection, ErrNotAParticipant,
//     ErrConnectionClosed, ErrInvalidDay or ErrHandshakeNotOpen.
//   - Submitting twice, or after resolution, fails with
//     ErrAlreadyResolved; a late true after the partner's false is
//     rejected, never silently ignored.
//   - Submitting past the deadline fails with ErrDeadlineExpired; the
//     sweep resolves the handshake, not the caller.
//   - The first false resolves the handshake as ended immediately.
//   - The second true resolves as continued: the day advances, or the
//     connection enters reveal_pending when day 21 completes.
//   - A stale write is retried once after re-reading.
func (s *Service) SubmitDecision(ctx context.Context, connectionID, userID uint64, day int, decision bool) (*DecisionResult, error) {
	result, err := s.submitOnce(ctx, connectionID, userID, day, decision)
	if errors.Is(err, svcErr.ErrConcurrentModification) {
		result, err = s.submitOnce(ctx, connectionID, userID, day, decision)
	}
	return result, err
}

func (s *Service) submitOnce(ctx context.Context, connectionID, userID uint64, day int, decision bool) (*DecisionResult, error) {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasParticipant(userID) {
		return nil, svcErr.ErrNotAParticipant
	}
	if conn.Status != db.ConnectionActive {
		return nil, svcErr.ErrConnectionClosed
	}
	if day != conn.CurrentDay {
		return nil, svcErr.ErrInvalidDay
	}

	hs, err := s.hsRepo.FindByConnectionAndDay(ctx, connectionID, day)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.ErrHandshakeNotOpen
		}
		return nil, err
	}
	if hs.Resolved {
		return nil, svcErr.ErrAlreadyResolved
	}

	side, other := &hs.ResponseA, hs.ResponseB
	if userID == conn.UserBID {
		side, other = &hs.ResponseB, hs.ResponseA
	}
	if *side != nil {
		return nil, svcErr.ErrAlreadyResolved
	}
	if s.appCtx.Clock.Now().After(hs.Deadline) {
		return nil, svcErr.ErrDeadlineExpired
	}

	*side = &decision

	// first false wins; second true completes the day
	outcome := ""
	if !decision {
		outcome = db.OutcomeEnded
	} else if other != nil && *other {
		outcome = db.OutcomeContinued
	}
	if outcome != "" {
		hs.Resolved = true
		hs.Outcome = outcome
	}

	if err := s.hsRepo.UpdateVersioned(ctx, hs); err != nil {
		return nil, err
	}

	s.appCtx.Logger.Debug("handshake decision recorded",
		"connection", connectionID, "day", day, "user", userID, "decision", decision, "outcome", outcome)

	if outcome == "" {
		return &DecisionResult{Outcome: "pending", CurrentDay: conn.CurrentDay}, nil
	}
	if err := s.applyOutcome(ctx, conn, hs, outcome); err != nil {
		return nil, err
	}
	return &DecisionResult{Outcome: outcome, CurrentDay: conn.CurrentDay}, nil
}

// applyOutcome advances or terminates the connection for a freshly
// resolved handshake and notifies both sides.
func (s *Service) applyOutcome(ctx context.Context, conn *db.Connection, hs *db.DailyHandshake, outcome string) error {
	now := s.appCtx.Clock.Now()

	switch {
	case outcome == db.OutcomeEnded:
		conn.Status = db.ConnectionEnded
	case conn.CurrentDay >= policy.FinalDay:
		// day 21 completed: terminal for handshakes, reveal gate opens
		conn.Status = db.ConnectionRevealPending
	default:
		conn.CurrentDay++
	}
	conn.LastHandshakeAt = now

	if err := s.connRepo.UpdateVersioned(ctx, conn); err != nil {
		if !errors.Is(err, svcErr.ErrConcurrentModification) {
			return err
		}
		// single writer per entity makes this rare; re-read and reapply
		fresh, ferr := s.connRepo.Find(ctx, conn.ID)
		if ferr != nil {
			return ferr
		}
		fresh.Status = conn.Status
		fresh.CurrentDay = conn.CurrentDay
		fresh.LastHandshakeAt = now
		if err := s.connRepo.UpdateVersioned(ctx, fresh); err != nil {
			return err
		}
		*conn = *fresh
	}

	if conn.Status == db.ConnectionEnded {
		if err := s.slotsSvc.ReleaseForConnection(ctx, conn.ID); err != nil {
			return err
		}
	} else {
		// fire-and-forget day hint for the client's slot cards
		_ = s.appCtx.RedisCache.SetCurrentDay(ctx, conn.ID, conn.CurrentDay)
	}

	for _, uid := range []uint64{conn.UserAID, conn.UserBID} {
		s.appCtx.Notifier.Publish(ctx, notify.Event{
			Kind:         notify.EventHandshakeResolved,
			UserID:       uid,
			ConnectionID: conn.ID,
			Day:          hs.Day,
			Outcome:      outcome,
		})
	}
	return nil
}

// TriggerReveal records one side's entry into the reveal sequence, an
// explicit two-party gate mirroring match acceptance. When both sides
// have triggered, the connection becomes revealed and is archived.
func (s *Service) TriggerReveal(ctx context.Context, connectionID, userID uint64) (*ConnectionView, error) {
	view, err := s.revealOnce(ctx, connectionID, userID)
	if errors.Is(err, svcErr.ErrConcurrentModification) {
		view, err = s.revealOnce(ctx, connectionID, userID)
	}
	return view, err
}

func (s *Service) revealOnce(ctx context.Context, connectionID, userID uint64) (*ConnectionView, error) {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.HasParticipant(userID) {
		return nil, svcErr.ErrNotAParticipant
	}
	if conn.Status != db.ConnectionRevealPending {
		return nil, svcErr.ErrRevealUnavailable
	}

	side := &conn.RevealA
	if userID == conn.UserBID {
		side = &conn.RevealB
	}
	if *side {
		return nil, svcErr.ErrAlreadyResponded
	}
	*side = true

	completed := conn.RevealA && conn.RevealB
	if completed {
		now := s.appCtx.Clock.Now()
		conn.Status = db.ConnectionRevealed
		conn.ArchivedAt = &now
	}

	if err := s.connRepo.UpdateVersioned(ctx, conn); err != nil {
		return nil, err
	}

	if completed {
		if err := s.slotsSvc.ReleaseForConnection(ctx, conn.ID); err != nil {
			return nil, err
		}
		s.appCtx.Logger.Info("reveal completed", "connection", conn.ID)
		for _, uid := range []uint64{conn.UserAID, conn.UserBID} {
			s.appCtx.Notifier.Publish(ctx, notify.Event{
				Kind:         notify.EventRevealCompleted,
				UserID:       uid,
				ConnectionID: conn.ID,
			})
		}
	}
	return viewOf(conn), nil
}

// Name identifies the sweep task.
func (s *Service) Name() string { return "protocol_clock" }

// Sweep opens due handshake windows and resolves handshakes whose
// deadline has passed. An unresponsive side is treated as false
// (silence = no).
func (s *Service) Sweep(ctx context.Context, now time.Time) error {
	if err := s.openDueWindows(ctx, now); err != nil {
		return err
	}
	return s.resolveExpired(ctx, now)
}

func (s *Service) openDueWindows(ctx context.Context, now time.Time) error {
	windowOpen := clock.WindowOpen(now, s.appCtx.Config.Protocol.WindowHour)
	due, err := s.connRepo.ListDueForWindow(ctx, windowOpen)
	if err != nil {
		return err
	}
	for i := range due {
		conn := &due[i]
		hs := &db.DailyHandshake{
			ConnectionID: conn.ID,
			Day:          conn.CurrentDay,
			Deadline:     windowOpen.Add(s.appCtx.Config.Protocol.ResponseWindow),
		}
		created, err := s.hsRepo.Open(ctx, hs)
		if err != nil {
			return err
		}
		if !created {
			continue // a concurrent sweep opened it
		}
		s.appCtx.Logger.Debug("handshake window opened",
			"connection", conn.ID, "day", conn.CurrentDay, "deadline", hs.Deadline)
		for _, uid := range []uint64{conn.UserAID, conn.UserBID} {
			s.appCtx.Notifier.Publish(ctx, notify.Event{
				Kind:         notify.EventWindowOpened,
				UserID:       uid,
				ConnectionID: conn.ID,
				Day:          conn.CurrentDay,
			})
		}
	}
	return nil
}

func (s *Service) resolveExpired(ctx context.Context, now time.Time) error {
	overdue, err := s.hsRepo.ListUnresolvedExpired(ctx, now)
	if err != nil {
		return err
	}
	for i := range overdue {
		hs := &overdue[i]

		// silence = no: any unset side counts as false
		outcome := db.OutcomeEnded
		if hs.ResponseA != nil && *hs.ResponseA && hs.ResponseB != nil && *hs.ResponseB {
			outcome = db.OutcomeContinued
		}
		hs.Resolved = true
		hs.Outcome = outcome

		if err := s.hsRepo.UpdateVersioned(ctx, hs); err != nil {
			if errors.Is(err, svcErr.ErrConcurrentModification) {
				continue // a live submission beat the sweep; next pass re-checks
			}
			return err
		}

		conn, err := s.connRepo.Find(ctx, hs.ConnectionID)
		if err != nil {
			return err
		}
		if err := s.applyOutcome(ctx, conn, hs, outcome); err != nil {
			return err
		}
		s.appCtx.Logger.Info("handshake resolved by deadline",
			"connection", hs.ConnectionID, "day", hs.Day, "outcome", outcome)
	}
	return nil
}

func (s *Service) findConnection(ctx context.Context, connectionID uint64) (*db.Connection, error) {
	conn, err := s.connRepo.Find(ctx, connectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, svcErr.ErrUnknownConnection
		}
		return nil, err
	}
	return conn, nil
}
