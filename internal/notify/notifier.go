package notify

import (
	"context"
	"log/slog"
)

// Event kinds emitted by the protocol core. Delivery (push, email) is
// an external collaborator; the core only publishes.
const (
	EventWindowOpened      = "handshake_window_opened"
	EventHandshakeResolved = "handshake_resolved"
	EventMatchProposed     = "match_proposed"
	EventMatchResolved     = "match_resolved"
	EventRevealCompleted   = "reveal_completed"
)

type Event struct {
	Kind         string
	UserID       uint64
	ConnectionID uint64
	MatchID      uint64
	Day          int
	Outcome      string
}

// Notifier receives protocol events fire-and-forget: publishing never
// fails the operation that produced the event.
type Notifier interface {
	Publish(ctx context.Context, e Event)
}

// LogNotifier writes events to the structured log. It stands in for a
// real delivery pipeline in development and tests.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(_ context.Context, e Event) {
	n.log.Info("notify",
		"kind", e.Kind,
		"user", e.UserID,
		"connection", e.ConnectionID,
		"match", e.MatchID,
		"day", e.Day,
		"outcome", e.Outcome,
	)
}
