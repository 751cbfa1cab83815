package db

import (
	"encoding/json"
	"time"
)

// Subscription tiers and their slot capacity.
const (
	TierFree    = "free"
	TierPremium = "premium"

	FreeSlots    = 1
	PremiumSlots = 3
)

// ConnectionSlot statuses.
const (
	SlotEmpty   = "empty"
	SlotWaiting = "waiting"
	SlotActive  = "active"
	SlotLocked  = "locked"
)

// Match statuses.
const (
	MatchPending  = "pending"
	MatchAccepted = "accepted"
	MatchDeclined = "declined"
	MatchExpired  = "expired"
)

// Connection statuses. Ended and Revealed are terminal.
const (
	ConnectionActive        = "active"
	ConnectionRevealPending = "reveal_pending"
	ConnectionRevealed      = "revealed"
	ConnectionEnded         = "ended"
)

// Handshake outcomes.
const (
	OutcomeContinued = "continued"
	OutcomeEnded     = "ended"
)

// Message kinds.
const (
	MessageText     = "text"
	MessageVoice    = "voice"
	MessageAIPrompt = "ai_prompt"
	MessageSystem   = "system"
)

// User table
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Verified     bool   `gorm:"default:false"`
	Gender       string `gorm:"size:16;not null"`
	Seeking      string `gorm:"size:16;not null"`
	City         string `gorm:"size:64"`
	Country      string `gorm:"size:64"`
	Tier         string `gorm:"size:16;not null;default:free"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// SlotCapacity returns how many simultaneous connections the user may hold.
func (u *User) SlotCapacity() int {
	if u.Tier == TierPremium {
		return PremiumSlots
	}
	return FreeSlots
}

// ConnectionSlot is one of a user's capacity units. Every user owns
// PremiumSlots rows; indexes beyond the tier's capacity are locked.
// Status is always derived from the referenced match/connection, never
// set independently.
type ConnectionSlot struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64    `gorm:"not null;index:idx_slot_user_idx,priority:1;uniqueIndex:uq_user_slot,priority:1" json:"userId"`
	Idx          int       `gorm:"not null;uniqueIndex:uq_user_slot,priority:2" json:"idx"`
	Status       string    `gorm:"size:16;not null;default:empty;index:idx_slot_user_idx,priority:2" json:"status"`
	MatchID      *uint64   `gorm:"index" json:"matchId,omitempty"`
	ConnectionID *uint64   `gorm:"index" json:"connectionId,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"-"`
}

// Match is a proposed pairing prior to mutual acceptance.
//
// ResponseA/ResponseB are tri-state: nil = unset, true = accept,
// false = pass. Status stays pending while half-accepted; it becomes
// terminal once both sides respond or the deadline lapses.
type Match struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserAID   uint64 `gorm:"not null;index"`
	UserBID   uint64 `gorm:"not null;index"`
	Score     int    `gorm:"not null"`
	Reasons   string `gorm:"type:text"`
	Status    string `gorm:"size:16;not null;default:pending;index"`
	ResponseA *bool
	ResponseB *bool
	ExpiresAt time.Time `gorm:"not null"`
	Version   uint64    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// HasParticipant reports whether userID is one of the two candidates.
func (m *Match) HasParticipant(userID uint64) bool {
	return m.UserAID == userID || m.UserBID == userID
}

// OtherSide returns the counterpart of userID in the match.
func (m *Match) OtherSide(userID uint64) uint64 {
	if m.UserAID == userID {
		return m.UserBID
	}
	return m.UserAID
}

// Terminal reports whether the match can no longer change.
func (m *Match) Terminal() bool {
	return m.Status != MatchPending
}

// SetReasons stores the ordered alignment reasons as JSON.
func (m *Match) SetReasons(reasons []string) error {
	b, err := json.Marshal(reasons)
	if err != nil {
		return err
	}
	m.Reasons = string(b)
	return nil
}

// ReasonList decodes the stored alignment reasons.
func (m *Match) ReasonList() []string {
	if m.Reasons == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(m.Reasons), &out); err != nil {
		return nil
	}
	return out
}

// Connection is an active 21-day protocol instance between two users.
//
// Version implements optimistic concurrency: every update must carry the
// last-seen version and fails when stale (single writer per entity).
type Connection struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	MatchID         uint64 `gorm:"not null;uniqueIndex"`
	UserAID         uint64 `gorm:"not null;index"`
	UserBID         uint64 `gorm:"not null;index"`
	CurrentDay      int    `gorm:"not null;default:1"`
	Status          string `gorm:"size:16;not null;default:active;index"`
	StartedAt       time.Time `gorm:"not null"`
	LastHandshakeAt time.Time `gorm:"not null"`
	RevealA         bool      `gorm:"default:false"`
	RevealB         bool      `gorm:"default:false"`
	ArchivedAt      *time.Time
	Version         uint64    `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// HasParticipant reports whether userID is one of the two sides.
func (c *Connection) HasParticipant(userID uint64) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// PartnerOf returns the other participant.
func (c *Connection) PartnerOf(userID uint64) uint64 {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// Terminal reports whether the connection can no longer be mutated.
func (c *Connection) Terminal() bool {
	return c.Status == ConnectionEnded || c.Status == ConnectionRevealed
}

// DailyHandshake is one day's continuation decision for a connection.
// The (ConnectionID, Day) pair is unique; a window opens at most once
// per protocol day.
type DailyHandshake struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ConnectionID uint64 `gorm:"not null;uniqueIndex:uq_connection_day,priority:1"`
	Day          int    `gorm:"not null;uniqueIndex:uq_connection_day,priority:2"`
	ResponseA    *bool
	ResponseB    *bool
	Deadline     time.Time `gorm:"not null;index"`
	Resolved     bool      `gorm:"not null;default:false;index"`
	Outcome      string    `gorm:"size:16"`
	Version      uint64    `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Message is a protocol conversation entry. Append-only; only the read
// flag mutates after creation.
type Message struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID  uint64    `gorm:"not null;index:idx_msg_connection_created,priority:1" json:"connectionId"`
	SenderID      uint64    `gorm:"not null" json:"senderId"`
	Kind          string    `gorm:"size:16;not null" json:"kind"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	VoiceURL      string    `gorm:"size:255" json:"voiceUrl,omitempty"`
	VoiceDuration int       `json:"voiceDuration,omitempty"`
	Read          bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_msg_connection_created,priority:2,sort:desc" json:"createdAt"`
}
