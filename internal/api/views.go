package api

import (
	"time"

	"github.com/alignhq/alignment-protocol/internal/db"
)

// MatchView is the client-facing shape of a proposed match.
type MatchView struct {
	ID        uint64    `json:"id"`
	UserAID   uint64    `json:"userAId"`
	UserBID   uint64    `json:"userBId"`
	Score     int       `json:"resonanceScore"`
	Reasons   []string  `json:"alignmentReasons"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func matchView(m *db.Match) MatchView {
	return MatchView{
		ID:        m.ID,
		UserAID:   m.UserAID,
		UserBID:   m.UserBID,
		Score:     m.Score,
		Reasons:   m.ReasonList(),
		Status:    m.Status,
		ExpiresAt: m.ExpiresAt,
	}
}
