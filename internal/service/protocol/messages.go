package protocol

import (
	"context"

	"github.com/alignhq/alignment-protocol/internal/db"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/policy"
)

// MessageInput is the payload for appending a conversation entry.
// SenderID 0 marks an entry produced by an external collaborator
// (system notices, AI prompts).
type MessageInput struct {
	SenderID      uint64
	Kind          string
	Content       string
	VoiceURL      string
	VoiceDuration int
}

// AppendMessage adds an entry to the protocol conversation.
//
// Behavior:
//   - Writes to a terminal connection fail with ErrConnectionClosed.
//   - text/voice require a participant sender; ai_prompt/system come
//     from outside and carry sender 0.
//   - voice entries are rejected with ErrVoiceLocked before day 6,
//     never stored.
//   - The partner's unread counter is bumped fire-and-forget.
func (s *Service) AppendMessage(ctx context.Context, connectionID uint64, in MessageInput) (*db.Message, error) {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn.Terminal() {
		return nil, svcErr.ErrConnectionClosed
	}

	switch in.Kind {
	case db.MessageText, db.MessageVoice:
		if !conn.HasParticipant(in.SenderID) {
			return nil, svcErr.ErrNotAParticipant
		}
	case db.MessageAIPrompt, db.MessageSystem:
		// external senders
	default:
		return nil, svcErr.ErrInvalidKind
	}

	if in.Kind == db.MessageVoice && !policy.UnlocksFor(conn.CurrentDay).Voice {
		return nil, svcErr.ErrVoiceLocked
	}

	msg := &db.Message{
		ConnectionID:  connectionID,
		SenderID:      in.SenderID,
		Kind:          in.Kind,
		Content:       in.Content,
		VoiceURL:      in.VoiceURL,
		VoiceDuration: in.VoiceDuration,
	}
	if err := s.msgRepo.Append(ctx, msg); err != nil {
		return nil, err
	}

	// bump unread counters; cache loss is recoverable from the DB
	if conn.HasParticipant(in.SenderID) {
		_ = s.appCtx.RedisCache.IncrUnread(ctx, connectionID, conn.PartnerOf(in.SenderID))
	} else {
		_ = s.appCtx.RedisCache.IncrUnread(ctx, connectionID, conn.UserAID)
		_ = s.appCtx.RedisCache.IncrUnread(ctx, connectionID, conn.UserBID)
	}

	return msg, nil
}

// ListMessages returns the conversation newest first with cursor
// pagination.
func (s *Service) ListMessages(ctx context.Context, connectionID uint64, paginationToken *string, limit int) ([]db.Message, *string, error) {
	if _, err := s.findConnection(ctx, connectionID); err != nil {
		return nil, nil, err
	}
	return s.msgRepo.List(ctx, connectionID, paginationToken, limit)
}

// MarkRead flags the partner's messages as read and resets the
// reader's unread counter.
func (s *Service) MarkRead(ctx context.Context, connectionID, userID uint64) error {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.HasParticipant(userID) {
		return svcErr.ErrNotAParticipant
	}
	if err := s.msgRepo.MarkRead(ctx, connectionID, userID); err != nil {
		return err
	}
	_ = s.appCtx.RedisCache.ResetUnread(ctx, connectionID, userID)
	return nil
}

// UnreadCount returns how many messages await the reader.
// Cache-first strategy:
//  1. Attempts to read from Redis (unread:count:connID:userID).
//  2. On cache miss, falls back to a DB count.
//  3. On DB fetch, updates Redis with a 1h TTL.
func (s *Service) UnreadCount(ctx context.Context, connectionID, userID uint64) (int64, error) {
	conn, err := s.findConnection(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	if !conn.HasParticipant(userID) {
		return 0, svcErr.ErrNotAParticipant
	}

	if n, found, err := s.appCtx.RedisCache.GetUnread(ctx, connectionID, userID); err == nil && found {
		return n, nil
	}

	count, err := s.msgRepo.CountUnread(ctx, connectionID, userID)
	if err != nil {
		return 0, err
	}
	_ = s.appCtx.RedisCache.SetUnread(ctx, connectionID, userID, count)
	return count, nil
}
