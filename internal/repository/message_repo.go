package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/alignhq/alignment-protocol/internal/db"
	"github.com/alignhq/alignment-protocol/internal/utils/pagination"
)

// MessageRepository provides data access methods for the append-only
// protocol conversation.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new repository bound to the given DB connection.
func NewMessageRepository(database *gorm.DB) *MessageRepository {
	return &MessageRepository{db: database}
}

// Append inserts a message. Messages are never mutated afterwards
// except the read flag.
func (r *MessageRepository) Append(ctx context.Context, msg *db.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// List returns a connection's messages newest first.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.List(ctx, 42, nil, 20) // latest 20 messages of connection 42
func (r *MessageRepository) List(
	ctx context.Context,
	connectionID uint64,
	paginationToken *string,
	limit int,
) ([]db.Message, *string, error) {
	var messages []db.Message

	// decode cursor if provided
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Table("messages m").
		Where("m.connection_id = ?", connectionID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit + 1)

	// apply cursor
	if cursor.ID > 0 && cursor.CreatedUnix > 0 {
		ts := time.UnixMilli(cursor.CreatedUnix)
		query = query.Where(
			"(m.created_at < ? OR (m.created_at = ? AND m.id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&messages).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(messages) > limit {
		last := messages[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			ID:          last.ID,
			CreatedUnix: last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		messages = messages[:limit]
	}

	return messages, nextToken, nil
}

// MarkRead flags every message not sent by the reader as read.
func (r *MessageRepository) MarkRead(ctx context.Context, connectionID, readerID uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("connection_id = ? AND sender_id <> ? AND `read` = ?", connectionID, readerID, false).
		Update("read", true).Error
}

// CountUnread counts messages awaiting the reader. Used as the DB
// fallback behind the Redis counter.
func (r *MessageRepository) CountUnread(ctx context.Context, connectionID, readerID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("connection_id = ? AND sender_id <> ? AND `read` = ?", connectionID, readerID, false).
		Count(&count).Error
	return count, err
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
