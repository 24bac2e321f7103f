package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harborchat/harborchat/internal/services/messaging/storage"
)

const messageColumns = "id, conversation_id, sender_id, content, media_url, media_type, is_deleted, created_at, updated_at"

// AppendMessage inserts a message, records the sender's own read receipt,
// increments unread counters for the other active participants, and bumps
// the conversation's updated_at. All of it lands in one transaction.
func (s *Store) AppendMessage(ctx context.Context, record storage.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeMessageRecord(record)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "message append", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages (
	id, conversation_id, sender_id, content, media_url, media_type, is_deleted, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
`,
			normalized.ID,
			normalized.ConversationID,
			normalized.SenderID,
			nullableText(normalized.Content),
			nullableText(normalized.MediaURL),
			nullableText(normalized.MediaType),
			toMillis(normalized.CreatedAt),
			toMillis(normalized.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return storage.ErrConflict
			}
			if isForeignKeyConstraintError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
VALUES (?, ?, ?)
`, normalized.ID, normalized.SenderID, toMillis(normalized.CreatedAt)); err != nil {
			return fmt.Errorf("record sender read receipt: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE participants
SET unread_count = unread_count + 1
WHERE conversation_id = ? AND user_id <> ? AND is_active = 1
`, normalized.ConversationID, normalized.SenderID); err != nil {
			return fmt.Errorf("increment unread counts: %w", err)
		}
		return bumpConversation(ctx, tx, normalized.ConversationID, normalized.CreatedAt)
	})
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return storage.MessageRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE id = ?
`, messageID)
	record, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MessageRecord{}, storage.ErrNotFound
		}
		return storage.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	return record, nil
}

// ListMessages returns up to limit messages in oldest-first order. When
// beforeID names a message in the conversation, only messages strictly
// preceding it are returned.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	beforeID = strings.TrimSpace(beforeID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := `
SELECT ` + messageColumns + `
FROM messages
WHERE conversation_id = ?
`
	args := []any{conversationID}
	if beforeID != "" {
		var anchorCreatedAt int64
		err := s.sqlDB.QueryRowContext(ctx, `
SELECT created_at
FROM messages
WHERE id = ? AND conversation_id = ?
`, beforeID, conversationID).Scan(&anchorCreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, storage.ErrNotFound
			}
			return nil, fmt.Errorf("resolve cursor message: %w", err)
		}
		query += "AND (created_at < ? OR (created_at = ? AND id < ?))\n"
		args = append(args, anchorCreatedAt, anchorCreatedAt, beforeID)
	}
	query += "ORDER BY created_at DESC, id DESC\nLIMIT ?\n"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var results []storage.MessageRecord
	for rows.Next() {
		record, scanErr := scanMessage(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan message row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// GetLastMessage returns the most recent message in a conversation.
func (s *Store) GetLastMessage(ctx context.Context, conversationID string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.MessageRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE conversation_id = ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`, conversationID)
	record, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MessageRecord{}, storage.ErrNotFound
		}
		return storage.MessageRecord{}, fmt.Errorf("get last message: %w", err)
	}
	return record, nil
}

// SoftDeleteMessage tombstones a message while keeping its ordering slot.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return storage.ErrNotFound
	}
	if at.IsZero() {
		return fmt.Errorf("deletion time is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE messages
SET is_deleted = 1, content = NULL, media_url = NULL, media_type = NULL, updated_at = ?
WHERE id = ?
`, toMillis(at.UTC()), messageID)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete message rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertMessageRead records a single read receipt. Repeats are ignored.
func (s *Store) InsertMessageRead(ctx context.Context, record storage.MessageReadRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.MessageID = strings.TrimSpace(record.MessageID)
	record.UserID = strings.TrimSpace(record.UserID)
	if record.MessageID == "" || record.UserID == "" {
		return fmt.Errorf("message id and user id are required")
	}
	if record.ReadAt.IsZero() {
		return fmt.Errorf("read time is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
VALUES (?, ?, ?)
`, record.MessageID, record.UserID, toMillis(record.ReadAt.UTC()))
	if err != nil {
		if isForeignKeyConstraintError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert message read: %w", err)
	}
	return nil
}

// MarkMessagesRead records receipts for the given messages and zeroes the
// reader's unread counter for the conversation.
func (s *Store) MarkMessagesRead(ctx context.Context, conversationID string, userID string, messageIDs []string, readAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return storage.ErrNotFound
	}
	if readAt.IsZero() {
		return fmt.Errorf("read time is required")
	}

	return s.inTx(ctx, "messages mark read", func(tx *sql.Tx) error {
		at := toMillis(readAt.UTC())
		for _, messageID := range messageIDs {
			messageID = strings.TrimSpace(messageID)
			if messageID == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
VALUES (?, ?, ?)
`, messageID, userID, at); err != nil {
				if isForeignKeyConstraintError(err) {
					return storage.ErrNotFound
				}
				return fmt.Errorf("insert message read: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE participants
SET unread_count = 0
WHERE conversation_id = ? AND user_id = ? AND is_active = 1
`, conversationID, userID); err != nil {
			return fmt.Errorf("reset unread count: %w", err)
		}
		return nil
	})
}

func normalizeMessageRecord(record storage.MessageRecord) (storage.MessageRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	record.SenderID = strings.TrimSpace(record.SenderID)
	record.Content = strings.TrimSpace(record.Content)
	record.MediaURL = strings.TrimSpace(record.MediaURL)
	record.MediaType = strings.TrimSpace(record.MediaType)
	if record.ID == "" {
		return storage.MessageRecord{}, fmt.Errorf("message id is required")
	}
	if record.ConversationID == "" {
		return storage.MessageRecord{}, fmt.Errorf("message conversation id is required")
	}
	if record.SenderID == "" {
		return storage.MessageRecord{}, fmt.Errorf("message sender id is required")
	}
	if record.Content == "" && record.MediaURL == "" {
		return storage.MessageRecord{}, fmt.Errorf("message needs content or media")
	}
	if record.CreatedAt.IsZero() {
		return storage.MessageRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	} else {
		record.UpdatedAt = record.UpdatedAt.UTC()
	}
	return record, nil
}

func scanMessage(scan scanner) (storage.MessageRecord, error) {
	var record storage.MessageRecord
	var content sql.NullString
	var mediaURL sql.NullString
	var mediaType sql.NullString
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.ConversationID,
		&record.SenderID,
		&content,
		&mediaURL,
		&mediaType,
		&record.IsDeleted,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.MessageRecord{}, err
	}
	record.Content = content.String
	record.MediaURL = mediaURL.String
	record.MediaType = mediaType.String
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
