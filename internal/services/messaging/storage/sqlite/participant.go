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

const participantColumns = "conversation_id, user_id, joined_at, is_active, is_admin, unread_count"

// GetParticipant loads one participant row, active or not.
func (s *Store) GetParticipant(ctx context.Context, conversationID string, userID string) (storage.ParticipantRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ParticipantRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ParticipantRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return storage.ParticipantRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+participantColumns+`
FROM participants
WHERE conversation_id = ? AND user_id = ?
`, conversationID, userID)
	record, err := scanParticipant(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ParticipantRecord{}, storage.ErrNotFound
		}
		return storage.ParticipantRecord{}, fmt.Errorf("get participant: %w", err)
	}
	return record, nil
}

// ListParticipants lists participant rows for a conversation ordered by join time.
func (s *Store) ListParticipants(ctx context.Context, conversationID string, activeOnly bool) ([]storage.ParticipantRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	query := `
SELECT ` + participantColumns + `
FROM participants
WHERE conversation_id = ?
`
	if activeOnly {
		query += "AND is_active = 1\n"
	}
	query += "ORDER BY joined_at ASC, user_id ASC\n"

	rows, err := s.sqlDB.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var results []storage.ParticipantRecord
	for rows.Next() {
		record, scanErr := scanParticipant(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan participant row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	return results, nil
}

// UpsertParticipant adds a user to a conversation, reactivating a previous
// membership when one exists. An active membership is reported as a conflict.
func (s *Store) UpsertParticipant(ctx context.Context, record storage.ParticipantRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeParticipantRecord(record)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "participant upsert", func(tx *sql.Tx) error {
		existing, err := participantStatus(ctx, tx, normalized.ConversationID, normalized.UserID)
		switch {
		case err == nil && existing:
			return storage.ErrConflict
		case err == nil:
			result, updateErr := tx.ExecContext(ctx, `
UPDATE participants
SET joined_at = ?, is_active = 1, is_admin = ?, unread_count = 0
WHERE conversation_id = ? AND user_id = ?
`, toMillis(normalized.JoinedAt), normalized.IsAdmin, normalized.ConversationID, normalized.UserID)
			if updateErr != nil {
				return fmt.Errorf("reactivate participant: %w", updateErr)
			}
			if _, affectedErr := result.RowsAffected(); affectedErr != nil {
				return fmt.Errorf("reactivate participant rows affected: %w", affectedErr)
			}
		case errors.Is(err, storage.ErrNotFound):
			if insertErr := insertParticipantExec(ctx, tx, normalized); insertErr != nil {
				return insertErr
			}
		default:
			return err
		}
		return bumpConversation(ctx, tx, normalized.ConversationID, normalized.JoinedAt)
	})
}

// DeactivateParticipant removes a user from a conversation without dropping history.
func (s *Store) DeactivateParticipant(ctx context.Context, conversationID string, userID string, at time.Time) error {
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
	if at.IsZero() {
		return fmt.Errorf("deactivation time is required")
	}

	return s.inTx(ctx, "participant deactivate", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE participants
SET is_active = 0
WHERE conversation_id = ? AND user_id = ? AND is_active = 1
`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("deactivate participant: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("deactivate participant rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
		return bumpConversation(ctx, tx, conversationID, at)
	})
}

// MarkConversationRead zeroes the reader's unread counter and records read
// receipts for every message in the conversation the reader has not seen.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, userID string, readAt time.Time) error {
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

	return s.inTx(ctx, "conversation mark read", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE participants
SET unread_count = 0
WHERE conversation_id = ? AND user_id = ? AND is_active = 1
`, conversationID, userID)
		if err != nil {
			return fmt.Errorf("reset unread count: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reset unread count rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
SELECT m.id, ?, ?
FROM messages m
WHERE m.conversation_id = ?
`, userID, toMillis(readAt), conversationID); err != nil {
			return fmt.Errorf("record read receipts: %w", err)
		}
		return nil
	})
}

func participantStatus(ctx context.Context, tx *sql.Tx, conversationID string, userID string) (bool, error) {
	var active bool
	err := tx.QueryRowContext(ctx, `
SELECT is_active
FROM participants
WHERE conversation_id = ? AND user_id = ?
`, conversationID, userID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("check participant: %w", err)
	}
	return active, nil
}

func bumpConversation(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
UPDATE conversations
SET updated_at = ?
WHERE id = ?
`, toMillis(at.UTC()), conversationID)
	if err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump conversation rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func normalizeParticipantRecords(conversationID string, records []storage.ParticipantRecord) ([]storage.ParticipantRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	normalized := make([]storage.ParticipantRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		record.ConversationID = conversationID
		current, err := normalizeParticipantRecord(record)
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[current.UserID]; duplicate {
			return nil, fmt.Errorf("duplicate participant %q", current.UserID)
		}
		seen[current.UserID] = struct{}{}
		normalized = append(normalized, current)
	}
	return normalized, nil
}

func normalizeParticipantRecord(record storage.ParticipantRecord) (storage.ParticipantRecord, error) {
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	record.UserID = strings.TrimSpace(record.UserID)
	if record.ConversationID == "" {
		return storage.ParticipantRecord{}, fmt.Errorf("participant conversation id is required")
	}
	if record.UserID == "" {
		return storage.ParticipantRecord{}, fmt.Errorf("participant user id is required")
	}
	if record.JoinedAt.IsZero() {
		return storage.ParticipantRecord{}, fmt.Errorf("participant joined_at is required")
	}
	if record.UnreadCount < 0 {
		return storage.ParticipantRecord{}, fmt.Errorf("participant unread count cannot be negative")
	}
	record.JoinedAt = record.JoinedAt.UTC()
	record.IsActive = true
	return record, nil
}

func insertParticipantExec(ctx context.Context, execer sqlExecer, record storage.ParticipantRecord) error {
	_, err := execer.ExecContext(ctx, `
	INSERT INTO participants (
		conversation_id, user_id, joined_at, is_active, is_admin, unread_count
	) VALUES (?, ?, ?, 1, ?, ?)
	`,
		record.ConversationID,
		record.UserID,
		toMillis(record.JoinedAt),
		record.IsAdmin,
		record.UnreadCount,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		if isForeignKeyConstraintError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func scanParticipant(scan scanner) (storage.ParticipantRecord, error) {
	var record storage.ParticipantRecord
	var joinedAt int64
	if err := scan(
		&record.ConversationID,
		&record.UserID,
		&joinedAt,
		&record.IsActive,
		&record.IsAdmin,
		&record.UnreadCount,
	); err != nil {
		return storage.ParticipantRecord{}, err
	}
	record.JoinedAt = fromMillis(joinedAt)
	return record, nil
}
