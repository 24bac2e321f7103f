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

const conversationColumns = "id, is_group, name, avatar_url, created_by, pair_key, created_at, updated_at"

// CreateConversation atomically inserts a conversation with its initial participants.
func (s *Store) CreateConversation(ctx context.Context, conversation storage.ConversationRecord, participants []storage.ParticipantRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeConversationRecord(conversation)
	if err != nil {
		return err
	}
	normalizedParticipants, err := normalizeParticipantRecords(normalized.ID, participants)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "conversation create", func(tx *sql.Tx) error {
		if err := insertConversationExec(ctx, tx, normalized); err != nil {
			return err
		}
		for _, participant := range normalizedParticipants {
			if err := insertParticipantExec(ctx, tx, participant); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureConversation inserts a conversation under a client-supplied id with
// the given participants active. An existing conversation is a strict no-op:
// membership never changes on this path.
func (s *Store) EnsureConversation(ctx context.Context, conversation storage.ConversationRecord, participants []storage.ParticipantRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeConversationRecord(conversation)
	if err != nil {
		return err
	}
	normalizedParticipants, err := normalizeParticipantRecords(normalized.ID, participants)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "conversation ensure", func(tx *sql.Tx) error {
		exists, err := conversationExists(ctx, tx, normalized.ID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := insertConversationExec(ctx, tx, normalized); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				return err
			}
			// Lost a race: either the same id landed concurrently (treated
			// as existing, membership untouched) or the pair key belongs to
			// a different conversation.
			exists, lookupErr := conversationExists(ctx, tx, normalized.ID)
			if lookupErr != nil {
				return lookupErr
			}
			if !exists {
				return storage.ErrConflict
			}
			return nil
		}
		for _, participant := range normalizedParticipants {
			if err := insertParticipantExec(ctx, tx, participant); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation loads one conversation by id.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+conversationColumns+`
FROM conversations
WHERE id = ?
`, conversationID)
	record, err := scanConversation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ConversationRecord{}, storage.ErrNotFound
		}
		return storage.ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}
	return record, nil
}

// GetConversationByPairKey loads the active direct conversation for a pair key.
func (s *Store) GetConversationByPairKey(ctx context.Context, pairKey string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	pairKey = strings.TrimSpace(pairKey)
	if pairKey == "" {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+conversationColumns+`
FROM conversations
WHERE pair_key = ?
`, pairKey)
	record, err := scanConversation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ConversationRecord{}, storage.ErrNotFound
		}
		return storage.ConversationRecord{}, fmt.Errorf("get conversation by pair key: %w", err)
	}
	return record, nil
}

// UpdateConversationProfile sets group name/avatar and bumps updated_at.
func (s *Store) UpdateConversationProfile(ctx context.Context, conversationID string, name string, avatarURL string, updatedAt time.Time) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	if updatedAt.IsZero() {
		return storage.ConversationRecord{}, fmt.Errorf("updated_at is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE conversations
SET name = ?, avatar_url = ?, updated_at = ?
WHERE id = ?
`, strings.TrimSpace(name), strings.TrimSpace(avatarURL), toMillis(updatedAt), conversationID)
	if err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("update conversation profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.ConversationRecord{}, fmt.Errorf("update conversation profile rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}
	return s.GetConversation(ctx, conversationID)
}

// ListConversationsByUser lists active-membership conversations, most recently updated first.
func (s *Store) ListConversationsByUser(ctx context.Context, userID string) ([]storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT c.id, c.is_group, c.name, c.avatar_url, c.created_by, c.pair_key, c.created_at, c.updated_at
FROM conversations c
JOIN participants p ON p.conversation_id = c.id
WHERE p.user_id = ? AND p.is_active = 1
ORDER BY c.updated_at DESC, c.id DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations by user: %w", err)
	}
	defer rows.Close()

	var results []storage.ConversationRecord
	for rows.Next() {
		record, scanErr := scanConversation(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan conversation row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return results, nil
}

func conversationExists(ctx context.Context, tx *sql.Tx, conversationID string) (bool, error) {
	var found int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", conversationID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check conversation exists: %w", err)
	}
	return true, nil
}

func normalizeConversationRecord(record storage.ConversationRecord) (storage.ConversationRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.Name = strings.TrimSpace(record.Name)
	record.AvatarURL = strings.TrimSpace(record.AvatarURL)
	record.CreatedBy = strings.TrimSpace(record.CreatedBy)
	record.PairKey = strings.TrimSpace(record.PairKey)
	if record.ID == "" {
		return storage.ConversationRecord{}, fmt.Errorf("conversation id is required")
	}
	if record.CreatedBy == "" {
		return storage.ConversationRecord{}, fmt.Errorf("conversation created_by is required")
	}
	if record.IsGroup && record.PairKey != "" {
		return storage.ConversationRecord{}, fmt.Errorf("group conversations cannot carry a pair key")
	}
	if record.CreatedAt.IsZero() {
		return storage.ConversationRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return storage.ConversationRecord{}, fmt.Errorf("updated_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func insertConversationExec(ctx context.Context, execer sqlExecer, record storage.ConversationRecord) error {
	_, err := execer.ExecContext(ctx, `
	INSERT INTO conversations (
		id, is_group, name, avatar_url, created_by, pair_key, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.IsGroup,
		record.Name,
		record.AvatarURL,
		record.CreatedBy,
		nullableText(record.PairKey),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func scanConversation(scan scanner) (storage.ConversationRecord, error) {
	var record storage.ConversationRecord
	var pairKey sql.NullString
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.IsGroup,
		&record.Name,
		&record.AvatarURL,
		&record.CreatedBy,
		&pairKey,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.ConversationRecord{}, err
	}
	record.PairKey = pairKey.String
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
