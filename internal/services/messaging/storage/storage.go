// Package storage defines persistence contracts for messaging service state.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a requested conversation, participant, or message is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// PairKey returns the canonical key identifying an unordered direct pair.
// The same two user ids always produce the same key regardless of order.
func PairKey(userA, userB string) string {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// ConversationRecord stores one conversation row.
//
// PairKey is set only for direct conversations; the partial unique index over
// it is the concurrency guard for direct-pair de-duplication.
type ConversationRecord struct {
	ID        string
	IsGroup   bool
	Name      string
	AvatarURL string
	CreatedBy string
	PairKey   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantRecord stores one membership row. Exactly one row exists per
// (conversation, user) pair; leaving flips IsActive instead of deleting.
type ParticipantRecord struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
	IsActive       bool
	IsAdmin        bool
	UnreadCount    int
}

// MessageRecord stores one message row. Empty Content/MediaURL read as
// absent; soft deletion clears both but keeps the row for ordering.
type MessageRecord struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	MediaType      string
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageReadRecord stores one per-user read receipt.
type MessageReadRecord struct {
	MessageID string
	UserID    string
	ReadAt    time.Time
}

// ConversationStore persists conversation identity and metadata.
type ConversationStore interface {
	// CreateConversation atomically inserts a conversation with its initial
	// participant rows. A unique-constraint violation returns ErrConflict
	// with no partial write.
	CreateConversation(ctx context.Context, conversation ConversationRecord, participants []ParticipantRecord) error
	// EnsureConversation inserts a conversation under a client-supplied id
	// with the given participants active. An existing id is a strict no-op:
	// membership is never touched. A pair-key collision with a different
	// conversation returns ErrConflict.
	EnsureConversation(ctx context.Context, conversation ConversationRecord, participants []ParticipantRecord) error
	GetConversation(ctx context.Context, conversationID string) (ConversationRecord, error)
	GetConversationByPairKey(ctx context.Context, pairKey string) (ConversationRecord, error)
	// UpdateConversationProfile sets group name/avatar and bumps updated_at.
	UpdateConversationProfile(ctx context.Context, conversationID string, name string, avatarURL string, updatedAt time.Time) (ConversationRecord, error)
	// ListConversationsByUser returns conversations where the user is an
	// active participant, most recently updated first.
	ListConversationsByUser(ctx context.Context, userID string) ([]ConversationRecord, error)
}

// ParticipantStore persists membership state and unread counters.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, conversationID string, userID string) (ParticipantRecord, error)
	ListParticipants(ctx context.Context, conversationID string, activeOnly bool) ([]ParticipantRecord, error)
	// UpsertParticipant inserts a membership row or reactivates an inactive
	// one, bumping the conversation updated_at in the same transaction.
	// An already-active row returns ErrConflict.
	UpsertParticipant(ctx context.Context, participant ParticipantRecord) error
	// DeactivateParticipant flips a membership row inactive and bumps the
	// conversation updated_at. A missing or already-inactive row returns
	// ErrNotFound.
	DeactivateParticipant(ctx context.Context, conversationID string, userID string, at time.Time) error
	// MarkConversationRead zeroes the user's unread counter and inserts a
	// read receipt for every conversation message the user has not yet
	// read, all in one transaction. Existing receipts are left untouched.
	MarkConversationRead(ctx context.Context, conversationID string, userID string, readAt time.Time) error
}

// MessageStore persists message rows and read receipts.
type MessageStore interface {
	// AppendMessage runs the send transaction: insert the message, record
	// the sender's own read receipt, increment every other active
	// participant's unread counter with one set-based update, and bump the
	// conversation updated_at. All-or-nothing.
	AppendMessage(ctx context.Context, message MessageRecord) error
	GetMessage(ctx context.Context, messageID string) (MessageRecord, error)
	// ListMessages returns up to limit messages oldest-first. A non-empty
	// beforeID restricts results to messages strictly before that message
	// in (created_at, id) order.
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]MessageRecord, error)
	GetLastMessage(ctx context.Context, conversationID string) (MessageRecord, error)
	// SoftDeleteMessage clears content and media but keeps the row in its
	// ordering slot. The conversation updated_at is not touched.
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	// InsertMessageRead records a read receipt; duplicate inserts are no-ops.
	InsertMessageRead(ctx context.Context, read MessageReadRecord) error
	// MarkMessagesRead inserts read receipts for the given messages and
	// zeroes the user's unread counter in one transaction.
	MarkMessagesRead(ctx context.Context, conversationID string, userID string, messageIDs []string, readAt time.Time) error
}
