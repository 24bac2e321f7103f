// Package domain implements the conversation and messaging core: the
// conversation directory, the participant ledger with unread counters, the
// message store with read receipts, and the reconciliation path for
// client-generated conversation ids.
package domain

import (
	"context"
	"errors"
	"log"
	"time"

	apperrors "github.com/harborchat/harborchat/internal/platform/errors"
	"github.com/harborchat/harborchat/internal/platform/id"
	"github.com/harborchat/harborchat/internal/platform/timeouts"
	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
)

var (
	// ErrNotFound indicates a requested record does not exist in the store.
	ErrNotFound = errors.New("messaging record not found")
	// ErrConflict indicates a write conflicted with a uniqueness constraint.
	ErrConflict = errors.New("messaging record conflict")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("messaging store is not configured")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Conversation is one direct or group conversation.
type Conversation struct {
	ID        string
	IsGroup   bool
	Name      string
	AvatarURL string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is one user's membership in a conversation.
type Participant struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
	IsActive       bool
	IsAdmin        bool
	UnreadCount    int
}

// Message is one conversation message. Soft-deleted messages keep their
// ordering slot with cleared content and media fields.
type Message struct {
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

// ConversationView enriches a conversation for one requesting user.
type ConversationView struct {
	Conversation Conversation
	Participants []Participant
	// OtherUserID is the peer in a direct conversation; empty for groups.
	OtherUserID string
	// LastMessage is nil when the conversation has no messages yet.
	LastMessage *Message
	UnreadCount int
}

// Store is the domain persistence boundary.
type Store interface {
	CreateConversation(ctx context.Context, conversation Conversation, participants []Participant) error
	EnsureConversation(ctx context.Context, conversation Conversation, participants []Participant) error
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	GetConversationByPairKey(ctx context.Context, pairKey string) (Conversation, error)
	UpdateConversationProfile(ctx context.Context, conversationID string, name string, avatarURL string, updatedAt time.Time) (Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)

	GetParticipant(ctx context.Context, conversationID string, userID string) (Participant, error)
	ListParticipants(ctx context.Context, conversationID string, activeOnly bool) ([]Participant, error)
	UpsertParticipant(ctx context.Context, participant Participant) error
	DeactivateParticipant(ctx context.Context, conversationID string, userID string, at time.Time) error
	MarkConversationRead(ctx context.Context, conversationID string, userID string, readAt time.Time) error

	AppendMessage(ctx context.Context, message Message) error
	GetMessage(ctx context.Context, messageID string) (Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]Message, error)
	GetLastMessage(ctx context.Context, conversationID string) (Message, error)
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	InsertMessageRead(ctx context.Context, messageID string, userID string, readAt time.Time) error
	MarkMessagesRead(ctx context.Context, conversationID string, userID string, messageIDs []string, readAt time.Time) error
}

// PairKeyFunc builds the canonical direct-conversation key for two users.
type PairKeyFunc func(userA, userB string) string

// Service orchestrates conversation, membership, and message lifecycle
// behavior on top of a transactional store.
type Service struct {
	store    Store
	notifier fanout.Notifier
	pairKey  PairKeyFunc
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService constructs messaging domain use-cases. A nil notifier falls
// back to the logging sink, a nil clock to time.Now, and a nil id generator
// to the platform generator.
func NewService(store Store, notifier fanout.Notifier, pairKey PairKeyFunc, clock func() time.Time, newID func() (string, error)) *Service {
	if notifier == nil {
		notifier = fanout.NewLogNotifier(nil)
	}
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    store,
		notifier: notifier,
		pairKey:  pairKey,
		clock:    clock,
		newID:    newID,
	}
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// requireActiveParticipant loads the requester's membership and rejects
// missing or inactive rows.
func (s *Service) requireActiveParticipant(ctx context.Context, conversationID string, userID string) (Participant, error) {
	participant, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Participant{}, apperrors.New(apperrors.CodeConversationNotMember, "requester is not a conversation participant")
		}
		return Participant{}, err
	}
	if !participant.IsActive {
		return Participant{}, apperrors.New(apperrors.CodeConversationNotMember, "requester is not an active conversation participant")
	}
	return participant, nil
}

// emit delivers events outside the request path. Failures are logged and
// never surfaced to the caller.
func (s *Service) emit(events ...fanout.Event) {
	if s == nil || s.notifier == nil || len(events) == 0 {
		return
	}
	notifier := s.notifier
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Fanout)
		defer cancel()
		for _, event := range events {
			if err := notifier.Notify(ctx, event); err != nil {
				log.Printf("fanout %s to %s: %v", event.Kind(), event.Target(), err)
			}
		}
	}()
}
