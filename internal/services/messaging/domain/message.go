package domain

import (
	"context"
	"errors"
	"log"
	"strings"

	apperrors "github.com/harborchat/harborchat/internal/platform/errors"
	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
)

// SendMessageInput describes one outbound message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	MediaURL       string
	MediaType      string
}

// SendMessage persists a message, marks it read for the sender, increments
// the other active participants' unread counters, and bumps the
// conversation. After the transaction commits, a new-message event goes out
// to every other active participant.
func (s *Service) SendMessage(ctx context.Context, input SendMessageInput) (Message, error) {
	if s == nil || s.store == nil {
		return Message{}, ErrStoreNotConfigured
	}
	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return Message{}, apperrors.New(apperrors.CodeUnauthenticated, "sender is required")
	}
	conversationID := strings.TrimSpace(input.ConversationID)
	content := strings.TrimSpace(input.Content)
	mediaURL := strings.TrimSpace(input.MediaURL)
	if content == "" && mediaURL == "" {
		return Message{}, apperrors.New(apperrors.CodeMessageEmpty, "message needs content or media")
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Message{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return Message{}, err
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, senderID); err != nil {
		return Message{}, err
	}

	messageID, err := s.newID()
	if err != nil {
		return Message{}, err
	}
	now := s.nowUTC()
	message := Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MediaURL:       mediaURL,
		MediaType:      strings.TrimSpace(input.MediaType),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Message{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return Message{}, err
	}

	participants, err := s.store.ListParticipants(ctx, conversationID, true)
	if err != nil {
		// The message is committed; delivery is best effort.
		return message, nil
	}
	preview := fanout.Preview(content)
	events := make([]fanout.Event, 0, len(participants))
	for _, participant := range participants {
		if participant.UserID == senderID {
			continue
		}
		events = append(events, fanout.NewMessage{
			ActorID:        senderID,
			TargetID:       participant.UserID,
			ConversationID: conversationID,
			GroupName:      conversation.Name,
			ContentPreview: preview,
			IsGroup:        conversation.IsGroup,
		})
	}
	s.emit(events...)
	return message, nil
}

// ListMessagesInput configures message history paging.
type ListMessagesInput struct {
	ConversationID string
	RequesterID    string
	Limit          int
	// BeforeID pages backward: only messages strictly before this message's
	// (created_at, id) position are returned.
	BeforeID string
}

// ListMessages returns a page of history oldest first and, as a side
// effect, marks the returned messages as read for the requester.
func (s *Service) ListMessages(ctx context.Context, input ListMessagesInput) ([]Message, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	conversationID := strings.TrimSpace(input.ConversationID)

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return nil, err
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	limit := input.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	messages, err := s.store.ListMessages(ctx, conversationID, limit, strings.TrimSpace(input.BeforeID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.New(apperrors.CodeMessageInvalidCursor, "cursor message not found in conversation")
		}
		return nil, err
	}

	if len(messages) > 0 {
		messageIDs := make([]string, 0, len(messages))
		for _, message := range messages {
			messageIDs = append(messageIDs, message.ID)
		}
		if err := s.store.MarkMessagesRead(ctx, conversationID, requesterID, messageIDs, s.nowUTC()); err != nil {
			// Reading history never fails because receipts lagged.
			log.Printf("mark messages read for %s: %v", requesterID, err)
		}
	}
	return messages, nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete, and the
// tombstone keeps its slot in history.
func (s *Service) DeleteMessage(ctx context.Context, messageID string, requesterID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	messageID = strings.TrimSpace(messageID)

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeMessageNotFound, "message not found")
		}
		return err
	}
	if message.SenderID != requesterID {
		return apperrors.New(apperrors.CodeMessageDeleteForbid, "only the sender can delete a message")
	}

	if err := s.store.SoftDeleteMessage(ctx, messageID, s.nowUTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeMessageNotFound, "message not found")
		}
		return err
	}
	return nil
}

// MarkMessageRead records a single read receipt. The conversation-level
// unread counter is untouched; only MarkRead and ListMessages reset it.
func (s *Service) MarkMessageRead(ctx context.Context, messageID string, requesterID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	messageID = strings.TrimSpace(messageID)

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeMessageNotFound, "message not found")
		}
		return err
	}
	if _, err := s.requireActiveParticipant(ctx, message.ConversationID, requesterID); err != nil {
		return err
	}

	if err := s.store.InsertMessageRead(ctx, messageID, requesterID, s.nowUTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeMessageNotFound, "message not found")
		}
		return err
	}
	return nil
}
