package domain

import (
	"context"
	"log"
	"strings"
)

// EnsureConversation lazily materializes a client-generated conversation id
// before a message-scoped operation. An existing conversation passes through
// untouched: membership never changes here, so knowing an id grants nothing.
// A missing one is created as a direct conversation owned by the requester.
// Failures are logged and swallowed so the wrapped operation can fail
// cleanly on its own.
func (s *Service) EnsureConversation(ctx context.Context, conversationID string, requesterID string, participantIDs []string) {
	if s == nil || s.store == nil {
		return
	}
	conversationID = strings.TrimSpace(conversationID)
	requesterID = strings.TrimSpace(requesterID)
	if conversationID == "" || requesterID == "" {
		return
	}

	now := s.nowUTC()
	seen := map[string]struct{}{requesterID: {}}
	participants := []Participant{{
		ConversationID: conversationID,
		UserID:         requesterID,
		JoinedAt:       now,
		IsActive:       true,
	}}
	for _, participantID := range participantIDs {
		participantID = strings.TrimSpace(participantID)
		if participantID == "" {
			continue
		}
		if _, duplicate := seen[participantID]; duplicate {
			continue
		}
		seen[participantID] = struct{}{}
		participants = append(participants, Participant{
			ConversationID: conversationID,
			UserID:         participantID,
			JoinedAt:       now,
			IsActive:       true,
		})
	}

	conversation := Conversation{
		ID:        conversationID,
		CreatedBy: requesterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.EnsureConversation(ctx, conversation, participants); err != nil {
		log.Printf("ensure conversation %s: %v", conversationID, err)
	}
}
