package domain

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/harborchat/harborchat/internal/platform/errors"
	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
)

// AddParticipant adds a user to a group conversation, reactivating a prior
// membership when one exists, and announces the invite to the target.
func (s *Service) AddParticipant(ctx context.Context, conversationID string, requesterID string, targetID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return apperrors.New(apperrors.CodeParticipantTargetRequired, "target user id is required")
	}
	conversationID = strings.TrimSpace(conversationID)

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return err
	}
	if !conversation.IsGroup {
		return apperrors.New(apperrors.CodeConversationNotAGroup, "participants can only be added to groups")
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return err
	}

	err = s.store.UpsertParticipant(ctx, Participant{
		ConversationID: conversationID,
		UserID:         targetID,
		JoinedAt:       s.nowUTC(),
		IsActive:       true,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return apperrors.New(apperrors.CodeParticipantAlreadyMember, "user is already an active participant")
		}
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return err
	}

	s.emit(fanout.GroupInvite{
		ActorID:        requesterID,
		TargetID:       targetID,
		ConversationID: conversationID,
		GroupName:      conversation.Name,
	})
	return nil
}

// RemoveParticipant deactivates a group membership. Users may leave on
// their own; only the conversation creator may remove someone else.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID string, requesterID string, targetID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return apperrors.New(apperrors.CodeParticipantTargetRequired, "target user id is required")
	}
	conversationID = strings.TrimSpace(conversationID)

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return err
	}
	if !conversation.IsGroup {
		return apperrors.New(apperrors.CodeConversationNotAGroup, "participants can only be removed from groups")
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return err
	}
	if targetID != requesterID && conversation.CreatedBy != requesterID {
		return apperrors.New(apperrors.CodeParticipantRemoveForbid, "only the creator can remove other participants")
	}

	if err := s.store.DeactivateParticipant(ctx, conversationID, targetID, s.nowUTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeParticipantNotFound, "user is not an active participant")
		}
		return err
	}
	return nil
}

// MarkRead zeroes the requester's unread counter and records read receipts
// for every message in the conversation.
func (s *Service) MarkRead(ctx context.Context, conversationID string, requesterID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	conversationID = strings.TrimSpace(conversationID)

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return err
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return err
	}
	if err := s.store.MarkConversationRead(ctx, conversationID, requesterID, s.nowUTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.New(apperrors.CodeConversationNotMember, "requester is not an active conversation participant")
		}
		return err
	}
	return nil
}
