package domain

import (
	"context"
	"errors"
	"sort"
	"strings"

	apperrors "github.com/harborchat/harborchat/internal/platform/errors"
	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
)

// CreateConversationInput describes one conversation creation request.
type CreateConversationInput struct {
	RequesterID    string
	ParticipantIDs []string
	IsGroup        bool
	Name           string
	AvatarURL      string
	// ConversationID is an optional client-supplied id, used verbatim.
	ConversationID string
}

// CreateConversation creates a conversation for the requester. Direct pairs
// de-duplicate against the existing active conversation for the same two
// users; groups always create a new conversation and announce it to the
// other initial members.
func (s *Service) CreateConversation(ctx context.Context, input CreateConversationInput) (Conversation, error) {
	if s == nil || s.store == nil {
		return Conversation{}, ErrStoreNotConfigured
	}
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return Conversation{}, apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	others, err := normalizeOthers(requesterID, input.ParticipantIDs)
	if err != nil {
		return Conversation{}, err
	}

	if !input.IsGroup {
		if len(others) != 1 {
			return Conversation{}, apperrors.New(apperrors.CodeConversationDirectPeer, "direct conversations need exactly one other participant")
		}
		return s.createDirectConversation(ctx, requesterID, others[0], strings.TrimSpace(input.ConversationID))
	}
	return s.createGroupConversation(ctx, requesterID, others, input)
}

func (s *Service) createDirectConversation(ctx context.Context, requesterID string, otherID string, conversationID string) (Conversation, error) {
	pairKey := s.pairKeyFor(requesterID, otherID)
	existing, err := s.store.GetConversationByPairKey(ctx, pairKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	if conversationID == "" {
		generated, idErr := s.newID()
		if idErr != nil {
			return Conversation{}, idErr
		}
		conversationID = generated
	}
	now := s.nowUTC()
	conversation := Conversation{
		ID:        conversationID,
		CreatedBy: requesterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := []Participant{
		{ConversationID: conversationID, UserID: requesterID, JoinedAt: now, IsActive: true},
		{ConversationID: conversationID, UserID: otherID, JoinedAt: now, IsActive: true},
	}
	if err := s.store.CreateConversation(ctx, conversation, participants); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the de-dup race; the winner is authoritative.
			winner, lookupErr := s.store.GetConversationByPairKey(ctx, pairKey)
			if lookupErr == nil {
				return winner, nil
			}
			if errors.Is(lookupErr, ErrNotFound) {
				return Conversation{}, apperrors.Wrap(apperrors.CodeConversationDirectPairDup, "direct conversation already exists", err)
			}
			return Conversation{}, lookupErr
		}
		return Conversation{}, err
	}
	return conversation, nil
}

func (s *Service) createGroupConversation(ctx context.Context, requesterID string, others []string, input CreateConversationInput) (Conversation, error) {
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		generated, err := s.newID()
		if err != nil {
			return Conversation{}, err
		}
		conversationID = generated
	}
	now := s.nowUTC()
	conversation := Conversation{
		ID:        conversationID,
		IsGroup:   true,
		Name:      strings.TrimSpace(input.Name),
		AvatarURL: strings.TrimSpace(input.AvatarURL),
		CreatedBy: requesterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	participants := make([]Participant, 0, len(others)+1)
	participants = append(participants, Participant{
		ConversationID: conversationID,
		UserID:         requesterID,
		JoinedAt:       now,
		IsActive:       true,
		IsAdmin:        true,
	})
	for _, other := range others {
		participants = append(participants, Participant{
			ConversationID: conversationID,
			UserID:         other,
			JoinedAt:       now,
			IsActive:       true,
		})
	}
	if err := s.store.CreateConversation(ctx, conversation, participants); err != nil {
		return Conversation{}, err
	}

	events := make([]fanout.Event, 0, len(others))
	for _, other := range others {
		events = append(events, fanout.GroupCreated{
			ActorID:        requesterID,
			TargetID:       other,
			ConversationID: conversationID,
			GroupName:      conversation.Name,
		})
	}
	s.emit(events...)
	return conversation, nil
}

// UpdateConversationInput describes a group profile change.
type UpdateConversationInput struct {
	ConversationID string
	RequesterID    string
	Name           *string
	AvatarURL      *string
}

// UpdateConversation changes a group's name or avatar. Only active
// participants may update, and direct conversations have no profile.
func (s *Service) UpdateConversation(ctx context.Context, input UpdateConversationInput) (Conversation, error) {
	if s == nil || s.store == nil {
		return Conversation{}, ErrStoreNotConfigured
	}
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return Conversation{}, apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return Conversation{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation id is required")
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Conversation{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return Conversation{}, err
	}
	if !conversation.IsGroup {
		return Conversation{}, apperrors.New(apperrors.CodeConversationNotAGroup, "direct conversations have no profile")
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return Conversation{}, err
	}

	name := conversation.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	avatarURL := conversation.AvatarURL
	if input.AvatarURL != nil {
		avatarURL = strings.TrimSpace(*input.AvatarURL)
	}
	updated, err := s.store.UpdateConversationProfile(ctx, conversationID, name, avatarURL, s.nowUTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Conversation{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return Conversation{}, err
	}
	return updated, nil
}

// GetConversation returns the requester's enriched view of one conversation.
func (s *Service) GetConversation(ctx context.Context, conversationID string, requesterID string) (ConversationView, error) {
	if s == nil || s.store == nil {
		return ConversationView{}, ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return ConversationView{}, apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ConversationView{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation id is required")
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConversationView{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return ConversationView{}, err
	}
	if _, err := s.requireActiveParticipant(ctx, conversationID, requesterID); err != nil {
		return ConversationView{}, err
	}
	return s.buildConversationView(ctx, conversation, requesterID)
}

// ListConversations returns the requester's active conversations as enriched
// views, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, requesterID string) ([]ConversationView, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "requester is required")
	}

	conversations, err := s.store.ListConversationsByUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	views := make([]ConversationView, 0, len(conversations))
	for _, conversation := range conversations {
		view, viewErr := s.buildConversationView(ctx, conversation, requesterID)
		if viewErr != nil {
			return nil, viewErr
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) buildConversationView(ctx context.Context, conversation Conversation, requesterID string) (ConversationView, error) {
	participants, err := s.store.ListParticipants(ctx, conversation.ID, true)
	if err != nil {
		return ConversationView{}, err
	}
	view := ConversationView{
		Conversation: conversation,
		Participants: participants,
	}
	for _, participant := range participants {
		if participant.UserID == requesterID {
			view.UnreadCount = participant.UnreadCount
			continue
		}
		if !conversation.IsGroup {
			view.OtherUserID = participant.UserID
		}
	}

	last, err := s.store.GetLastMessage(ctx, conversation.ID)
	switch {
	case err == nil:
		view.LastMessage = &last
	case errors.Is(err, ErrNotFound):
	default:
		return ConversationView{}, err
	}
	return view, nil
}

func (s *Service) pairKeyFor(userA, userB string) string {
	if s.pairKey != nil {
		return s.pairKey(userA, userB)
	}
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// normalizeOthers trims, de-duplicates, and strips the requester from the
// requested participant set.
func normalizeOthers(requesterID string, participantIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(participantIDs))
	provided := 0
	var others []string
	for _, participantID := range participantIDs {
		participantID = strings.TrimSpace(participantID)
		if participantID == "" {
			continue
		}
		provided++
		if participantID == requesterID {
			continue
		}
		if _, duplicate := seen[participantID]; duplicate {
			continue
		}
		seen[participantID] = struct{}{}
		others = append(others, participantID)
	}
	if len(others) == 0 {
		if provided > 0 {
			return nil, apperrors.New(apperrors.CodeConversationSelfOnly, "conversation needs a participant besides the requester")
		}
		return nil, apperrors.New(apperrors.CodeConversationEmptyMembers, "conversation participants are required")
	}
	sort.Strings(others)
	return others, nil
}
