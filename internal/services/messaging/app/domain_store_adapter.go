package server

import (
	"context"
	"errors"
	"time"

	"github.com/harborchat/harborchat/internal/services/messaging/domain"
	"github.com/harborchat/harborchat/internal/services/messaging/storage"
)

// domainStoreAdapter bridges the domain persistence boundary onto the
// storage layer, translating records and sentinel errors.
type domainStoreAdapter struct {
	conversations storage.ConversationStore
	participants  storage.ParticipantStore
	messages      storage.MessageStore
}

func newDomainStoreAdapter(conversations storage.ConversationStore, participants storage.ParticipantStore, messages storage.MessageStore) *domainStoreAdapter {
	return &domainStoreAdapter{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
	}
}

func (a *domainStoreAdapter) CreateConversation(ctx context.Context, conversation domain.Conversation, participants []domain.Participant) error {
	if a == nil || a.conversations == nil {
		return domain.ErrStoreNotConfigured
	}
	record := toStorageConversation(conversation, participants)
	return mapStorageError(a.conversations.CreateConversation(ctx, record, toStorageParticipants(participants)))
}

func (a *domainStoreAdapter) EnsureConversation(ctx context.Context, conversation domain.Conversation, participants []domain.Participant) error {
	if a == nil || a.conversations == nil {
		return domain.ErrStoreNotConfigured
	}
	record := toStorageConversation(conversation, participants)
	return mapStorageError(a.conversations.EnsureConversation(ctx, record, toStorageParticipants(participants)))
}

func (a *domainStoreAdapter) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	if a == nil || a.conversations == nil {
		return domain.Conversation{}, domain.ErrStoreNotConfigured
	}
	record, err := a.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, mapStorageError(err)
	}
	return toDomainConversation(record), nil
}

func (a *domainStoreAdapter) GetConversationByPairKey(ctx context.Context, pairKey string) (domain.Conversation, error) {
	if a == nil || a.conversations == nil {
		return domain.Conversation{}, domain.ErrStoreNotConfigured
	}
	record, err := a.conversations.GetConversationByPairKey(ctx, pairKey)
	if err != nil {
		return domain.Conversation{}, mapStorageError(err)
	}
	return toDomainConversation(record), nil
}

func (a *domainStoreAdapter) UpdateConversationProfile(ctx context.Context, conversationID string, name string, avatarURL string, updatedAt time.Time) (domain.Conversation, error) {
	if a == nil || a.conversations == nil {
		return domain.Conversation{}, domain.ErrStoreNotConfigured
	}
	record, err := a.conversations.UpdateConversationProfile(ctx, conversationID, name, avatarURL, updatedAt)
	if err != nil {
		return domain.Conversation{}, mapStorageError(err)
	}
	return toDomainConversation(record), nil
}

func (a *domainStoreAdapter) ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if a == nil || a.conversations == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.conversations.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	conversations := make([]domain.Conversation, 0, len(records))
	for _, record := range records {
		conversations = append(conversations, toDomainConversation(record))
	}
	return conversations, nil
}

func (a *domainStoreAdapter) GetParticipant(ctx context.Context, conversationID string, userID string) (domain.Participant, error) {
	if a == nil || a.participants == nil {
		return domain.Participant{}, domain.ErrStoreNotConfigured
	}
	record, err := a.participants.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return domain.Participant{}, mapStorageError(err)
	}
	return toDomainParticipant(record), nil
}

func (a *domainStoreAdapter) ListParticipants(ctx context.Context, conversationID string, activeOnly bool) ([]domain.Participant, error) {
	if a == nil || a.participants == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.participants.ListParticipants(ctx, conversationID, activeOnly)
	if err != nil {
		return nil, mapStorageError(err)
	}
	participants := make([]domain.Participant, 0, len(records))
	for _, record := range records {
		participants = append(participants, toDomainParticipant(record))
	}
	return participants, nil
}

func (a *domainStoreAdapter) UpsertParticipant(ctx context.Context, participant domain.Participant) error {
	if a == nil || a.participants == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.participants.UpsertParticipant(ctx, toStorageParticipant(participant)))
}

func (a *domainStoreAdapter) DeactivateParticipant(ctx context.Context, conversationID string, userID string, at time.Time) error {
	if a == nil || a.participants == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.participants.DeactivateParticipant(ctx, conversationID, userID, at))
}

func (a *domainStoreAdapter) MarkConversationRead(ctx context.Context, conversationID string, userID string, readAt time.Time) error {
	if a == nil || a.participants == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.participants.MarkConversationRead(ctx, conversationID, userID, readAt))
}

func (a *domainStoreAdapter) AppendMessage(ctx context.Context, message domain.Message) error {
	if a == nil || a.messages == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.messages.AppendMessage(ctx, toStorageMessage(message)))
}

func (a *domainStoreAdapter) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	if a == nil || a.messages == nil {
		return domain.Message{}, domain.ErrStoreNotConfigured
	}
	record, err := a.messages.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, mapStorageError(err)
	}
	return toDomainMessage(record), nil
}

func (a *domainStoreAdapter) ListMessages(ctx context.Context, conversationID string, limit int, beforeID string) ([]domain.Message, error) {
	if a == nil || a.messages == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.messages.ListMessages(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, mapStorageError(err)
	}
	messages := make([]domain.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, toDomainMessage(record))
	}
	return messages, nil
}

func (a *domainStoreAdapter) GetLastMessage(ctx context.Context, conversationID string) (domain.Message, error) {
	if a == nil || a.messages == nil {
		return domain.Message{}, domain.ErrStoreNotConfigured
	}
	record, err := a.messages.GetLastMessage(ctx, conversationID)
	if err != nil {
		return domain.Message{}, mapStorageError(err)
	}
	return toDomainMessage(record), nil
}

func (a *domainStoreAdapter) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	if a == nil || a.messages == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.messages.SoftDeleteMessage(ctx, messageID, at))
}

func (a *domainStoreAdapter) InsertMessageRead(ctx context.Context, messageID string, userID string, readAt time.Time) error {
	if a == nil || a.messages == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.messages.InsertMessageRead(ctx, storage.MessageReadRecord{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    readAt,
	}))
}

func (a *domainStoreAdapter) MarkMessagesRead(ctx context.Context, conversationID string, userID string, messageIDs []string, readAt time.Time) error {
	if a == nil || a.messages == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.messages.MarkMessagesRead(ctx, conversationID, userID, messageIDs, readAt))
}

// toStorageConversation derives the storage record, including the pair key
// for direct conversations with a resolved pair of members.
func toStorageConversation(conversation domain.Conversation, participants []domain.Participant) storage.ConversationRecord {
	record := storage.ConversationRecord{
		ID:        conversation.ID,
		IsGroup:   conversation.IsGroup,
		Name:      conversation.Name,
		AvatarURL: conversation.AvatarURL,
		CreatedBy: conversation.CreatedBy,
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
	}
	if !conversation.IsGroup && len(participants) == 2 {
		record.PairKey = storage.PairKey(participants[0].UserID, participants[1].UserID)
	}
	return record
}

func toDomainConversation(record storage.ConversationRecord) domain.Conversation {
	return domain.Conversation{
		ID:        record.ID,
		IsGroup:   record.IsGroup,
		Name:      record.Name,
		AvatarURL: record.AvatarURL,
		CreatedBy: record.CreatedBy,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toStorageParticipant(participant domain.Participant) storage.ParticipantRecord {
	return storage.ParticipantRecord{
		ConversationID: participant.ConversationID,
		UserID:         participant.UserID,
		JoinedAt:       participant.JoinedAt,
		IsActive:       participant.IsActive,
		IsAdmin:        participant.IsAdmin,
		UnreadCount:    participant.UnreadCount,
	}
}

func toStorageParticipants(participants []domain.Participant) []storage.ParticipantRecord {
	records := make([]storage.ParticipantRecord, 0, len(participants))
	for _, participant := range participants {
		records = append(records, toStorageParticipant(participant))
	}
	return records
}

func toDomainParticipant(record storage.ParticipantRecord) domain.Participant {
	return domain.Participant{
		ConversationID: record.ConversationID,
		UserID:         record.UserID,
		JoinedAt:       record.JoinedAt,
		IsActive:       record.IsActive,
		IsAdmin:        record.IsAdmin,
		UnreadCount:    record.UnreadCount,
	}
}

func toStorageMessage(message domain.Message) storage.MessageRecord {
	return storage.MessageRecord{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		MediaURL:       message.MediaURL,
		MediaType:      message.MediaType,
		IsDeleted:      message.IsDeleted,
		CreatedAt:      message.CreatedAt,
		UpdatedAt:      message.UpdatedAt,
	}
}

func toDomainMessage(record storage.MessageRecord) domain.Message {
	return domain.Message{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		Content:        record.Content,
		MediaURL:       record.MediaURL,
		MediaType:      record.MediaType,
		IsDeleted:      record.IsDeleted,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, storage.ErrConflict):
		return domain.ErrConflict
	default:
		return err
	}
}
