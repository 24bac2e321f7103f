package domain

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
)

// fakeStore mirrors the transactional store's observable behavior in memory.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	pairKeys      map[string]string
	participants  map[string]map[string]Participant
	messages      map[string]Message
	messageOrder  []string
	reads         map[string]map[string]time.Time

	// hidePairKeyOnce makes the next pair-key lookup miss, simulating the
	// window where a concurrent insert has not landed yet.
	hidePairKeyOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]Conversation),
		pairKeys:      make(map[string]string),
		participants:  make(map[string]map[string]Participant),
		messages:      make(map[string]Message),
		reads:         make(map[string]map[string]time.Time),
	}
}

func fakePairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

func directPairKey(participants []Participant) string {
	if len(participants) != 2 {
		return ""
	}
	return fakePairKey(participants[0].UserID, participants[1].UserID)
}

func (s *fakeStore) CreateConversation(_ context.Context, conversation Conversation, participants []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conversation.ID]; exists {
		return ErrConflict
	}
	var pairKey string
	if !conversation.IsGroup {
		pairKey = directPairKey(participants)
		if pairKey != "" {
			if _, exists := s.pairKeys[pairKey]; exists {
				return ErrConflict
			}
		}
	}
	s.conversations[conversation.ID] = conversation
	if pairKey != "" {
		s.pairKeys[pairKey] = conversation.ID
	}
	members := make(map[string]Participant, len(participants))
	for _, participant := range participants {
		participant.ConversationID = conversation.ID
		participant.IsActive = true
		members[participant.UserID] = participant
	}
	s.participants[conversation.ID] = members
	return nil
}

func (s *fakeStore) EnsureConversation(_ context.Context, conversation Conversation, participants []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conversation.ID]; exists {
		return nil
	}
	s.conversations[conversation.ID] = conversation
	s.participants[conversation.ID] = make(map[string]Participant)
	if !conversation.IsGroup {
		if pairKey := directPairKey(participants); pairKey != "" {
			s.pairKeys[pairKey] = conversation.ID
		}
	}
	members := s.participants[conversation.ID]
	for _, participant := range participants {
		participant.ConversationID = conversation.ID
		participant.IsActive = true
		members[participant.UserID] = participant
	}
	return nil
}

func (s *fakeStore) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conversation, nil
}

func (s *fakeStore) GetConversationByPairKey(_ context.Context, pairKey string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidePairKeyOnce {
		s.hidePairKeyOnce = false
		return Conversation{}, ErrNotFound
	}
	conversationID, ok := s.pairKeys[pairKey]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.conversations[conversationID], nil
}

func (s *fakeStore) UpdateConversationProfile(_ context.Context, conversationID string, name string, avatarURL string, updatedAt time.Time) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	conversation.Name = name
	conversation.AvatarURL = avatarURL
	conversation.UpdatedAt = updatedAt
	s.conversations[conversationID] = conversation
	return conversation, nil
}

func (s *fakeStore) ListConversationsByUser(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []Conversation
	for conversationID, members := range s.participants {
		participant, ok := members[userID]
		if !ok || !participant.IsActive {
			continue
		}
		results = append(results, s.conversations[conversationID])
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].UpdatedAt.Equal(results[j].UpdatedAt) {
			return results[i].UpdatedAt.After(results[j].UpdatedAt)
		}
		return results[i].ID > results[j].ID
	})
	return results, nil
}

func (s *fakeStore) GetParticipant(_ context.Context, conversationID string, userID string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[conversationID][userID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return participant, nil
}

func (s *fakeStore) ListParticipants(_ context.Context, conversationID string, activeOnly bool) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []Participant
	for _, participant := range s.participants[conversationID] {
		if activeOnly && !participant.IsActive {
			continue
		}
		results = append(results, participant)
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].JoinedAt.Equal(results[j].JoinedAt) {
			return results[i].JoinedAt.Before(results[j].JoinedAt)
		}
		return results[i].UserID < results[j].UserID
	})
	return results, nil
}

func (s *fakeStore) UpsertParticipant(_ context.Context, participant Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[participant.ConversationID]
	if !ok {
		return ErrNotFound
	}
	members := s.participants[participant.ConversationID]
	existing, exists := members[participant.UserID]
	if exists && existing.IsActive {
		return ErrConflict
	}
	participant.IsActive = true
	participant.UnreadCount = 0
	members[participant.UserID] = participant
	conversation.UpdatedAt = participant.JoinedAt
	s.conversations[participant.ConversationID] = conversation
	return nil
}

func (s *fakeStore) DeactivateParticipant(_ context.Context, conversationID string, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	participant, exists := s.participants[conversationID][userID]
	if !exists || !participant.IsActive {
		return ErrNotFound
	}
	participant.IsActive = false
	s.participants[conversationID][userID] = participant
	conversation.UpdatedAt = at
	s.conversations[conversationID] = conversation
	return nil
}

func (s *fakeStore) MarkConversationRead(_ context.Context, conversationID string, userID string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.participants[conversationID][userID]
	if !ok || !participant.IsActive {
		return ErrNotFound
	}
	participant.UnreadCount = 0
	s.participants[conversationID][userID] = participant
	for _, messageID := range s.messageOrder {
		if s.messages[messageID].ConversationID != conversationID {
			continue
		}
		s.recordReadLocked(messageID, userID, readAt)
	}
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[message.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := s.messages[message.ID]; exists {
		return ErrConflict
	}
	s.messages[message.ID] = message
	s.messageOrder = append(s.messageOrder, message.ID)
	s.recordReadLocked(message.ID, message.SenderID, message.CreatedAt)
	for userID, participant := range s.participants[message.ConversationID] {
		if userID == message.SenderID || !participant.IsActive {
			continue
		}
		participant.UnreadCount++
		s.participants[message.ConversationID][userID] = participant
	}
	conversation.UpdatedAt = message.CreatedAt
	s.conversations[message.ConversationID] = conversation
	return nil
}

func (s *fakeStore) GetMessage(_ context.Context, messageID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return message, nil
}

func (s *fakeStore) ListMessages(_ context.Context, conversationID string, limit int, beforeID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedMessagesLocked(conversationID)
	end := len(ordered)
	if beforeID != "" {
		end = -1
		for i, message := range ordered {
			if message.ID == beforeID {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, ErrNotFound
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), ordered[start:end]...), nil
}

func (s *fakeStore) GetLastMessage(_ context.Context, conversationID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedMessagesLocked(conversationID)
	if len(ordered) == 0 {
		return Message{}, ErrNotFound
	}
	return ordered[len(ordered)-1], nil
}

func (s *fakeStore) SoftDeleteMessage(_ context.Context, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	message.IsDeleted = true
	message.Content = ""
	message.MediaURL = ""
	message.MediaType = ""
	message.UpdatedAt = at
	s.messages[messageID] = message
	return nil
}

func (s *fakeStore) InsertMessageRead(_ context.Context, messageID string, userID string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return ErrNotFound
	}
	s.recordReadLocked(messageID, userID, readAt)
	return nil
}

func (s *fakeStore) MarkMessagesRead(_ context.Context, conversationID string, userID string, messageIDs []string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, messageID := range messageIDs {
		s.recordReadLocked(messageID, userID, readAt)
	}
	participant, ok := s.participants[conversationID][userID]
	if ok && participant.IsActive {
		participant.UnreadCount = 0
		s.participants[conversationID][userID] = participant
	}
	return nil
}

func (s *fakeStore) recordReadLocked(messageID string, userID string, readAt time.Time) {
	if s.reads[messageID] == nil {
		s.reads[messageID] = make(map[string]time.Time)
	}
	if _, exists := s.reads[messageID][userID]; !exists {
		s.reads[messageID][userID] = readAt
	}
}

func (s *fakeStore) orderedMessagesLocked(conversationID string) []Message {
	var ordered []Message
	for _, messageID := range s.messageOrder {
		message := s.messages[messageID]
		if message.ConversationID != conversationID {
			continue
		}
		ordered = append(ordered, message)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func (s *fakeStore) hasRead(messageID string, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reads[messageID][userID]
	return ok
}

func (s *fakeStore) unreadCount(conversationID string, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[conversationID][userID].UnreadCount
}

func (s *fakeStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// fakeNotifier records delivered events for assertion.
type fakeNotifier struct {
	mu     sync.Mutex
	events []fanout.Event
	failed bool
}

func (n *fakeNotifier) Notify(_ context.Context, event fanout.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failed {
		return errors.New("sink unavailable")
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) snapshot() []fanout.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]fanout.Event(nil), n.events...)
}

// waitForEvents polls until the notifier observed want events. Fan-out runs
// off the request goroutine, so tests have to wait for delivery.
func waitForEvents(t *testing.T, notifier *fakeNotifier, want int) []fanout.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := notifier.snapshot()
		if len(events) >= want {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, have %d", want, len(events))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sequentialIDGenerator(ids ...string) func() (string, error) {
	queue := append([]string(nil), ids...)
	index := 0
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if index >= len(queue) {
			return "", errors.New("id generator exhausted")
		}
		value := queue[index]
		index++
		return value, nil
	}
}
