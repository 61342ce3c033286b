// Package storetest provides an in-memory implementation of the service's
// store contract for tests that exercise domain logic without Postgres.
// Semantics mirror the production document store: snapshot reads, sparse
// unread counts, matched-row reporting on read-status updates.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/autocareers/messaging/internal/model"
)

// MemStore is a map-backed document store.
type MemStore struct {
	mu            sync.Mutex
	users         map[int]model.User
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	messageOrder  []string // insertion order, tie-break for equal timestamps
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{
		users:         make(map[int]model.User),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
	}
}

func (s *MemStore) InsertUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = *u
	return nil
}

func (s *MemStore) FindUserByID(_ context.Context, userID int) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemStore) InsertConversation(_ context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *c
	return nil
}

func (s *MemStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	c.UpdatedAt = at.UTC()
	s.conversations[id] = c
	return nil
}

func (s *MemStore) ConversationsByParticipant(_ context.Context, userID int) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemStore) ConversationBetween(_ context.Context, userA, userB int) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if len(c.Participants) == 2 && c.HasParticipant(userA) && c.HasParticipant(userB) {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemStore) InsertMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = *m
	s.messageOrder = append(s.messageOrder, m.ID)
	return nil
}

func (s *MemStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemStore) MessagesByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, id := range s.messageOrder {
		if m := s.messages[id]; m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *MemStore) MarkMessageRead(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	m.ReadStatus = true
	s.messages[id] = m
	return true, nil
}

func (s *MemStore) MarkConversationRead(_ context.Context, conversationID string, userID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, m := range s.messages {
		if m.ConversationID == conversationID && m.SenderID != userID && !m.ReadStatus {
			m.ReadStatus = true
			s.messages[id] = m
			count++
		}
	}
	return count, nil
}

func (s *MemStore) UnreadCounts(_ context.Context, conversationIDs []string, userID int) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		wanted[id] = true
	}

	counts := make(map[string]int)
	for _, m := range s.messages {
		if wanted[m.ConversationID] && m.SenderID != userID && !m.ReadStatus {
			counts[m.ConversationID]++
		}
	}
	return counts, nil
}
