// Package service implements the domain operations of the messaging core by
// composing document-store reads and writes. It owns the persistence
// semantics: conversation existence checks, read-status transitions, unread
// accounting, and participant auto-provisioning.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/autocareers/messaging/internal/metrics"
	"github.com/autocareers/messaging/internal/model"
)

// Store is the persistence contract the service needs. *store.Store is the
// production implementation.
type Store interface {
	InsertUser(ctx context.Context, u *model.User) error
	FindUserByID(ctx context.Context, userID int) (*model.User, error)

	InsertConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	ConversationsByParticipant(ctx context.Context, userID int) ([]model.Conversation, error)
	ConversationBetween(ctx context.Context, userA, userB int) (*model.Conversation, error)

	InsertMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkMessageRead(ctx context.Context, id string) (bool, error)
	MarkConversationRead(ctx context.Context, conversationID string, userID int) (int, error)
	UnreadCounts(ctx context.Context, conversationIDs []string, userID int) (map[string]int, error)
}

// MessageService exposes the message/conversation operations of the core.
type MessageService struct {
	store Store
}

// New creates a MessageService on top of the given store.
func New(store Store) *MessageService {
	return &MessageService{store: store}
}

// CreateMessage persists a new message in an existing conversation and
// touches the conversation's updated_at. A failed touch after a successful
// insert is logged and tolerated: the message exists, and stale conversation
// metadata is acceptable rather than worth a synchronous retry.
func (s *MessageService) CreateMessage(ctx context.Context, conversationID string, senderID int, senderType model.UserType, content string) (*model.Message, error) {
	start := time.Now()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("service: conversation %s: %w", conversationID, ErrNotFound)
	}

	msg, err := model.NewMessage(conversationID, senderID, senderType, content)
	if err != nil {
		return nil, fmt.Errorf("service: %v: %w", err, ErrInvalidArgument)
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.store.TouchConversation(ctx, conversationID, msg.Timestamp); err != nil {
		log.Printf("service: touch conversation %s failed (metadata stale): %v", conversationID, err)
	}

	metrics.MessagesCreated.Inc()
	metrics.CreateMessageDuration.Observe(time.Since(start).Seconds())
	return msg, nil
}

// GetMessage returns a message by ID.
func (s *MessageService) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("service: message %s: %w", id, ErrNotFound)
	}
	return msg, nil
}

// GetConversationMessages returns a point-in-time snapshot of all messages in
// a conversation, ascending by timestamp.
func (s *MessageService) GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.store.MessagesByConversation(ctx, conversationID)
}

// MarkMessageRead marks a single message read. Idempotent: marking an
// already-read message succeeds and still reports true.
func (s *MessageService) MarkMessageRead(ctx context.Context, id string) (bool, error) {
	matched, err := s.store.MarkMessageRead(ctx, id)
	if err != nil {
		return false, err
	}
	if !matched {
		return false, fmt.Errorf("service: message %s: %w", id, ErrNotFound)
	}
	return true, nil
}

// MarkConversationRead marks read every unread message in the conversation
// not sent by userID and returns how many transitioned. Messages the user
// sent themselves are never touched. Calling it again immediately yields 0.
func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID string, userID int) (int, error) {
	return s.store.MarkConversationRead(ctx, conversationID, userID)
}

// CreateConversation creates a conversation between the given participants.
// The two slices must be the same length. Unknown participants are
// auto-provisioned as placeholder users before the conversation is written.
func (s *MessageService) CreateConversation(ctx context.Context, title string, participantIDs []int, participantTypes []model.UserType) (*model.Conversation, error) {
	if len(participantIDs) != len(participantTypes) {
		return nil, fmt.Errorf("service: participant ids and types must be the same length: %w", ErrInvalidArgument)
	}

	participants := make([]model.Participant, 0, len(participantIDs))
	for i, userID := range participantIDs {
		userType := participantTypes[i]

		existing, err := s.store.FindUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			placeholder, err := model.NewPlaceholderUser(userID, userType)
			if err != nil {
				return nil, fmt.Errorf("service: %v: %w", err, ErrInvalidArgument)
			}
			if err := s.store.InsertUser(ctx, placeholder); err != nil {
				return nil, err
			}
			log.Printf("service: provisioned placeholder user %d (%s)", userID, userType)
		}

		participants = append(participants, model.Participant{UserID: userID, UserType: userType})
	}

	conv, err := model.NewConversation(title, participants)
	if err != nil {
		return nil, fmt.Errorf("service: %v: %w", err, ErrInvalidArgument)
	}

	if err := s.store.InsertConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation returns a conversation by ID.
func (s *MessageService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("service: conversation %s: %w", id, ErrNotFound)
	}
	return conv, nil
}

// GetUserConversations returns every conversation the user participates in,
// most recently updated first.
func (s *MessageService) GetUserConversations(ctx context.Context, userID int) ([]model.Conversation, error) {
	return s.store.ConversationsByParticipant(ctx, userID)
}

// FindConversationBetween returns the conversation whose participant set is
// exactly the two given users, or nil when none exists. Absence is a normal
// outcome here, not ErrNotFound: callers use it to decide whether to create.
func (s *MessageService) FindConversationBetween(ctx context.Context, userA, userB int) (*model.Conversation, error) {
	return s.store.ConversationBetween(ctx, userA, userB)
}

// UnreadCountsByConversation returns unread message counts for the user,
// keyed by conversation ID. The map is sparse: conversations with nothing
// unread are omitted, never zero-filled.
func (s *MessageService) UnreadCountsByConversation(ctx context.Context, userID int) (map[string]int, error) {
	conversations, err := s.store.ConversationsByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}

	return s.store.UnreadCounts(ctx, ids, userID)
}
