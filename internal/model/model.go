// Package model defines the durable entities of the messaging core: users,
// conversations, and messages. Entities are plain data structs; all
// construction and validation happens through the New* functions so that a
// document read back from the store is the only other way to obtain one.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserType distinguishes the two sides of a recruiting conversation.
type UserType string

const (
	UserTypeRecruiter UserType = "recruiter"
	UserTypeApplicant UserType = "applicant"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	return t == UserTypeRecruiter || t == UserTypeApplicant
}

// User is a participant identity. The numeric UserID is assigned by the host
// platform; this subsystem only ever creates placeholder records for IDs it
// has not seen before (see NewPlaceholderUser).
type User struct {
	ID       string   `json:"id"`
	UserID   int      `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	UserType UserType `json:"user_type"`
}

// NewUser builds a validated user document with a fresh UUID.
func NewUser(userID int, username, email string, userType UserType) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("model: username is empty")
	}
	if !userType.Valid() {
		return nil, fmt.Errorf("model: invalid user type %q", userType)
	}
	return &User{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		Email:    email,
		UserType: userType,
	}, nil
}

// NewPlaceholderUser synthesizes a user record for an ID that has never been
// seen by the messaging core. Auto-provisioning on first reference is a
// deliberate policy: conversation creation must not fail just because the
// host platform has not pushed the profile yet.
func NewPlaceholderUser(userID int, userType UserType) (*User, error) {
	return NewUser(
		userID,
		fmt.Sprintf("user_%d", userID),
		fmt.Sprintf("user_%d@example.com", userID),
		userType,
	)
}

// Participant is one member of a conversation.
type Participant struct {
	UserID   int      `json:"user_id"`
	UserType UserType `json:"user_type"`
}

// Conversation groups messages between a fixed set of participants.
// Membership is immutable after creation; UpdatedAt is touched on every new
// message and is the sort key for "most recent" listings.
type Conversation struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewConversation builds a validated conversation document. The participant
// list must be non-empty and every entry must carry a known user type.
func NewConversation(title string, participants []Participant) (*Conversation, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("model: conversation has no participants")
	}
	for _, p := range participants {
		if !p.UserType.Valid() {
			return nil, fmt.Errorf("model: invalid participant type %q for user %d", p.UserType, p.UserID)
		}
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.New().String(),
		Title:        title,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID int) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Message is a single utterance within a conversation. ReadStatus starts
// false and only ever transitions to true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderType     UserType  `json:"sender_type"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ReadStatus     bool      `json:"read_status"`
}

// NewMessage builds a validated, unread message document stamped with the
// current time. The conversation reference is checked by the service layer,
// not here.
func NewMessage(conversationID string, senderID int, senderType UserType, content string) (*Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("model: conversation id is empty")
	}
	if !senderType.Valid() {
		return nil, fmt.Errorf("model: invalid sender type %q", senderType)
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     senderType,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		ReadStatus:     false,
	}, nil
}
