package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/autocareers/messaging/internal/model"
	"github.com/autocareers/messaging/internal/store/storetest"
)

func newTestService(t *testing.T) (*MessageService, *storetest.MemStore) {
	t.Helper()
	st := storetest.New()
	return New(st), st
}

// newTestConversation creates a recruiter/applicant conversation between
// users 1 and 2.
func newTestConversation(t *testing.T, svc *MessageService) *model.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), "Interview",
		[]int{1, 2},
		[]model.UserType{model.UserTypeRecruiter, model.UserTypeApplicant})
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	return conv
}

func TestCreateConversation_LengthMismatch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateConversation(context.Background(), "",
		[]int{1, 2},
		[]model.UserType{model.UserTypeRecruiter})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateConversation_ProvisionsPlaceholderUsers(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv := newTestConversation(t, svc)
	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(conv.Participants))
	}
	if conv.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}

	u, err := st.FindUserByID(ctx, 1)
	if err != nil {
		t.Fatalf("FindUserByID() error: %v", err)
	}
	if u == nil {
		t.Fatal("expected placeholder user 1 to exist")
	}
	if u.Username != "user_1" || u.Email != "user_1@example.com" {
		t.Errorf("unexpected placeholder fields: username=%q email=%q", u.Username, u.Email)
	}
	if u.UserType != model.UserTypeRecruiter {
		t.Errorf("expected recruiter, got %q", u.UserType)
	}
}

func TestCreateConversation_KeepsExistingUsers(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	existing, err := model.NewUser(1, "alice", "alice@acme.com", model.UserTypeRecruiter)
	if err != nil {
		t.Fatalf("NewUser() error: %v", err)
	}
	if err := st.InsertUser(ctx, existing); err != nil {
		t.Fatalf("InsertUser() error: %v", err)
	}

	newTestConversation(t, svc)

	u, _ := st.FindUserByID(ctx, 1)
	if u.Username != "alice" {
		t.Errorf("existing user was overwritten: username=%q", u.Username)
	}
}

func TestCreateMessage_ConversationNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateMessage(context.Background(), "no-such-conversation", 1, model.UserTypeRecruiter, "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessage_EmptyContent(t *testing.T) {
	svc, _ := newTestService(t)
	conv := newTestConversation(t, svc)

	_, err := svc.CreateMessage(context.Background(), conv.ID, 1, model.UserTypeRecruiter, "")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreateMessage_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	created, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "Are you available Tuesday?")
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if created.ReadStatus {
		t.Error("new message must start unread")
	}

	got, err := svc.GetMessage(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	if got.Content != created.Content ||
		got.SenderID != created.SenderID ||
		got.SenderType != created.SenderType ||
		got.ConversationID != created.ConversationID ||
		got.ReadStatus {
		t.Errorf("round-trip mismatch: got %+v, created %+v", got, created)
	}
}

func TestCreateMessage_TouchesConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	time.Sleep(time.Millisecond)
	msg, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "ping")
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	got, err := svc.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if got.UpdatedAt.Before(msg.Timestamp) {
		t.Errorf("updated_at %v not advanced to message timestamp %v", got.UpdatedAt, msg.Timestamp)
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetMessage(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkMessageRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	msg, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "hello")
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	ok, err := svc.MarkMessageRead(ctx, msg.ID)
	if err != nil || !ok {
		t.Fatalf("MarkMessageRead() = %v, %v", ok, err)
	}

	// Already read still reports a match.
	ok, err = svc.MarkMessageRead(ctx, msg.ID)
	if err != nil || !ok {
		t.Fatalf("second MarkMessageRead() = %v, %v", ok, err)
	}

	_, err = svc.MarkMessageRead(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkConversationRead_SkipsOwnMessages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	if _, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "from recruiter"); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if _, err := svc.CreateMessage(ctx, conv.ID, 2, model.UserTypeApplicant, "from applicant"); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	// User 2 reads: only user 1's message transitions.
	count, err := svc.MarkConversationRead(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("MarkConversationRead() error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected read_count=1, got %d", count)
	}

	msgs, err := svc.GetConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversationMessages() error: %v", err)
	}
	for _, m := range msgs {
		switch m.SenderID {
		case 1:
			if !m.ReadStatus {
				t.Error("message from user 1 should be read")
			}
		case 2:
			if m.ReadStatus {
				t.Error("message from user 2 must not be flipped by their own read")
			}
		}
	}

	// Idempotent: nothing left to transition.
	count, err = svc.MarkConversationRead(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("second MarkConversationRead() error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected read_count=0 on repeat, got %d", count)
	}
}

func TestUnreadCounts_SparseMap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	if _, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "one"); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if _, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "two"); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	counts, err := svc.UnreadCountsByConversation(ctx, 2)
	if err != nil {
		t.Fatalf("UnreadCountsByConversation() error: %v", err)
	}
	if counts[conv.ID] != 2 {
		t.Errorf("expected 2 unread, got %d", counts[conv.ID])
	}

	// The sender has nothing unread: their own messages never count.
	counts, err = svc.UnreadCountsByConversation(ctx, 1)
	if err != nil {
		t.Fatalf("UnreadCountsByConversation() error: %v", err)
	}
	if _, ok := counts[conv.ID]; ok {
		t.Error("sender must not see their own messages as unread")
	}

	// After reading, the conversation is omitted, never zero-valued.
	if _, err := svc.MarkConversationRead(ctx, conv.ID, 2); err != nil {
		t.Fatalf("MarkConversationRead() error: %v", err)
	}
	counts, err = svc.UnreadCountsByConversation(ctx, 2)
	if err != nil {
		t.Fatalf("UnreadCountsByConversation() error: %v", err)
	}
	for convID, n := range counts {
		if n == 0 {
			t.Errorf("conversation %s has zero entry; map must be sparse", convID)
		}
	}
	if len(counts) != 0 {
		t.Errorf("expected empty map, got %v", counts)
	}
}

func TestGetConversationMessages_Ordering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	conv := newTestConversation(t, svc)

	for _, content := range []string{"first", "second", "third"} {
		if _, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, content); err != nil {
			t.Fatalf("CreateMessage(%q) error: %v", content, err)
		}
		time.Sleep(time.Millisecond)
	}

	msgs, err := svc.GetConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversationMessages() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("timestamps decrease at index %d", i)
		}
	}
	if msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Errorf("unexpected order: %q, %q, %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestGetUserConversations_MostRecentFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	older := newTestConversation(t, svc)
	time.Sleep(time.Millisecond)
	newer, err := svc.CreateConversation(ctx, "Follow-up",
		[]int{1, 3},
		[]model.UserType{model.UserTypeRecruiter, model.UserTypeApplicant})
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	convs, err := svc.GetUserConversations(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserConversations() error: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != newer.ID {
		t.Errorf("expected newest conversation first, got %s", convs[0].ID)
	}

	// A message in the older conversation bumps it to the top.
	time.Sleep(time.Millisecond)
	if _, err := svc.CreateMessage(ctx, older.ID, 2, model.UserTypeApplicant, "bump"); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	convs, err = svc.GetUserConversations(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserConversations() error: %v", err)
	}
	if convs[0].ID != older.ID {
		t.Errorf("expected bumped conversation first, got %s", convs[0].ID)
	}
}

// TestInterviewScenario walks one conversation through its whole lifecycle:
// creation, first message, snapshot, and the other side reading it.
func TestInterviewScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "Interview",
		[]int{1, 2},
		[]model.UserType{model.UserTypeRecruiter, model.UserTypeApplicant})
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	if len(conv.Participants) != 2 || conv.UpdatedAt.IsZero() {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	msg, err := svc.CreateMessage(ctx, conv.ID, 1, model.UserTypeRecruiter, "Are you available Tuesday?")
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if msg.ReadStatus {
		t.Error("new message must start unread")
	}

	msgs, err := svc.GetConversationMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversationMessages() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("expected exactly the created message, got %+v", msgs)
	}

	count, err := svc.MarkConversationRead(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("MarkConversationRead() error: %v", err)
	}
	if count != 1 {
		t.Errorf("read_count = %d, want 1", count)
	}
	count, err = svc.MarkConversationRead(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("second MarkConversationRead() error: %v", err)
	}
	if count != 0 {
		t.Errorf("repeat read_count = %d, want 0", count)
	}
}

func TestFindConversationBetween_ExactPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pair := newTestConversation(t, svc)
	if _, err := svc.CreateConversation(ctx, "Panel",
		[]int{1, 2, 3},
		[]model.UserType{model.UserTypeRecruiter, model.UserTypeApplicant, model.UserTypeRecruiter}); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	got, err := svc.FindConversationBetween(ctx, 1, 2)
	if err != nil {
		t.Fatalf("FindConversationBetween() error: %v", err)
	}
	if got == nil || got.ID != pair.ID {
		t.Fatalf("expected the two-person conversation, got %+v", got)
	}

	// The three-person conversation is not a match for any pair inside it.
	got, err = svc.FindConversationBetween(ctx, 1, 3)
	if err != nil {
		t.Fatalf("FindConversationBetween() error: %v", err)
	}
	if got != nil {
		t.Errorf("superset conversation must not match, got %+v", got)
	}
}
