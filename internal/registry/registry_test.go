package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/autocareers/messaging/internal/protocol"
)

// fakeConn records every payload written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write failed")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) last(t *testing.T) map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("no frames written")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(c.frames[len(c.frames)-1], &m); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return m
}

func TestRegisterUnregister(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}

	r.Register(1, a)
	r.Register(1, b)
	if got := r.SessionCount(); got != 2 {
		t.Fatalf("SessionCount() = %d, want 2", got)
	}

	// First session drops: the user stays registered.
	r.Unregister(1, a)
	if got := r.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() = %d, want 1", got)
	}
	if _, ok := r.ActiveConversation(1); !ok {
		t.Error("user with a live session must keep an active entry")
	}

	r.Unregister(1, b)
	if got := r.SessionCount(); got != 0 {
		t.Fatalf("SessionCount() = %d, want 0", got)
	}
	if _, ok := r.ActiveConversation(1); ok {
		t.Error("active entry must be reclaimed with the last session")
	}
}

func TestSendToUser_AllSessions(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}
	other := &fakeConn{}

	r.Register(1, a)
	r.Register(1, b)
	r.Register(2, other)

	r.SendToUser(1, []byte(`{"type":"ping"}`))

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("both sessions of user 1 should receive: got %d, %d", a.count(), b.count())
	}
	if other.count() != 0 {
		t.Errorf("user 2 should receive nothing, got %d", other.count())
	}

	// Offline user: silent no-op.
	r.SendToUser(99, []byte(`{"type":"ping"}`))
}

func TestBroadcastToConversation_ExcludesOnlySender(t *testing.T) {
	r := New()
	sender := &fakeConn{}
	viewer := &fakeConn{}
	bystander := &fakeConn{}

	r.Register(1, sender)
	r.Register(2, viewer)
	r.Register(3, bystander)

	r.BroadcastToConversation([]byte(`{"type":"new_message"}`), "conv-1", 1)

	if sender.count() != 0 {
		t.Errorf("excluded user received %d frames", sender.count())
	}
	// Delivery is registry-wide; membership filtering is the client's job.
	if viewer.count() != 1 || bystander.count() != 1 {
		t.Errorf("every other user should receive exactly once: got %d, %d", viewer.count(), bystander.count())
	}
}

func TestBroadcastToConversation_NegativeExcludesNobody(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}
	r.Register(1, a)
	r.Register(2, b)

	r.BroadcastToConversation([]byte(`{"type":"new_message"}`), "conv-1", -1)

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected delivery to all, got %d, %d", a.count(), b.count())
	}
}

func TestBroadcastToConversation_FailedWriteIsSwallowed(t *testing.T) {
	r := New()
	dead := &fakeConn{fail: true}
	live := &fakeConn{}

	r.Register(1, dead)
	r.Register(2, live)

	r.BroadcastToConversation([]byte(`{"type":"new_message"}`), "conv-1", -1)

	if live.count() != 1 {
		t.Errorf("a dead session must not block delivery to others: got %d", live.count())
	}
}

func TestSetTyping_BroadcastsFullSet(t *testing.T) {
	r := New()
	typist := &fakeConn{}
	viewer := &fakeConn{}
	r.Register(1, typist)
	r.Register(2, viewer)

	r.SetTyping(1, "conv-1", true)

	if got := r.TypingUsers("conv-1"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("TypingUsers() = %v, want [1]", got)
	}

	// The typist's own sessions get the update too.
	if typist.count() != 1 {
		t.Errorf("typist should receive the typing event, got %d frames", typist.count())
	}
	frame := viewer.last(t)
	if frame["type"] != protocol.TypeTypingStatus {
		t.Errorf("type = %v, want %q", frame["type"], protocol.TypeTypingStatus)
	}
	if frame["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v, want conv-1", frame["conversation_id"])
	}

	r.SetTyping(1, "conv-1", false)
	if got := r.TypingUsers("conv-1"); len(got) != 0 {
		t.Errorf("TypingUsers() = %v, want empty", got)
	}
	frame = viewer.last(t)
	if users, ok := frame["users_typing"].([]interface{}); !ok || len(users) != 0 {
		t.Errorf("users_typing = %v, want empty array", frame["users_typing"])
	}
}

func TestTypingUsers_Sorted(t *testing.T) {
	r := New()
	r.Register(3, &fakeConn{})
	r.Register(1, &fakeConn{})
	r.Register(2, &fakeConn{})

	r.SetTyping(3, "conv-1", true)
	r.SetTyping(1, "conv-1", true)
	r.SetTyping(2, "conv-1", true)

	got := r.TypingUsers("conv-1")
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("TypingUsers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("TypingUsers() = %v, want %v", got, want)
		}
	}
}

func TestUnregister_LastSessionClearsTyping(t *testing.T) {
	r := New()
	leaver := &fakeConn{}
	viewer := &fakeConn{}
	r.Register(1, leaver)
	r.Register(2, viewer)

	r.SetTyping(1, "conv-1", true)
	r.SetTyping(1, "conv-2", true)
	before := viewer.count()

	r.Unregister(1, leaver)

	if got := r.TypingUsers("conv-1"); len(got) != 0 {
		t.Errorf("conv-1 typing set = %v, want empty", got)
	}
	if got := r.TypingUsers("conv-2"); len(got) != 0 {
		t.Errorf("conv-2 typing set = %v, want empty", got)
	}
	// One typing-status broadcast per conversation the user was typing in.
	if got := viewer.count() - before; got != 2 {
		t.Errorf("expected 2 typing broadcasts after disconnect, got %d", got)
	}
}

func TestUnregister_RemainingSessionKeepsTyping(t *testing.T) {
	r := New()
	a, b := &fakeConn{}, &fakeConn{}
	r.Register(1, a)
	r.Register(1, b)

	r.SetTyping(1, "conv-1", true)
	r.Unregister(1, a)

	if got := r.TypingUsers("conv-1"); len(got) != 1 {
		t.Errorf("typing state must survive while sessions remain, got %v", got)
	}
}

func TestSetActiveConversation(t *testing.T) {
	r := New()
	r.Register(1, &fakeConn{})

	if convID, ok := r.ActiveConversation(1); !ok || convID != "" {
		t.Fatalf("ActiveConversation() = %q, %v; want \"\", true", convID, ok)
	}

	r.SetActiveConversation(1, "conv-1")
	if convID, _ := r.ActiveConversation(1); convID != "conv-1" {
		t.Errorf("ActiveConversation() = %q, want conv-1", convID)
	}

	r.SetActiveConversation(1, "")
	if convID, _ := r.ActiveConversation(1); convID != "" {
		t.Errorf("ActiveConversation() = %q, want empty", convID)
	}

	if _, ok := r.ActiveConversation(42); ok {
		t.Error("unknown user must report no active entry")
	}
}
