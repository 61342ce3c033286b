// Package registry tracks live client sessions and the ephemeral
// conversation state attached to them: which sessions belong to which user,
// who is typing in which conversation, and which conversation each user is
// currently viewing. All of that state lives in memory and is owned
// exclusively by the Registry; it is reclaimed deterministically when a
// user's last session disconnects.
package registry

import (
	"log"
	"sort"
	"sync"

	"github.com/autocareers/messaging/internal/metrics"
	"github.com/autocareers/messaging/internal/protocol"
)

// Conn is the write side of a live session. The gateway's connection type
// implements it; tests substitute their own.
type Conn interface {
	WriteMessage(data []byte) error
}

// Registry is the single-process registry of open sessions. A user may hold
// any number of simultaneous sessions (multiple tabs, multiple devices); each
// is registered and unregistered independently.
//
// All maps are guarded by one mutex. Operation bodies are short and the
// registry is not a throughput bottleneck at chat concurrency levels, so a
// single lock is deliberate. Outbound writes never happen under the lock:
// every broadcast snapshots its recipients first.
type Registry struct {
	mu sync.Mutex

	// sessions maps a user ID to all of their open connections.
	sessions map[int][]Conn

	// typing maps a conversation ID to the set of user IDs currently typing.
	typing map[string]map[int]struct{}

	// active maps a user ID to the conversation they are viewing ("" = none).
	// An entry exists for every connected user. Reserved for read-receipt
	// suppression; nothing in this subsystem consumes it yet.
	active map[int]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[int][]Conn),
		typing:   make(map[string]map[int]struct{}),
		active:   make(map[int]string),
	}
}

// Register adds an open session for userID and initializes the user's active
// conversation to none.
func (r *Registry) Register(userID int, conn Conn) {
	r.mu.Lock()
	r.sessions[userID] = append(r.sessions[userID], conn)
	r.active[userID] = ""
	total := r.sessionCountLocked()
	r.mu.Unlock()

	metrics.SessionsActive.Inc()
	log.Printf("registry: session registered user=%d (total=%d)", userID, total)
}

// Unregister removes a session. When the user's last session goes away their
// active-conversation entry is cleared and they are removed from every typing
// set they were in, with one typing-status broadcast per affected
// conversation so remaining viewers see the indicator disappear.
func (r *Registry) Unregister(userID int, conn Conn) {
	r.mu.Lock()

	conns := r.sessions[userID]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	var updates []typingUpdate
	if len(conns) == 0 {
		delete(r.sessions, userID)
		delete(r.active, userID)

		for convID, users := range r.typing {
			if _, ok := users[userID]; ok {
				delete(users, userID)
				if len(users) == 0 {
					delete(r.typing, convID)
				}
				updates = append(updates, r.typingUpdateLocked(convID))
			}
		}
	} else {
		r.sessions[userID] = conns
	}

	total := r.sessionCountLocked()
	r.mu.Unlock()

	metrics.SessionsActive.Dec()
	log.Printf("registry: session unregistered user=%d (total=%d)", userID, total)

	for _, u := range updates {
		r.broadcastTyping(u)
	}
}

// SetActiveConversation records which conversation a user is currently
// viewing. Pass "" for none. Pure state update, no broadcast.
func (r *Registry) SetActiveConversation(userID int, conversationID string) {
	r.mu.Lock()
	r.active[userID] = conversationID
	r.mu.Unlock()
}

// ActiveConversation returns the conversation a user is viewing. The second
// return value is false when the user has no open sessions.
func (r *Registry) ActiveConversation(userID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	convID, ok := r.active[userID]
	return convID, ok
}

// SetTyping adds or removes userID from a conversation's typing set, then
// broadcasts the full current set for that conversation.
func (r *Registry) SetTyping(userID int, conversationID string, isTyping bool) {
	r.mu.Lock()
	users, ok := r.typing[conversationID]
	if !ok {
		users = make(map[int]struct{})
		r.typing[conversationID] = users
	}
	if isTyping {
		users[userID] = struct{}{}
	} else {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, conversationID)
		}
	}
	update := r.typingUpdateLocked(conversationID)
	r.mu.Unlock()

	r.broadcastTyping(update)
}

// TypingUsers returns the sorted set of users currently typing in a
// conversation.
func (r *Registry) TypingUsers(conversationID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typingUsersLocked(conversationID)
}

// SendToUser delivers a serialized event to every open session of userID.
// A user with no open sessions silently receives nothing; callers do not know
// who is online and must not treat that as an error.
func (r *Registry) SendToUser(userID int, payload []byte) {
	r.mu.Lock()
	conns := append([]Conn(nil), r.sessions[userID]...)
	r.mu.Unlock()

	for _, c := range conns {
		r.send(c, userID, payload)
	}
}

// BroadcastToConversation delivers a serialized event to every session of
// every registered user except excludeUserID (pass a negative value to
// exclude nobody).
//
// Recipient selection deliberately ignores actual membership of
// conversationID: delivery is registry-wide minus the excluded user, and
// clients filter on conversation_id. The parameter is kept so that switching
// to membership-filtered delivery is a local change.
func (r *Registry) BroadcastToConversation(payload []byte, conversationID string, excludeUserID int) {
	r.mu.Lock()
	type target struct {
		userID int
		conn   Conn
	}
	var targets []target
	for userID, conns := range r.sessions {
		if userID == excludeUserID {
			continue
		}
		for _, c := range conns {
			targets = append(targets, target{userID, c})
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		r.send(t.conn, t.userID, payload)
	}
}

// SessionCount returns the total number of open sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionCountLocked()
}

// typingUpdate is a snapshot taken under the lock so the matching broadcast
// can be serialized and sent without holding it.
type typingUpdate struct {
	conversationID string
	usersTyping    []int
}

func (r *Registry) typingUpdateLocked(conversationID string) typingUpdate {
	return typingUpdate{
		conversationID: conversationID,
		usersTyping:    r.typingUsersLocked(conversationID),
	}
}

func (r *Registry) typingUsersLocked(conversationID string) []int {
	users := make([]int, 0, len(r.typing[conversationID]))
	for userID := range r.typing[conversationID] {
		users = append(users, userID)
	}
	sort.Ints(users)
	return users
}

func (r *Registry) sessionCountLocked() int {
	n := 0
	for _, conns := range r.sessions {
		n += len(conns)
	}
	return n
}

// broadcastTyping serializes a typing-status event and delivers it to every
// registered session. Typing updates are not excluded from the typist: their
// other sessions need the indicator too.
func (r *Registry) broadcastTyping(u typingUpdate) {
	payload, err := protocol.NewServerMessage(protocol.TypeTypingStatus, protocol.TypingStatusEvent{
		ConversationID: u.conversationID,
		UsersTyping:    u.usersTyping,
	})
	if err != nil {
		log.Printf("registry: failed to build typing event conversation=%s: %v", u.conversationID, err)
		return
	}
	r.BroadcastToConversation(payload, u.conversationID, -1)
}

// send writes one payload to one session. A failed write is logged and
// swallowed: a stale handle must never abort delivery to the remaining
// recipients, and the gateway reclaims dead connections on its own.
func (r *Registry) send(c Conn, userID int, payload []byte) {
	if err := c.WriteMessage(payload); err != nil {
		metrics.PushFailures.Inc()
		log.Printf("registry: send to user=%d failed: %v", userID, err)
		return
	}
	metrics.EventsPushed.Inc()
}
