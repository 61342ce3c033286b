// Package api is the request/response surface of the messaging core. It
// decodes HTTP requests into service calls and, for message creation, asks
// the registry to push the new-message event to live sessions after the
// write has been persisted.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/autocareers/messaging/internal/events"
	"github.com/autocareers/messaging/internal/model"
	"github.com/autocareers/messaging/internal/protocol"
	"github.com/autocareers/messaging/internal/ratelimit"
	"github.com/autocareers/messaging/internal/registry"
	"github.com/autocareers/messaging/internal/service"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// Handler holds the dependencies of the HTTP surface. Limiter and Events may
// be nil; both degrade to no-ops.
type Handler struct {
	Service  *service.MessageService
	Registry *registry.Registry
	Events   *events.Publisher
	Limiter  *ratelimit.Limiter
}

// Routes returns the router for the /api subtree.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/messages", h.createMessage)
	r.Get("/messages/{messageID}", h.getMessage)
	r.Put("/messages/{messageID}/read", h.markMessageRead)

	r.Post("/conversations", h.createConversation)
	r.Get("/conversations/{conversationID}", h.getConversation)
	r.Put("/conversations/{conversationID}/read", h.markConversationRead)
	r.Get("/conversations/{conversationID}/messages", h.listConversationMessages)

	r.Get("/users/{userID}/conversations", h.listUserConversations)
	r.Get("/users/{userID}/unread", h.unreadCounts)

	return r
}

type createMessageRequest struct {
	ConversationID string         `json:"conversation_id"`
	SenderID       int            `json:"sender_id"`
	SenderType     model.UserType `json:"sender_type"`
	Content        string         `json:"content"`
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !h.Limiter.Allow(r.Context(), strconv.Itoa(req.SenderID), ratelimit.RuleCreateMessage) {
		writeError(w, http.StatusTooManyRequests, "message rate limit exceeded")
		return
	}

	msg, err := h.Service.CreateMessage(r.Context(), req.ConversationID, req.SenderID, req.SenderType, req.Content)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Fan-out happens off the request path: persistence already succeeded,
	// and live delivery is at-most-once to whoever is connected right now.
	go h.notifyNewMessage(msg)

	writeJSON(w, http.StatusCreated, msg)
}

// notifyNewMessage pushes the new-message event to every live session except
// the sender's, then relays it to the external event bus.
func (h *Handler) notifyNewMessage(msg *model.Message) {
	payload, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageEvent{Message: msg})
	if err != nil {
		log.Printf("api: build new_message event: %v", err)
		return
	}
	h.Registry.BroadcastToConversation(payload, msg.ConversationID, msg.SenderID)
	h.Events.MessageCreated(msg)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Service.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) markMessageRead(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Service.MarkMessageRead(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type createConversationRequest struct {
	Title            string           `json:"title"`
	ParticipantIDs   []int            `json:"participant_ids"`
	ParticipantTypes []model.UserType `json:"participant_types"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conv, err := h.Service.CreateConversation(r.Context(), req.Title, req.ParticipantIDs, req.ParticipantTypes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.Events.ConversationCreated(conv)

	writeJSON(w, http.StatusCreated, conv)
}

// conversationDetail is a conversation with its message snapshot nested in.
type conversationDetail struct {
	model.Conversation
	Messages []model.Message `json:"messages"`
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.Service.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	msgs, err := h.Service.GetConversationMessages(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, conversationDetail{Conversation: *conv, Messages: msgs})
}

func (h *Handler) markConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	count, err := h.Service.MarkConversationRead(r.Context(), chi.URLParam(r, "conversationID"), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"read_count": count,
	})
}

func (h *Handler) listConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.Service.GetConversationMessages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Paginate the snapshot in memory; the snapshot is already ordered.
	start := offset
	if start > len(msgs) {
		start = len(msgs)
	}
	end := start + limit
	if end > len(msgs) {
		end = len(msgs)
	}

	page := msgs[start:end]
	if page == nil {
		page = []model.Message{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listUserConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	convs, err := h.Service.GetUserConversations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) unreadCounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	counts, err := h.Service.UnreadCountsByConversation(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

// pageParams parses the limit (1-100, default 50) and offset (>= 0, default
// 0) query parameters.
func pageParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, errors.New("limit must be an integer between 1 and 100")
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
