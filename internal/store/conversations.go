package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autocareers/messaging/internal/model"
)

// InsertConversation persists a conversation document.
func (s *Store) InsertConversation(ctx context.Context, c *model.Conversation) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal conversation: %w", err)
	}

	const query = `INSERT INTO conversations (id, doc) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, c.ID, doc); err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches a conversation by ID. Returns nil if not found.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	const query = `SELECT doc FROM conversations WHERE id = $1`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %s: %w", id, err)
	}

	var c model.Conversation
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("store: decode conversation %s: %w", id, err)
	}
	return &c, nil
}

// TouchConversation sets the conversation's updated_at field. Called after
// every message insert so that "most recent" listings sort correctly.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	stamp, err := json.Marshal(at.UTC())
	if err != nil {
		return fmt.Errorf("store: marshal timestamp: %w", err)
	}

	const query = `UPDATE conversations SET doc = jsonb_set(doc, '{updated_at}', $2::jsonb) WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id, stamp); err != nil {
		return fmt.Errorf("store: touch conversation %s: %w", id, err)
	}
	return nil
}

// ConversationsByParticipant returns every conversation the user participates
// in, most recently updated first.
func (s *Store) ConversationsByParticipant(ctx context.Context, userID int) ([]model.Conversation, error) {
	const query = `
		SELECT doc FROM conversations
		WHERE doc->'participants' @> jsonb_build_array(jsonb_build_object('user_id', $1::bigint))
		ORDER BY (doc->>'updated_at')::timestamptz DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: conversations for user %d: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		var c model.Conversation
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("store: decode conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: conversations for user %d: %w", userID, err)
	}
	return out, nil
}

// ConversationBetween returns a conversation whose participant set is exactly
// the two given users, or nil if none exists. A conversation with extra
// participants does not match.
func (s *Store) ConversationBetween(ctx context.Context, userA, userB int) (*model.Conversation, error) {
	const query = `
		SELECT doc FROM conversations
		WHERE doc->'participants' @> jsonb_build_array(jsonb_build_object('user_id', $1::bigint))
		  AND doc->'participants' @> jsonb_build_array(jsonb_build_object('user_id', $2::bigint))
		  AND jsonb_array_length(doc->'participants') = 2
		LIMIT 1`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: conversation between %d and %d: %w", userA, userB, err)
	}

	var c model.Conversation
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("store: decode conversation: %w", err)
	}
	return &c, nil
}
