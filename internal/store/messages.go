package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/autocareers/messaging/internal/model"
)

// InsertMessage persists a message document.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal message: %w", err)
	}

	const query = `INSERT INTO messages (id, doc) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, m.ID, doc); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// GetMessage fetches a message by ID. Returns nil if not found.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	const query = `SELECT doc FROM messages WHERE id = $1`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get message %s: %w", id, err)
	}

	var m model.Message
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("store: decode message %s: %w", id, err)
	}
	return &m, nil
}

// MessagesByConversation returns a snapshot of every message in the
// conversation, ascending by timestamp. The text timestamps are cast to
// timestamptz in SQL so sub-second precision never breaks the ordering.
func (s *Store) MessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	const query = `
		SELECT doc FROM messages
		WHERE doc->>'conversation_id' = $1
		ORDER BY (doc->>'timestamp')::timestamptz ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		var m model.Message
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, fmt.Errorf("store: decode message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages for conversation %s: %w", conversationID, err)
	}
	return out, nil
}

// MarkMessageRead flips a message's read_status to true. The boolean reports
// whether the message existed; a message that was already read still counts
// as matched, mirroring the update-or-insert contract of the data model.
func (s *Store) MarkMessageRead(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE messages SET doc = jsonb_set(doc, '{read_status}', 'true'::jsonb) WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("store: mark message %s read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark message %s read: %w", id, err)
	}
	return n > 0, nil
}

// MarkConversationRead marks read every unread message in the conversation
// that was not sent by userID, and returns how many actually transitioned.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, userID int) (int, error) {
	const query = `
		UPDATE messages SET doc = jsonb_set(doc, '{read_status}', 'true'::jsonb)
		WHERE doc->>'conversation_id' = $1
		  AND (doc->>'sender_id')::bigint <> $2
		  AND NOT (doc->>'read_status')::boolean`

	res, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("store: mark conversation %s read: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: mark conversation %s read: %w", conversationID, err)
	}
	return int(n), nil
}

// UnreadCounts returns, for each of the given conversations, the number of
// unread messages not sent by userID. Conversations with zero unread are
// absent from the map.
func (s *Store) UnreadCounts(ctx context.Context, conversationIDs []string, userID int) (map[string]int, error) {
	if len(conversationIDs) == 0 {
		return map[string]int{}, nil
	}

	const query = `
		SELECT doc->>'conversation_id', COUNT(*)
		FROM messages
		WHERE doc->>'conversation_id' = ANY($1)
		  AND (doc->>'sender_id')::bigint <> $2
		  AND NOT (doc->>'read_status')::boolean
		GROUP BY doc->>'conversation_id'`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(conversationIDs), userID)
	if err != nil {
		return nil, fmt.Errorf("store: unread counts for user %d: %w", userID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			convID string
			n      int
		)
		if err := rows.Scan(&convID, &n); err != nil {
			return nil, fmt.Errorf("store: scan unread count: %w", err)
		}
		counts[convID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: unread counts for user %d: %w", userID, err)
	}
	return counts, nil
}
