package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/autocareers/messaging/internal/model"
)

// InsertUser persists a user document.
func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("store: marshal user: %w", err)
	}

	const query = `INSERT INTO users (id, doc) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, u.ID, doc); err != nil {
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

// FindUserByID looks a user up by the externally assigned numeric user_id.
// Returns nil if no such user exists.
func (s *Store) FindUserByID(ctx context.Context, userID int) (*model.User, error) {
	const query = `SELECT doc FROM users WHERE (doc->>'user_id')::bigint = $1`

	var doc []byte
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find user %d: %w", userID, err)
	}

	var u model.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("store: decode user %d: %w", userID, err)
	}
	return &u, nil
}
