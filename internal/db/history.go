package db

import (
	"context"
	"fmt"
	"time"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

// AppendChatMessage stores one message stamped with the store clock.
func (s *Store) AppendChatMessage(ctx context.Context, userID int64, text, role string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, role, message, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, text, s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("append chat message for %d: %w", userID, err)
	}
	return res.LastInsertId()
}

// GetChatHistory returns up to limit messages for userID, most recent first.
func (s *Store) GetChatHistory(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, message, created_at FROM chat_history
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat history for %d: %w", userID, err)
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var (
			m       model.ChatMessage
			created int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan chat history for %d: %w", userID, err)
		}
		m.CreatedAt = time.Unix(0, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearUserHistory deletes every stored message of userID.
func (s *Store) ClearUserHistory(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear chat history for %d: %w", userID, err)
	}
	return res.RowsAffected()
}

// PruneMessagesOlderThan deletes messages of all users created before cutoff.
func (s *Store) PruneMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune chat history: %w", err)
	}
	return res.RowsAffected()
}

