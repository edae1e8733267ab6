// Package history builds token-budgeted conversation context from the
// stored chat log.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

// DefaultRetentionDays is the age cutoff of the retention sweep.
const DefaultRetentionDays = 7

// Store is the subset of the persistent store the manager needs.
type Store interface {
	AppendChatMessage(ctx context.Context, userID int64, text, role string) (int64, error)
	GetChatHistory(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error)
	ClearUserHistory(ctx context.Context, userID int64) (int64, error)
	PruneMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Now() time.Time
}

// Manager wraps the store with context-window and retention logic.
type Manager struct {
	store      Store
	fetchLimit int
}

// NewManager creates a manager that inspects at most fetchLimit recent
// messages when building a context window.
func NewManager(store Store, fetchLimit int) *Manager {
	if fetchLimit <= 0 {
		fetchLimit = 200
	}
	return &Manager{store: store, fetchLimit: fetchLimit}
}

// EstimateTokens is the coarse 4-bytes-per-token heuristic.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// GetContext returns the longest run of most recent messages whose summed
// estimate stays within maxTokens, in chronological order. It stops at the
// first message that would overflow, so an oversized latest message yields
// an empty context. A budget of zero admits only zero-cost messages.
func (m *Manager) GetContext(ctx context.Context, userID int64, maxTokens int) ([]model.Message, error) {
	recent, err := m.store.GetChatHistory(ctx, userID, m.fetchLimit)
	if err != nil {
		return nil, err
	}

	out := make([]model.Message, 0, len(recent))
	used := 0
	for _, msg := range recent {
		cost := EstimateTokens(msg.Text)
		if used+cost > maxTokens {
			break
		}
		used += cost
		out = append(out, model.Message{Role: mapRole(msg.Role), Content: msg.Text})
	}

	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecordTurn appends the prompt and then the response.
func (m *Manager) RecordTurn(ctx context.Context, userID int64, prompt, response string) error {
	if _, err := m.store.AppendChatMessage(ctx, userID, prompt, model.RoleUser); err != nil {
		return fmt.Errorf("record prompt: %w", err)
	}
	if _, err := m.store.AppendChatMessage(ctx, userID, response, model.RoleAssistant); err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

// Recent returns the last limit messages in chronological order.
func (m *Manager) Recent(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error) {
	msgs, err := m.store.GetChatHistory(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Clear deletes every message of userID.
func (m *Manager) Clear(ctx context.Context, userID int64) error {
	_, err := m.store.ClearUserHistory(ctx, userID)
	return err
}

// PruneOlderThan deletes messages of all users older than days
// (DefaultRetentionDays when days <= 0) and returns how many were removed.
func (m *Manager) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := m.store.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return m.store.PruneMessagesOlderThan(ctx, cutoff)
}

func mapRole(role string) string {
	if role == model.RoleAssistant {
		return model.RoleAssistant
	}
	return model.RoleUser
}
