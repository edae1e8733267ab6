package db

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

// GetModelCatalog returns the stored catalog snapshot of userID. Modalities
// with no stored (or undecodable) snapshot come back empty.
func (s *Store) GetModelCatalog(ctx context.Context, userID int64) (model.Catalog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_type, models FROM user_models WHERE user_id = ?`, userID)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("query catalog for %d: %w", userID, err)
	}
	defer rows.Close()

	var c model.Catalog
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return model.Catalog{}, fmt.Errorf("scan catalog for %d: %w", userID, err)
		}
		var list []model.ModelDescriptor
		if err := sonic.UnmarshalString(payload, &list); err != nil {
			// Rows written by older releases are not JSON; treat them as absent.
			continue
		}
		switch model.ParseModality(kind) {
		case model.ModalityText:
			c.Text = list
		case model.ModalityImage:
			c.Image = list
		case model.ModalityAudio:
			c.Audio = list
		}
	}
	return c, rows.Err()
}

// SaveModelCatalog replaces the stored snapshot of userID wholesale.
func (s *Store) SaveModelCatalog(ctx context.Context, userID int64, c model.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog save for %d: %w", userID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_models WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear catalog for %d: %w", userID, err)
	}
	for _, m := range []model.Modality{model.ModalityText, model.ModalityImage, model.ModalityAudio} {
		list := c.Models(m)
		if len(list) == 0 {
			continue
		}
		payload, err := sonic.MarshalString(list)
		if err != nil {
			return fmt.Errorf("encode %s catalog: %w", m, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_models (user_id, model_type, models, updated_at) VALUES (?, ?, ?, unixepoch())`,
			userID, string(m), payload,
		); err != nil {
			return fmt.Errorf("store %s catalog for %d: %w", m, userID, err)
		}
	}
	return tx.Commit()
}
