package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

// GetUserProfile returns the profile for userID, creating the default row
// (all counters zero, no model selected) on first access.
func (s *Store) GetUserProfile(ctx context.Context, userID int64) (model.UserProfile, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, images_generated, texts_generated, audio_generated, model_type)
		 VALUES (?, 0, 0, 0, ?)`,
		userID, string(model.ModalityNone),
	); err != nil {
		return model.UserProfile{}, fmt.Errorf("create profile %d: %w", userID, err)
	}

	var (
		p            model.UserProfile
		lastUsed     sql.NullInt64
		currentModel sql.NullString
		modelType    sql.NullString
		currentVoice sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, images_generated, texts_generated, audio_generated,
		        last_used, current_model, model_type, current_voice
		 FROM users WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.ImagesGenerated, &p.TextsGenerated, &p.AudioGenerated,
		&lastUsed, &currentModel, &modelType, &currentVoice)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("load profile %d: %w", userID, err)
	}

	p.CurrentModel = currentModel.String
	p.ModelType = model.ParseModality(modelType.String)
	p.CurrentVoice = currentVoice.String
	if lastUsed.Valid {
		t := time.Unix(lastUsed.Int64, 0)
		p.LastUsed = &t
	}
	if p.CurrentModel == "" {
		p.ModelType = model.ModalityNone
	}
	return p, nil
}

// SaveUserProfile upserts every field of the profile.
func (s *Store) SaveUserProfile(ctx context.Context, p model.UserProfile) error {
	var lastUsed any
	if p.LastUsed != nil {
		lastUsed = p.LastUsed.Unix()
	}
	modelType := p.ModelType
	if modelType == "" || p.CurrentModel == "" {
		modelType = model.ModalityNone
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, images_generated, texts_generated, audio_generated,
		                    last_used, current_model, model_type, current_voice)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		    images_generated = excluded.images_generated,
		    texts_generated = excluded.texts_generated,
		    audio_generated = excluded.audio_generated,
		    last_used = excluded.last_used,
		    current_model = excluded.current_model,
		    model_type = excluded.model_type,
		    current_voice = excluded.current_voice`,
		p.UserID, p.ImagesGenerated, p.TextsGenerated, p.AudioGenerated,
		lastUsed, nullString(p.CurrentModel), string(modelType), nullString(p.CurrentVoice),
	)
	if err != nil {
		return fmt.Errorf("save profile %d: %w", p.UserID, err)
	}
	return nil
}

// Now returns the store clock reading, truncated to the stored resolution.
func (s *Store) Now() time.Time {
	return time.Unix(s.now().Unix(), 0)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
