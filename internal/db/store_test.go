package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

func TestGetUserProfile_CreatesDefault(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	p, err := s.GetUserProfile(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
	assert.Zero(t, p.ImagesGenerated)
	assert.Zero(t, p.TextsGenerated)
	assert.Zero(t, p.AudioGenerated)
	assert.Empty(t, p.CurrentModel)
	assert.Empty(t, p.CurrentVoice)
	assert.Equal(t, model.ModalityNone, p.ModelType)
	assert.Nil(t, p.LastUsed)

	again, err := s.GetUserProfile(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestSaveUserProfile_Upsert(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	used := s.Now()
	want := model.UserProfile{
		UserID:          9,
		ImagesGenerated: 2,
		TextsGenerated:  5,
		AudioGenerated:  1,
		CurrentModel:    "openai",
		ModelType:       model.ModalityText,
		CurrentVoice:    "nova",
		LastUsed:        &used,
	}
	require.NoError(t, s.SaveUserProfile(ctx, want))
	require.NoError(t, s.SaveUserProfile(ctx, want), "upsert must be idempotent")

	got, err := s.GetUserProfile(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	assert.True(t, used.Equal(*got.LastUsed))
	got.LastUsed, want.LastUsed = nil, nil
	assert.Equal(t, want, got)
}

func TestSaveUserProfile_ModelTypeFollowsModel(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUserProfile(ctx, model.UserProfile{UserID: 3, ModelType: model.ModalityImage}))
	got, err := s.GetUserProfile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, model.ModalityNone, got.ModelType, "no model means no modality")
}

func TestProfiles_ConcurrentUsersDoNotInterfere(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			p, err := s.GetUserProfile(ctx, uid)
			if err != nil {
				errs <- err
				return
			}
			p.ImagesGenerated = uid
			p.CurrentModel = fmt.Sprintf("m-%d", uid)
			p.ModelType = model.ModalityImage
			errs <- s.SaveUserProfile(ctx, p)
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := int64(1); i <= 20; i++ {
		p, err := s.GetUserProfile(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, i, p.ImagesGenerated)
		assert.Equal(t, fmt.Sprintf("m-%d", i), p.CurrentModel)
	}
}

func TestChatHistory_MostRecentFirst(t *testing.T) {
	s, clock := testStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AppendChatMessage(ctx, 1, text, model.RoleUser)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	_, err := s.AppendChatMessage(ctx, 2, "other user", model.RoleUser)
	require.NoError(t, err)

	msgs, err := s.GetChatHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, "one", msgs[2].Text)
	assert.True(t, msgs[0].CreatedAt.After(msgs[1].CreatedAt))

	limited, err := s.GetChatHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "three", limited[0].Text)
}

func TestChatHistory_SameInstantKeepsInsertOrder(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, err := s.AppendChatMessage(ctx, 1, "question", model.RoleUser)
	require.NoError(t, err)
	_, err = s.AppendChatMessage(ctx, 1, "answer", model.RoleAssistant)
	require.NoError(t, err)

	msgs, err := s.GetChatHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[0].Text)
	assert.Equal(t, model.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "question", msgs[1].Text)
}

func TestClearUserHistory(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, _ = s.AppendChatMessage(ctx, 1, "a", model.RoleUser)
	_, _ = s.AppendChatMessage(ctx, 1, "b", model.RoleAssistant)
	_, _ = s.AppendChatMessage(ctx, 2, "c", model.RoleUser)

	n, err := s.ClearUserHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := s.GetChatHistory(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	other, err := s.GetChatHistory(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestPruneMessagesOlderThan(t *testing.T) {
	s, clock := testStore(t)
	ctx := context.Background()

	_, _ = s.AppendChatMessage(ctx, 1, "old", model.RoleUser)
	_, _ = s.AppendChatMessage(ctx, 2, "old too", model.RoleUser)
	clock.Advance(8 * 24 * time.Hour)
	_, _ = s.AppendChatMessage(ctx, 1, "fresh", model.RoleUser)

	n, err := s.PruneMessagesOlderThan(ctx, clock.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := s.GetChatHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].Text)
}

func TestModelCatalog_RoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	empty, err := s.GetModelCatalog(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, empty.Text)
	assert.Empty(t, empty.Image)

	c := model.Catalog{
		Text:  []model.ModelDescriptor{{Name: "openai", Description: "GPT \"mini\"; 'quoted'"}, {Name: "openai-audio", Description: "voice"}},
		Image: []model.ModelDescriptor{{Name: "flux"}, {Name: "turbo"}},
		Audio: []model.ModelDescriptor{{Name: "openai-audio", Description: "voice"}},
	}
	require.NoError(t, s.SaveModelCatalog(ctx, 1, c))

	got, err := s.GetModelCatalog(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	replacement := model.Catalog{Image: []model.ModelDescriptor{{Name: "kontext"}}}
	require.NoError(t, s.SaveModelCatalog(ctx, 1, replacement))
	got, err = s.GetModelCatalog(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got.Text, "snapshot is replaced wholesale")
	assert.Equal(t, replacement.Image, got.Image)
}

func TestModelCatalog_IgnoresNonJSONRows(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`INSERT INTO user_models (user_id, model_type, models) VALUES (1, 'image', ?)`,
		"['flux', __import__('os')]")
	require.NoError(t, err)

	got, err := s.GetModelCatalog(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got.Image)
}
