package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

func effectTypes(effects []Effect) []string {
	out := make([]string, 0, len(effects))
	for _, e := range effects {
		switch e.(type) {
		case Say:
			out = append(out, "say")
		case RequireModality:
			out = append(out, "require")
		case GenerateImage:
			out = append(out, "image")
		case GenerateText:
			out = append(out, "text")
		case GenerateAudio:
			out = append(out, "audio")
		case LoadModels:
			out = append(out, "load")
		case PersistModel:
			out = append(out, "persist_model")
		case PersistVoice:
			out = append(out, "persist_voice")
		case Refresh:
			out = append(out, "refresh")
		case RenderHistory:
			out = append(out, "history")
		case WipeHistory:
			out = append(out, "wipe")
		case RenderMenu:
			out = append(out, "menu")
		case RejectPrompt:
			out = append(out, "reject")
		}
	}
	return out
}

func TestTransition_ChooseModalityEntersPromptStates(t *testing.T) {
	cases := []struct {
		m    model.Modality
		want State
	}{
		{model.ModalityImage, AwaitingImagePrompt},
		{model.ModalityText, AwaitingTextPrompt},
		{model.ModalityAudio, AwaitingAudioCategory},
	}
	for _, tc := range cases {
		t.Run(string(tc.m), func(t *testing.T) {
			next, effects := Transition(Session{}, ChooseModality{Modality: tc.m})
			assert.Equal(t, tc.want, next.State)
			require.Equal(t, []string{"require", "say"}, effectTypes(effects))
			assert.Equal(t, RequireModality{Modality: tc.m}, effects[0])
		})
	}
}

func TestTransition_AudioModeOnlyFromCategory(t *testing.T) {
	next, _ := Transition(Session{}, PickAudioMode{Mode: AudioEcho})
	assert.Equal(t, Idle, next.State)

	next, _ = Transition(Session{State: AwaitingAudioCategory}, PickAudioMode{Mode: AudioResponse})
	assert.Equal(t, AwaitingAudioPrompt, next.State)
	assert.Equal(t, AudioResponse, next.PendingAudioMode)

	bad, effects := Transition(Session{State: AwaitingAudioCategory}, PickAudioMode{Mode: "shout"})
	assert.Equal(t, AwaitingAudioCategory, bad.State)
	assert.Equal(t, []string{"say"}, effectTypes(effects))
}

func TestTransition_SubmitPrompt(t *testing.T) {
	t.Run("text stays", func(t *testing.T) {
		next, effects := Transition(Session{State: AwaitingTextPrompt}, SubmitPrompt{Text: " hi "})
		assert.Equal(t, AwaitingTextPrompt, next.State)
		assert.Equal(t, "hi", next.LastPrompt)
		require.Equal(t, []string{"require", "text"}, effectTypes(effects))
		assert.Equal(t, GenerateText{Prompt: "hi"}, effects[1])
	})
	t.Run("image resets", func(t *testing.T) {
		next, effects := Transition(Session{State: AwaitingImagePrompt}, SubmitPrompt{Text: "a red fox in snow"})
		assert.Equal(t, Idle, next.State)
		assert.Equal(t, "a red fox in snow", next.LastPrompt)
		assert.Equal(t, []string{"require", "image"}, effectTypes(effects))
	})
	t.Run("audio resets and carries mode", func(t *testing.T) {
		next, effects := Transition(Session{State: AwaitingAudioPrompt, PendingAudioMode: AudioResponse}, SubmitPrompt{Text: "hello"})
		assert.Equal(t, Idle, next.State)
		assert.Empty(t, next.PendingAudioMode)
		assert.Equal(t, GenerateAudio{Prompt: "hello", Mode: AudioResponse}, effects[1])
	})
	t.Run("empty is rejected in place", func(t *testing.T) {
		s := Session{State: AwaitingTextPrompt, LastPrompt: "before"}
		next, effects := Transition(s, SubmitPrompt{Text: "   ", Image: []byte{1}})
		assert.Equal(t, s, next)
		assert.Equal(t, []Effect{RejectPrompt{Modality: model.ModalityText}}, effects)
	})
	t.Run("idle text is guidance", func(t *testing.T) {
		next, effects := Transition(Session{}, SubmitPrompt{Text: "draw a cat"})
		assert.Equal(t, Idle, next.State)
		assert.Equal(t, []string{"say"}, effectTypes(effects))
	})
}

func TestTransition_TextImageIsRetained(t *testing.T) {
	s, effects := Transition(Session{State: AwaitingTextPrompt}, SubmitPrompt{Text: "what is it?", Image: []byte("img")})
	assert.Equal(t, []byte("img"), effects[1].(GenerateText).Image)

	s, effects = Transition(s, SubmitPrompt{Text: "and its colour?"})
	assert.Equal(t, []byte("img"), effects[1].(GenerateText).Image, "previous image is reused until replaced")

	_, effects = Transition(s, SubmitPrompt{Text: "this one?", Image: []byte("new")})
	assert.Equal(t, []byte("new"), effects[1].(GenerateText).Image)
}

func TestTransition_Redo(t *testing.T) {
	next, effects := Transition(Session{State: AwaitingTextPrompt}, Redo{})
	assert.Equal(t, Idle, next.State)
	require.Len(t, effects, 1)
	assert.Equal(t, nothingToRedo, effects[0].(Say).Text)

	next, effects = Transition(Session{LastPrompt: "x"}, Redo{})
	assert.Equal(t, Idle, next.State)
	assert.Equal(t, nothingToRedo, effects[0].(Say).Text, "redo outside a prompt state")

	s := Session{State: AwaitingTextPrompt, LastPrompt: "again", LastImage: []byte("p")}
	next, effects = Transition(s, Redo{})
	assert.Equal(t, AwaitingTextPrompt, next.State)
	assert.Equal(t, GenerateText{Prompt: "again", Image: []byte("p")}, effects[1])

	a := Session{State: AwaitingAudioPrompt, PendingAudioMode: AudioEcho, LastPrompt: "say it"}
	next, effects = Transition(a, Redo{})
	assert.Equal(t, AwaitingAudioPrompt, next.State)
	assert.Equal(t, GenerateAudio{Prompt: "say it", Mode: AudioEcho}, effects[1])
}

func TestTransition_CancelFromAnyState(t *testing.T) {
	for _, st := range []State{Idle, ChoosingModelCategory, AwaitingImagePrompt, AwaitingTextPrompt, AwaitingAudioCategory, AwaitingAudioPrompt} {
		s := Session{State: st, PendingModel: "m", PendingAudioMode: AudioEcho, LastPrompt: "p", LastImage: []byte("i")}
		next, effects := Transition(s, Cancel{})
		assert.Equal(t, Session{}, next, "state %s", st)
		assert.Equal(t, []string{"say", "menu"}, effectTypes(effects))
	}
}

func TestTransition_SwitchingModalityDropsLastPrompt(t *testing.T) {
	s, _ := Transition(Session{}, ChooseModality{Modality: model.ModalityText})
	s, _ = Transition(s, SubmitPrompt{Text: "q"})
	assert.Equal(t, "q", s.LastPrompt)

	same, _ := Transition(s, ChooseModality{Modality: model.ModalityText})
	assert.Equal(t, "q", same.LastPrompt)

	other, _ := Transition(s, ChooseModality{Modality: model.ModalityImage})
	assert.Empty(t, other.LastPrompt)
}

func TestTransition_ModelSelection(t *testing.T) {
	next, effects := Transition(Session{}, ChooseModel{})
	assert.Equal(t, ChoosingModelCategory, next.State)
	assert.Equal(t, []string{"say"}, effectTypes(effects))

	next, effects = Transition(next, ShowModels{Modality: model.ModalityImage})
	assert.Equal(t, ChoosingModelCategory, next.State)
	assert.Equal(t, []Effect{LoadModels{Modality: model.ModalityImage}}, effects)

	next, effects = Transition(next, SelectModel{Modality: model.ModalityImage, Name: "turbo"})
	assert.Equal(t, Idle, next.State)
	assert.Equal(t, []Effect{PersistModel{Modality: model.ModalityImage, Name: "turbo"}}, effects)
}

func TestTransition_Voice(t *testing.T) {
	s := Session{State: AwaitingTextPrompt}
	next, effects := Transition(s, SelectVoice{Voice: "nova"})
	assert.Equal(t, s, next)
	assert.Equal(t, []Effect{PersistVoice{Voice: "nova"}}, effects)

	_, effects = Transition(s, SelectVoice{Voice: "robot"})
	assert.Equal(t, []string{"say"}, effectTypes(effects))
}

func TestTransition_Misc(t *testing.T) {
	s := Session{State: AwaitingImagePrompt}
	_, effects := Transition(s, ShowHistory{})
	assert.Equal(t, []Effect{RenderHistory{}}, effects)
	_, effects = Transition(s, ClearHistory{})
	assert.Equal(t, []Effect{WipeHistory{}}, effects)
	_, effects = Transition(s, RefreshModels{})
	assert.Equal(t, []Effect{Refresh{}}, effects)

	next, effects := Transition(s, Start{})
	assert.Equal(t, Session{}, next)
	assert.Equal(t, []Effect{RenderMenu{Greeting: true}}, effects)

	next, _ = Transition(s, ShowMenu{})
	assert.Equal(t, Idle, next.State)
}
