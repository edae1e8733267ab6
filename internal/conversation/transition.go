package conversation

import (
	"strings"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

// Transition computes the next session and the effects of applying a to s.
// It has no side effects. Generation effects are preceded by a
// RequireModality check; the Flow resets to Idle if that check or the
// generation itself fails.
func Transition(s Session, a Action) (Session, []Effect) {
	switch a := a.(type) {
	case Start:
		return Session{}, []Effect{RenderMenu{Greeting: true}}

	case ShowMenu:
		return idle(s), []Effect{RenderMenu{}}

	case Help:
		return s, []Effect{Say{Text: helpText, Keyboard: mainKeyboard()}}

	case About:
		return s, []Effect{Say{Text: aboutText}}

	case ChooseModel:
		next := idle(s)
		next.State = ChoosingModelCategory
		return next, []Effect{Say{Text: "Choose a model category:", Keyboard: categoryKeyboard()}}

	case ShowModels:
		if a.Modality == model.ModalityNone {
			return s, []Effect{Say{Text: unknownText}}
		}
		next := idle(s)
		next.State = ChoosingModelCategory
		return next, []Effect{LoadModels{Modality: a.Modality}}

	case SelectModel:
		if a.Modality == model.ModalityNone || strings.TrimSpace(a.Name) == "" {
			return s, []Effect{Say{Text: unknownText}}
		}
		return idle(s), []Effect{PersistModel{Modality: a.Modality, Name: a.Name}}

	case RefreshModels:
		return s, []Effect{Refresh{}}

	case ChooseVoice:
		return s, []Effect{Say{Text: "Choose a voice for audio generation:", Keyboard: voiceKeyboard()}}

	case SelectVoice:
		if !validVoice(a.Voice) {
			return s, []Effect{Say{Text: "Unknown voice. Available voices: " + strings.Join(Voices, ", ")}}
		}
		return s, []Effect{PersistVoice{Voice: a.Voice}}

	case ChooseModality:
		return chooseModality(s, a.Modality)

	case PickAudioMode:
		if s.State != AwaitingAudioCategory {
			return s, []Effect{Say{Text: idleGuidance, Keyboard: mainKeyboard()}}
		}
		if a.Mode != AudioEcho && a.Mode != AudioResponse {
			return s, []Effect{Say{Text: useButtonsText, Keyboard: audioModeKeyboard()}}
		}
		next := s
		next.State = AwaitingAudioPrompt
		next.PendingAudioMode = a.Mode
		return next, []Effect{Say{Text: promptText(model.ModalityAudio, a.Mode), Keyboard: cancelKeyboard()}}

	case SubmitPrompt:
		return submit(s, a.Text, a.Image, false)

	case Redo:
		if _, ok := s.State.promptModality(); !ok || s.LastPrompt == "" {
			return idle(s), []Effect{Say{Text: nothingToRedo, Keyboard: mainKeyboard()}}
		}
		return submit(s, s.LastPrompt, nil, true)

	case Cancel:
		return Session{}, []Effect{Say{Text: cancelledText}, RenderMenu{}}

	case ShowHistory:
		return s, []Effect{RenderHistory{}}

	case ClearHistory:
		return s, []Effect{WipeHistory{}}

	case Unknown:
		return s, []Effect{Say{Text: unknownText}}

	default:
		return s, nil
	}
}

func chooseModality(s Session, m model.Modality) (Session, []Effect) {
	next := idle(s)
	if m != s.lastModality {
		next.LastPrompt = ""
		next.LastImage = nil
	}
	next.lastModality = m

	switch m {
	case model.ModalityImage:
		next.State = AwaitingImagePrompt
	case model.ModalityText:
		next.State = AwaitingTextPrompt
	case model.ModalityAudio:
		next.State = AwaitingAudioCategory
		return next, []Effect{
			RequireModality{Modality: m},
			Say{Text: "Choose how to generate audio:", Keyboard: audioModeKeyboard()},
		}
	default:
		return s, []Effect{Say{Text: unknownText}}
	}
	return next, []Effect{
		RequireModality{Modality: m},
		Say{Text: promptText(m, ""), Keyboard: cancelKeyboard()},
	}
}

// submit handles a prompt in the current state. replay keeps the state
// for every modality; a fresh image or audio prompt returns to Idle while
// a text prompt stays put so follow-ups need no navigation.
func submit(s Session, text string, image []byte, replay bool) (Session, []Effect) {
	m, ok := s.State.promptModality()
	if !ok {
		if s.State == Idle {
			return s, []Effect{Say{Text: idleGuidance, Keyboard: mainKeyboard()}}
		}
		return s, []Effect{Say{Text: useButtonsText}}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return s, []Effect{RejectPrompt{Modality: m}}
	}

	next := s
	next.LastPrompt = text
	if !replay && m != model.ModalityText {
		next = idle(next)
	}

	gate := RequireModality{Modality: m}
	switch m {
	case model.ModalityImage:
		return next, []Effect{gate, GenerateImage{Prompt: text}}
	case model.ModalityText:
		if len(image) > 0 {
			next.LastImage = image
		}
		return next, []Effect{gate, GenerateText{Prompt: text, Image: next.LastImage}}
	default:
		mode := s.PendingAudioMode
		if mode == "" {
			mode = AudioEcho
		}
		return next, []Effect{gate, GenerateAudio{Prompt: text, Mode: mode}}
	}
}

// idle returns s in Idle, dropping per-turn data but keeping what Redo
// and follow-up prompts need.
func idle(s Session) Session {
	return Session{
		State:        Idle,
		LastPrompt:   s.LastPrompt,
		LastImage:    s.LastImage,
		lastModality: s.lastModality,
	}
}
