// Package conversation drives the per-user dialogue: a pure transition
// function over explicit states and actions, and a Flow that executes the
// resulting effects against the store, the history and the generator.
package conversation

import "github.com/stupiduntilnot/mediabot/internal/model"

// State is where a user is in the dialogue.
type State int

const (
	Idle State = iota
	ChoosingModelCategory
	AwaitingImagePrompt
	AwaitingTextPrompt
	AwaitingAudioCategory
	AwaitingAudioPrompt
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChoosingModelCategory:
		return "choosing_model_category"
	case AwaitingImagePrompt:
		return "awaiting_image_prompt"
	case AwaitingTextPrompt:
		return "awaiting_text_prompt"
	case AwaitingAudioCategory:
		return "awaiting_audio_category"
	case AwaitingAudioPrompt:
		return "awaiting_audio_prompt"
	default:
		return "unknown"
	}
}

// promptModality is the modality a prompt-awaiting state generates.
func (s State) promptModality() (model.Modality, bool) {
	switch s {
	case AwaitingImagePrompt:
		return model.ModalityImage, true
	case AwaitingTextPrompt:
		return model.ModalityText, true
	case AwaitingAudioPrompt:
		return model.ModalityAudio, true
	default:
		return model.ModalityNone, false
	}
}

// AudioMode selects how an audio prompt is handled.
type AudioMode string

const (
	// AudioEcho speaks the user's text as-is.
	AudioEcho AudioMode = "echo"
	// AudioResponse generates a text reply first and speaks that.
	AudioResponse AudioMode = "response"
)

// Session is the in-memory conversation snapshot of one user.
type Session struct {
	State            State
	PendingModel     string
	PendingAudioMode AudioMode
	LastPrompt       string
	LastImage        []byte

	lastModality model.Modality
}

// Voices offered for speech output.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// DefaultVoice is used when the user never picked one.
const DefaultVoice = "alloy"

func validVoice(v string) bool {
	for _, known := range Voices {
		if v == known {
			return true
		}
	}
	return false
}
