package conversation

import (
	"github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/model"
)

// Effect is work the Flow performs after a transition. The set is closed.
type Effect interface{ isEffect() }

type (
	// Say replies with fixed text.
	Say struct {
		Text     string
		Keyboard commander.Keyboard
	}
	// RequireModality vetoes the rest of the effects, and resets to Idle,
	// unless the user's selected model has the given modality.
	RequireModality struct{ Modality model.Modality }
	GenerateImage   struct{ Prompt string }
	GenerateText    struct {
		Prompt string
		Image  []byte
	}
	GenerateAudio struct {
		Prompt string
		Mode   AudioMode
	}
	// LoadModels renders the catalog of one modality, fetching it when
	// no snapshot is stored.
	LoadModels   struct{ Modality model.Modality }
	PersistModel struct {
		Modality model.Modality
		Name     string
	}
	PersistVoice struct{ Voice string }
	// Refresh replaces the stored catalog snapshot.
	Refresh       struct{}
	RenderHistory struct{}
	WipeHistory   struct{}
	RenderMenu    struct{ Greeting bool }
	// RejectPrompt re-prompts after empty input without consuming a turn.
	RejectPrompt struct{ Modality model.Modality }
)

func (Say) isEffect()             {}
func (RequireModality) isEffect() {}
func (GenerateImage) isEffect()   {}
func (GenerateText) isEffect()    {}
func (GenerateAudio) isEffect()   {}
func (LoadModels) isEffect()      {}
func (PersistModel) isEffect()    {}
func (PersistVoice) isEffect()    {}
func (Refresh) isEffect()         {}
func (RenderHistory) isEffect()   {}
func (WipeHistory) isEffect()     {}
func (RenderMenu) isEffect()      {}
func (RejectPrompt) isEffect()    {}
