package conversation

import "github.com/stupiduntilnot/mediabot/internal/model"

// Action is a discrete user input. The set is closed.
type Action interface{ isAction() }

type (
	Start         struct{}
	ShowMenu      struct{}
	Help          struct{}
	About         struct{}
	ChooseModel   struct{}
	RefreshModels struct{}
	ChooseVoice   struct{}
	Redo          struct{}
	Cancel        struct{}
	ShowHistory   struct{}
	ClearHistory  struct{}

	// ShowModels lists the catalog of one modality.
	ShowModels struct{ Modality model.Modality }
	// SelectModel picks a model for its modality.
	SelectModel struct {
		Modality model.Modality
		Name     string
	}
	SelectVoice struct{ Voice string }
	// ChooseModality starts a generation of the given kind.
	ChooseModality struct{ Modality model.Modality }
	PickAudioMode  struct{ Mode AudioMode }
	// SubmitPrompt is free text, optionally with an attached photo.
	SubmitPrompt struct {
		Text  string
		Image []byte
	}
	// Unknown is a command or button the bot does not recognise.
	Unknown struct{ Text string }
)

func (Start) isAction()          {}
func (ShowMenu) isAction()       {}
func (Help) isAction()           {}
func (About) isAction()          {}
func (ChooseModel) isAction()    {}
func (RefreshModels) isAction()  {}
func (ChooseVoice) isAction()    {}
func (Redo) isAction()           {}
func (Cancel) isAction()         {}
func (ShowHistory) isAction()    {}
func (ClearHistory) isAction()   {}
func (ShowModels) isAction()     {}
func (SelectModel) isAction()    {}
func (SelectVoice) isAction()    {}
func (ChooseModality) isAction() {}
func (PickAudioMode) isAction()  {}
func (SubmitPrompt) isAction()   {}
func (Unknown) isAction()        {}
