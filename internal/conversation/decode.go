package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/model"
)

// FileSource downloads files attached to messages.
type FileSource interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Decode maps a transport update to an action. It returns a nil action
// for updates that carry nothing the bot reacts to. Attached photos are
// downloaded through files.
func Decode(ctx context.Context, u commander.Update, files FileSource) (Action, error) {
	if u.CallbackQuery != nil {
		return decodeCallback(strings.TrimSpace(u.CallbackQuery.Data)), nil
	}
	msg := u.Message
	if msg == nil {
		return nil, nil
	}

	if fileID := msg.LargestPhoto(); fileID != "" {
		var image []byte
		if files != nil {
			data, err := files.DownloadFile(ctx, fileID)
			if err != nil {
				return nil, fmt.Errorf("download photo %s: %w", fileID, err)
			}
			image = data
		}
		return SubmitPrompt{Text: msg.Body(), Image: image}, nil
	}

	text := msg.Body()
	if strings.HasPrefix(text, "/") {
		return decodeCommand(text), nil
	}
	if msg.Text == nil {
		return nil, nil
	}
	return SubmitPrompt{Text: text}, nil
}

func decodeCommand(text string) Action {
	cmd := strings.Fields(text)[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	switch strings.ToLower(cmd) {
	case "/start":
		return Start{}
	case "/menu":
		return ShowMenu{}
	case "/help":
		return Help{}
	case "/about":
		return About{}
	case "/model":
		return ChooseModel{}
	case "/models":
		return RefreshModels{}
	case "/voice":
		return ChooseVoice{}
	case "/history":
		return ShowHistory{}
	case "/clear":
		return ClearHistory{}
	case "/redo":
		return Redo{}
	case "/cancel":
		return Cancel{}
	case "/image":
		return ChooseModality{Modality: model.ModalityImage}
	case "/text":
		return ChooseModality{Modality: model.ModalityText}
	case "/audio":
		return ChooseModality{Modality: model.ModalityAudio}
	default:
		return Unknown{Text: text}
	}
}

func decodeCallback(data string) Action {
	switch data {
	case cbMenu:
		return ShowMenu{}
	case cbHelp:
		return Help{}
	case cbAbout:
		return About{}
	case cbChooseModel:
		return ChooseModel{}
	case cbRefresh:
		return RefreshModels{}
	case cbChooseVoice:
		return ChooseVoice{}
	case cbRedo:
		return Redo{}
	case cbCancel:
		return Cancel{}
	case cbHistory:
		return ShowHistory{}
	case cbClearHistory:
		return ClearHistory{}
	}

	switch {
	case strings.HasPrefix(data, cbModelsPrefix):
		if m := model.ParseModality(strings.TrimPrefix(data, cbModelsPrefix)); m != model.ModalityNone {
			return ShowModels{Modality: m}
		}
	case strings.HasPrefix(data, cbSelectPrefix):
		kind, name, ok := strings.Cut(strings.TrimPrefix(data, cbSelectPrefix), ":")
		if m := model.ParseModality(kind); ok && m != model.ModalityNone && name != "" {
			return SelectModel{Modality: m, Name: name}
		}
	case strings.HasPrefix(data, cbVoicePrefix):
		return SelectVoice{Voice: strings.TrimPrefix(data, cbVoicePrefix)}
	case strings.HasPrefix(data, cbGenPrefix):
		if m := model.ParseModality(strings.TrimPrefix(data, cbGenPrefix)); m != model.ModalityNone {
			return ChooseModality{Modality: m}
		}
	case strings.HasPrefix(data, cbAudioPrefix):
		return PickAudioMode{Mode: AudioMode(strings.TrimPrefix(data, cbAudioPrefix))}
	}
	return Unknown{Text: data}
}

// IsCancel reports whether a is a cancellation, which the bot loop applies
// ahead of queued work.
func IsCancel(a Action) bool {
	_, ok := a.(Cancel)
	return ok
}
