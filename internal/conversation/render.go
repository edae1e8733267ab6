package conversation

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/model"
)

// Callback payloads carried by inline buttons.
const (
	cbMenu         = "menu"
	cbHelp         = "help"
	cbAbout        = "about"
	cbChooseModel  = "choose_model"
	cbRefresh      = "refresh_models"
	cbChooseVoice  = "choose_voice"
	cbRedo         = "redo"
	cbCancel       = "cancel"
	cbHistory      = "history"
	cbClearHistory = "clear_history"

	cbModelsPrefix = "models:"
	cbSelectPrefix = "select:"
	cbVoicePrefix  = "voice:"
	cbGenPrefix    = "gen:"
	cbAudioPrefix  = "audio_mode:"
)

const (
	helpText = `How to use the bot:

1. Press "Choose model" and pick a text, image or audio model.
2. Press the matching "Generate" button and send your prompt.
3. For text you can attach a photo with a caption to ask about it.
4. For audio pick "Echo" to hear your own text, or "Response" to hear a generated answer.

Commands:
/start - main menu
/image, /text, /audio - start generating
/model - choose a model
/models - refresh the model list
/voice - choose a voice
/history - recent conversation
/clear - clear the conversation history
/redo - repeat the last prompt
/cancel - cancel the current action`

	aboutText = `This bot generates text, images and speech with the Pollinations API.
Text answers use your recent conversation as context. History older than a week is removed automatically.`

	idleGuidance     = "Choose an action from the menu first."
	useButtonsText   = "Please use the buttons below."
	nothingToRedo    = "Nothing to redo."
	cancelledText    = "Action cancelled."
	genericErrorText = "An error occurred, please try again later."
	unknownText      = "Unknown command. Use /help to see what I can do."
	historyEmptyText = "Your history is empty."
	historyCleared   = "History cleared."
	historyLimit     = 10
	historySnippet   = 200
)

func btn(text, data string) commander.Button {
	return commander.Button{Text: text, Data: data}
}

func mainKeyboard() commander.Keyboard {
	return commander.Keyboard{
		commander.Row(btn("Choose model", cbChooseModel), btn("Choose voice", cbChooseVoice)),
		commander.Row(btn("Generate image", cbGenPrefix+string(model.ModalityImage)), btn("Generate text", cbGenPrefix+string(model.ModalityText))),
		commander.Row(btn("Generate audio", cbGenPrefix+string(model.ModalityAudio))),
		commander.Row(btn("History", cbHistory), btn("Help", cbHelp), btn("About", cbAbout)),
	}
}

func categoryKeyboard() commander.Keyboard {
	return commander.Keyboard{
		commander.Row(
			btn("Text models", cbModelsPrefix+string(model.ModalityText)),
			btn("Image models", cbModelsPrefix+string(model.ModalityImage)),
			btn("Audio models", cbModelsPrefix+string(model.ModalityAudio)),
		),
		commander.Row(btn("Refresh models", cbRefresh)),
		commander.Row(btn("Back", cbMenu)),
	}
}

func cancelKeyboard() commander.Keyboard {
	return commander.Keyboard{commander.Row(btn("Cancel", cbCancel))}
}

func audioModeKeyboard() commander.Keyboard {
	return commander.Keyboard{
		commander.Row(btn("Echo", cbAudioPrefix+string(AudioEcho)), btn("Response", cbAudioPrefix+string(AudioResponse))),
		commander.Row(btn("Cancel", cbCancel)),
	}
}

func voiceKeyboard() commander.Keyboard {
	var kb commander.Keyboard
	var row []commander.Button
	for _, v := range Voices {
		row = append(row, btn(v, cbVoicePrefix+v))
		if len(row) == 3 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return append(kb, commander.Row(btn("Back", cbMenu)))
}

// maxCallbackData is Telegram's limit on callback_data, in bytes.
const maxCallbackData = 64

// modelsKeyboard lays out two models per row. Models whose callback data
// would exceed maxCallbackData get no button; the list text still names them.
func modelsKeyboard(m model.Modality, models []model.ModelDescriptor) commander.Keyboard {
	var buttons []commander.Button
	for _, d := range models {
		data := cbSelectPrefix + string(m) + ":" + d.Name
		if len(data) > maxCallbackData {
			continue
		}
		buttons = append(buttons, btn(d.Name, data))
	}

	var kb commander.Keyboard
	for i := 0; i < len(buttons); i += 2 {
		kb = append(kb, buttons[i:min(i+2, len(buttons))])
	}
	return append(kb, commander.Row(btn("Refresh models", cbRefresh), btn("Back", cbChooseModel)))
}

func textResultKeyboard() commander.Keyboard {
	return commander.Keyboard{commander.Row(btn("Redo", cbRedo), btn("Menu", cbMenu))}
}

func againKeyboard(m model.Modality) commander.Keyboard {
	return commander.Keyboard{commander.Row(btn("Generate again", cbGenPrefix+string(m)), btn("Menu", cbMenu))}
}

func historyKeyboard() commander.Keyboard {
	return commander.Keyboard{commander.Row(btn("Clear history", cbClearHistory), btn("Menu", cbMenu))}
}

func promptText(m model.Modality, mode AudioMode) string {
	switch m {
	case model.ModalityImage:
		return "Describe the image you want to generate."
	case model.ModalityText:
		return "Send your question. You can also send a photo with a caption to ask about it."
	case model.ModalityAudio:
		if mode == AudioResponse {
			return "Send a message and I will answer it out loud."
		}
		return "Send the text you want to hear."
	default:
		return idleGuidance
	}
}

func rejectText(m model.Modality) string {
	if m == model.ModalityText {
		return "The prompt is empty. Send some text, or a photo with a caption."
	}
	return "The prompt is empty. Please send some text."
}

func menuText(p model.UserProfile, greeting bool) string {
	var b strings.Builder
	if greeting {
		b.WriteString("Welcome! I can generate text, images and speech.\n\n")
	}
	b.WriteString("Main menu\n\n")
	if p.HasModel() {
		fmt.Fprintf(&b, "Current model: %s (%s)\n", p.CurrentModel, p.ModelType)
	} else {
		b.WriteString("Current model: not selected\n")
	}
	voice := p.CurrentVoice
	if voice == "" {
		voice = DefaultVoice
	}
	fmt.Fprintf(&b, "Voice: %s\n\n", voice)
	fmt.Fprintf(&b, "Images generated: %d\n", p.ImagesGenerated)
	fmt.Fprintf(&b, "Texts generated: %d\n", p.TextsGenerated)
	fmt.Fprintf(&b, "Audio generated: %d", p.AudioGenerated)
	if p.LastUsed != nil {
		fmt.Fprintf(&b, "\nLast used: %s", p.LastUsed.Format("2006-01-02 15:04"))
	}
	return b.String()
}

func modelListText(m model.Modality, models []model.ModelDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Available %s models:\n", m)
	for _, d := range models {
		if d.Description != "" {
			fmt.Fprintf(&b, "\n- %s: %s", d.Name, d.Description)
		} else {
			fmt.Fprintf(&b, "\n- %s", d.Name)
		}
	}
	return b.String()
}

func historyText(msgs []model.ChatMessage) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range msgs {
		who := "You"
		if m.Role == model.RoleAssistant {
			who = "Bot"
		}
		fmt.Fprintf(&b, "\n%s: %s", who, snippet(m.Text, historySnippet))
	}
	return b.String()
}

func mismatchText(p model.UserProfile, want model.Modality) string {
	return fmt.Sprintf("Your current model %s is a %s model. Choose a %s model to continue.", p.CurrentModel, p.ModelType, want)
}

func snippet(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}
