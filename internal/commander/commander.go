// Package commander is the transport abstraction between the chat
// platform and the conversation flow.
package commander

import (
	"context"
	"strings"
)

// Commander is the update source and reply sink used by the bot loop.
type Commander interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	Send(ctx context.Context, chatID int64, reply Reply) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Update represents an incoming message or button press.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      *string     `json:"text,omitempty"`
	Caption   *string     `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Date      int64       `json:"date"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// User identifies the sender.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution of an uploaded photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// UserID returns the id of the user who produced the update, or 0.
func (u Update) UserID() int64 {
	switch {
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID
	case u.Message != nil:
		return u.Message.Chat.ID
	default:
		return 0
	}
}

// ChatID returns the chat replies should go to, or 0.
func (u Update) ChatID() int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID
	case u.Message != nil:
		return u.Message.Chat.ID
	default:
		return 0
	}
}

// Kind is a short label used for logging and the updates table.
func (u Update) Kind() string {
	switch {
	case u.CallbackQuery != nil:
		return "callback"
	case u.Message != nil && len(u.Message.Photo) > 0:
		return "photo"
	case u.Message != nil:
		return "message"
	default:
		return "other"
	}
}

// LargestPhoto returns the file id of the highest resolution photo.
func (m *Message) LargestPhoto() string {
	if m == nil || len(m.Photo) == 0 {
		return ""
	}
	best := m.Photo[0]
	for _, p := range m.Photo[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best.FileID
}

// Body returns the message text, falling back to the photo caption.
func (m *Message) Body() string {
	if m == nil {
		return ""
	}
	if m.Text != nil {
		return strings.TrimSpace(*m.Text)
	}
	if m.Caption != nil {
		return strings.TrimSpace(*m.Caption)
	}
	return ""
}

// Button is one inline keyboard button.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Row builds a keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// Reply is one outbound rendering. Exactly one of Text-only, PhotoURL or
// Audio is the primary payload; Text doubles as the caption for media.
type Reply struct {
	Text      string
	Markdown  bool
	Keyboard  Keyboard
	PhotoURL  string
	Audio     []byte
	AudioName string
}
