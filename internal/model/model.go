// Package model holds the domain types shared by the store, the history
// manager, the generation gateway and the conversation flow.
package model

import (
	"context"
	"strings"
	"time"
)

// Modality is a generation capability.
type Modality string

const (
	ModalityNone  Modality = "none"
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// ParseModality maps stored or user-supplied text to a Modality.
// Anything unrecognised is ModalityNone.
func ParseModality(s string) Modality {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case ModalityText:
		return ModalityText
	case ModalityImage:
		return ModalityImage
	case ModalityAudio:
		return ModalityAudio
	default:
		return ModalityNone
	}
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UserProfile is the per-user statistics and selection row.
type UserProfile struct {
	UserID          int64
	ImagesGenerated int64
	TextsGenerated  int64
	AudioGenerated  int64
	CurrentModel    string
	ModelType       Modality
	CurrentVoice    string
	LastUsed        *time.Time
}

// HasModel reports whether a model has been selected.
func (p UserProfile) HasModel() bool {
	return p.CurrentModel != "" && p.ModelType != ModalityNone
}

// ModelDescriptor describes one model offered by the generation API.
type ModelDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Catalog is a snapshot of the available models per modality.
type Catalog struct {
	Text  []ModelDescriptor `json:"text"`
	Image []ModelDescriptor `json:"image"`
	Audio []ModelDescriptor `json:"audio"`
}

// Models returns the descriptors for one modality.
func (c Catalog) Models(m Modality) []ModelDescriptor {
	switch m {
	case ModalityText:
		return c.Text
	case ModalityImage:
		return c.Image
	case ModalityAudio:
		return c.Audio
	default:
		return nil
	}
}

// Contains reports whether name is listed for modality m.
func (c Catalog) Contains(m Modality, name string) bool {
	for _, d := range c.Models(m) {
		if d.Name == name {
			return true
		}
	}
	return false
}

// ChatMessage is one stored history entry.
type ChatMessage struct {
	ID        int64
	UserID    int64
	Role      string
	Text      string
	CreatedAt time.Time
}

// Message is a model-agnostic chat message used for generation context.
type Message struct {
	Role    string
	Content string
}

// TextRequest is the input of a text generation.
// UserID zero means no history is read or written.
type TextRequest struct {
	Model  string
	Prompt string
	Image  []byte
	UserID int64
}

// TextResult carries the text to show the user. OK is false when Text is
// an error message rather than model output.
type TextResult struct {
	Text string
	OK   bool
}

// Generator is the generation gateway abstraction used by the conversation flow.
type Generator interface {
	ListModels(ctx context.Context) (Catalog, error)
	GenerateText(ctx context.Context, req TextRequest) TextResult
	GenerateImage(ctx context.Context, model, prompt string) (string, error)
	GenerateAudio(ctx context.Context, model, prompt, voice string) ([]byte, error)
}
