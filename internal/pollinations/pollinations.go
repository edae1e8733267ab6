// Package pollinations is the generation gateway for the Pollinations API:
// model catalogs, text (OpenAI-compatible chat completions), image URLs and
// speech.
package pollinations

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/mediabot/internal/model"
)

var (
	// ErrCatalogUnavailable means at least one catalog fetch failed; no
	// partial catalog is returned.
	ErrCatalogUnavailable = errors.New("model catalog unavailable")
	// ErrNoAudio means the model answered without an audio payload.
	ErrNoAudio = errors.New("response carried no audio")
	// ErrStatus wraps non-success HTTP statuses.
	ErrStatus = errors.New("non-success status")
)

const (
	imagePromptPrefix = "Analyze this image and answer the following question: "
	audioPromptPrefix = "Please convert the following text to speech: "
	audioFormat       = "mp3"
)

// ContextSource supplies and records conversational context for text requests.
type ContextSource interface {
	GetContext(ctx context.Context, userID int64, maxTokens int) ([]model.Message, error)
	RecordTurn(ctx context.Context, userID int64, prompt, response string) error
}

// Config holds the endpoints and limits of the gateway.
type Config struct {
	TextModelsURL      string
	ImageModelsURL     string
	OpenAIBaseURL      string
	APIKey             string
	ImageGenerationURL string
	AudioModel         string
	HistoryMaxTokens   int
	Timeout            time.Duration
}

// Client talks to the Pollinations API. It keeps no per-user state.
type Client struct {
	cfg        Config
	httpClient *http.Client
	chat       *openai.Client
	history    ContextSource
	logger     *zap.Logger
}

// NewClient creates a gateway client. history may be nil, in which case
// text requests carry no context and nothing is recorded.
func NewClient(cfg Config, history ContextSource, logger *zap.Logger) *Client {
	if cfg.AudioModel == "" {
		cfg.AudioModel = "openai-audio"
	}
	if cfg.HistoryMaxTokens <= 0 {
		cfg.HistoryMaxTokens = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	chatCfg := openai.DefaultConfig(cfg.APIKey)
	chatCfg.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	chatCfg.HTTPClient = httpClient

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		chat:       openai.NewClientWithConfig(chatCfg),
		history:    history,
		logger:     logger,
	}
}

// ListModels fetches the text and image catalogs and derives the audio
// catalog from the text one.
func (c *Client) ListModels(ctx context.Context) (model.Catalog, error) {
	textBody, err := c.get(ctx, c.cfg.TextModelsURL)
	if err != nil {
		c.logger.Warn("text model fetch failed", zap.Error(err))
		return model.Catalog{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	text, err := decodeDescriptors(textBody)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("%w: text models: %v", ErrCatalogUnavailable, err)
	}
	if len(text) == 0 {
		return model.Catalog{}, fmt.Errorf("%w: empty text model list", ErrCatalogUnavailable)
	}

	imageBody, err := c.get(ctx, c.cfg.ImageModelsURL)
	if err != nil {
		c.logger.Warn("image model fetch failed", zap.Error(err))
		return model.Catalog{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	image, err := decodeDescriptors(imageBody)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("%w: image models: %v", ErrCatalogUnavailable, err)
	}
	if len(image) == 0 {
		return model.Catalog{}, fmt.Errorf("%w: empty image model list", ErrCatalogUnavailable)
	}

	var audio []model.ModelDescriptor
	for _, d := range text {
		if d.Name == c.cfg.AudioModel {
			audio = append(audio, d)
		}
	}
	return model.Catalog{Text: text, Image: image, Audio: audio}, nil
}

// decodeDescriptors accepts either a list of objects with name/description
// or a list of bare model names.
func decodeDescriptors(body []byte) ([]model.ModelDescriptor, error) {
	var names []string
	if err := sonic.Unmarshal(body, &names); err == nil {
		out := make([]model.ModelDescriptor, 0, len(names))
		for _, n := range names {
			out = append(out, model.ModelDescriptor{Name: n})
		}
		return out, nil
	}
	var descriptors []model.ModelDescriptor
	if err := sonic.Unmarshal(body, &descriptors); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	out := descriptors[:0]
	for _, d := range descriptors {
		if d.Name != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// GenerateText runs one chat completion. The result text is always
// something to show the user; OK reports whether it is model output.
func (c *Client) GenerateText(ctx context.Context, req model.TextRequest) model.TextResult {
	var messages []openai.ChatCompletionMessage
	if req.UserID != 0 && c.history != nil {
		prior, err := c.history.GetContext(ctx, req.UserID, c.cfg.HistoryMaxTokens)
		if err != nil {
			c.logger.Error("load chat context failed", zap.Int64("user_id", req.UserID), zap.Error(err))
			return model.TextResult{Text: fmt.Sprintf("An error occurred while processing the request: %v", err)}
		}
		for _, m := range prior {
			messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, userMessage(req.Prompt, req.Image))

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		MaxTokens:        1000,
		Temperature:      0.7,
		PresencePenalty:  0.6,
		FrequencyPenalty: 0.3,
	})
	if err != nil {
		if code, ok := statusCode(err); ok {
			c.logger.Warn("text generation rejected", zap.String("model", req.Model), zap.Int("status", code), zap.Error(err))
			return model.TextResult{Text: fmt.Sprintf("Error generating text. Status: %d", code)}
		}
		c.logger.Error("text generation failed", zap.String("model", req.Model), zap.Error(err))
		return model.TextResult{Text: fmt.Sprintf("An error occurred while processing the request: %v", err)}
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return model.TextResult{Text: "The model returned an empty response"}
	}
	content := resp.Choices[0].Message.Content

	if req.UserID != 0 && c.history != nil {
		if err := c.history.RecordTurn(ctx, req.UserID, req.Prompt, content); err != nil {
			c.logger.Error("record chat turn failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
	}
	return model.TextResult{Text: content, OK: true}
}

func userMessage(prompt string, image []byte) openai.ChatCompletionMessage {
	if len(image) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: imagePromptPrefix + prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    imageDataURL(image),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}
}

func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// ImageURL builds the deterministic generation URL for prompt and model.
func (c *Client) ImageURL(modelName, prompt string) string {
	return c.cfg.ImageGenerationURL + url.QueryEscape(prompt) + "?model=" + url.QueryEscape(modelName)
}

// GenerateImage requests the generation URL once and returns it. The image
// itself is fetched later by whoever renders the URL.
func (c *Client) GenerateImage(ctx context.Context, modelName, prompt string) (string, error) {
	u := c.ImageURL(modelName, prompt)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image generation: %w: %d", ErrStatus, resp.StatusCode)
	}
	return u, nil
}

type audioRequest struct {
	Model      string         `json:"model"`
	Modalities []string       `json:"modalities"`
	Audio      audioOptions   `json:"audio"`
	Messages   []audioMessage `json:"messages"`
}

type audioOptions struct {
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

type audioMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type audioResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Audio   *struct {
				Data string `json:"data"`
			} `json:"audio"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateAudio asks for a spoken rendition of prompt and returns the mp3 bytes.
func (c *Client) GenerateAudio(ctx context.Context, modelName, prompt, voice string) ([]byte, error) {
	payload, err := sonic.Marshal(audioRequest{
		Model:      modelName,
		Modalities: []string{"text", "audio"},
		Audio:      audioOptions{Voice: voice, Format: audioFormat},
		Messages:   []audioMessage{{Role: openai.ChatMessageRoleUser, Content: audioPromptPrefix + prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.OpenAIBaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create audio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading audio response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("audio generation rejected", zap.Int("status", resp.StatusCode), zap.String("body", truncate(string(body), 400)))
		return nil, fmt.Errorf("audio generation: %w: %d", ErrStatus, resp.StatusCode)
	}

	var parsed audioResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse audio response: %s", truncate(string(body), 400))
	}
	if len(parsed.Choices) == 0 {
		return nil, ErrNoAudio
	}
	msg := parsed.Choices[0].Message
	if msg.Audio != nil && msg.Audio.Data != "" {
		data, err := base64.StdEncoding.DecodeString(msg.Audio.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio payload: %w", err)
		}
		return data, nil
	}
	if msg.Content != "" {
		c.logger.Warn("text instead of audio",
			zap.String("prompt", truncate(prompt, 200)),
			zap.String("content", truncate(msg.Content, 100)))
	}
	return nil, ErrNoAudio
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %w: %d", u, ErrStatus, resp.StatusCode)
	}
	return body, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
