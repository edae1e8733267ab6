package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	cmdpkg "github.com/stupiduntilnot/mediabot/internal/commander"
)

const (
	maxTextChars    = 3900
	maxCaptionChars = 1000
)

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	fileBase   string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>") and file download base
// (e.g. "https://api.telegram.org/file/bot<token>").
func NewClient(apiBase, fileBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase:  strings.TrimRight(apiBase, "/"),
		fileBase: strings.TrimRight(fileBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update

type inlineMarkup struct {
	InlineKeyboard cmdpkg.Keyboard `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64         `json:"chat_id"`
	Text        string        `json:"text"`
	ParseMode   string        `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID      int64         `json:"chat_id"`
	Photo       string        `json:"photo"`
	Caption     string        `json:"caption,omitempty"`
	ParseMode   string        `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineMarkup `json:"reply_markup,omitempty"`
}

type fileResult struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// GetUpdates calls the getUpdates API. Callback queries are acknowledged
// right away so the client stops showing a spinner.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create getUpdates request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read getUpdates response: %w", err)
	}

	var tgResp Response
	if err := sonic.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates response: %w", err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("telegram getUpdates not ok: %s", tgResp.Description)
	}

	var updates []Update
	if err := sonic.Unmarshal(tgResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	for _, u := range updates {
		if u.CallbackQuery != nil {
			_ = c.answerCallbackQuery(ctx, u.CallbackQuery.ID)
		}
	}
	return updates, nil
}

// Send renders one reply: audio upload, photo by URL, or a text message.
func (c *Client) Send(ctx context.Context, chatID int64, reply cmdpkg.Reply) error {
	var markup *inlineMarkup
	if len(reply.Keyboard) > 0 {
		markup = &inlineMarkup{InlineKeyboard: reply.Keyboard}
	}
	parseMode := ""
	if reply.Markdown {
		parseMode = "Markdown"
	}

	switch {
	case len(reply.Audio) > 0:
		return c.sendAudio(ctx, chatID, reply)
	case reply.PhotoURL != "":
		return c.call(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:      chatID,
			Photo:       reply.PhotoURL,
			Caption:     truncate(reply.Text, maxCaptionChars),
			ParseMode:   parseMode,
			ReplyMarkup: markup,
		}, nil)
	default:
		return c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID:      chatID,
			Text:        truncate(reply.Text, maxTextChars),
			ParseMode:   parseMode,
			ReplyMarkup: markup,
		}, nil)
	}
}

// DownloadFile resolves a file id with getFile and fetches its content.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f fileResult
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile returned no path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+f.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create file request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) sendAudio(ctx context.Context, chatID int64, reply cmdpkg.Reply) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if reply.Text != "" {
		_ = w.WriteField("caption", truncate(reply.Text, maxCaptionChars))
	}
	if len(reply.Keyboard) > 0 {
		markup, err := sonic.MarshalString(inlineMarkup{InlineKeyboard: reply.Keyboard})
		if err != nil {
			return fmt.Errorf("failed to marshal reply markup: %w", err)
		}
		_ = w.WriteField("reply_markup", markup)
	}
	name := reply.AudioName
	if name == "" {
		name = "audio.mp3"
	}
	part, err := w.CreateFormFile("audio", name)
	if err != nil {
		return fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := part.Write(reply.Audio); err != nil {
		return fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendAudio", &buf)
	if err != nil {
		return fmt.Errorf("failed to create sendAudio request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, "sendAudio", nil)
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID}, nil)
}

// call posts a JSON payload to method and decodes the result into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var tgResp Response
	if err := sonic.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram %s not ok: %s", method, tgResp.Description)
	}
	if out != nil {
		if err := sonic.Unmarshal(tgResp.Result, out); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
