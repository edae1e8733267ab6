// Package dummy provides scripted stand-ins for the chat transport and the
// generation API, for offline runs and end-to-end tests.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok            no update / default success
//	err:<class>   fail with the given error class
//	sleep:<ms>    pause, then behave like ok
//	msg:<text>    deliver text (commander) or return text (generator)
//	msgb64:<b64>  like msg with base64-encoded text
//	cb:<data>     deliver a button press (commander only)
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/model"
)

type action struct {
	kind string
	arg  string
}

var scriptPrefixes = []string{"err:", "sleep:", "msg:", "msgb64:", "cb:"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		matched := false
		for _, prefix := range scriptPrefixes {
			if strings.HasPrefix(token, prefix) {
				actions = append(actions, action{kind: strings.TrimSuffix(prefix, ":"), arg: strings.TrimPrefix(token, prefix)})
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	mu      sync.Mutex
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleepFor(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decodeText(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

// Commander replays a poll script as updates from a single user and
// records every reply it is asked to send.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	userID   int64
	updateID int64
	sent     []cmdpkg.Reply
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, userID: 1, updateID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	if offset-1 > c.updateID {
		c.updateID = offset - 1
	}
	c.mu.Unlock()

	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleepFor(ctx, a.arg)
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return nil, err
		}
		return []cmdpkg.Update{c.nextUpdate(func(u *cmdpkg.Update) {
			u.Message = &cmdpkg.Message{
				From: &cmdpkg.User{ID: c.userID},
				Chat: cmdpkg.Chat{ID: c.userID},
				Text: &text,
				Date: time.Now().Unix(),
			}
		})}, nil
	case "cb":
		return []cmdpkg.Update{c.nextUpdate(func(u *cmdpkg.Update) {
			u.CallbackQuery = &cmdpkg.CallbackQuery{
				ID:      strconv.FormatInt(u.UpdateID, 10),
				From:    cmdpkg.User{ID: c.userID},
				Data:    a.arg,
				Message: &cmdpkg.Message{Chat: cmdpkg.Chat{ID: c.userID}},
			}
		})}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) nextUpdate(fill func(*cmdpkg.Update)) cmdpkg.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateID++
	u := cmdpkg.Update{UpdateID: c.updateID}
	fill(&u)
	return u
}

func (c *Commander) Send(ctx context.Context, chatID int64, reply cmdpkg.Reply) error {
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleepFor(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, reply)
	return nil
}

func (c *Commander) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return []byte("\xff\xd8dummy-" + fileID), nil
}

// Sent returns the replies delivered so far.
func (c *Commander) Sent() []cmdpkg.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cmdpkg.Reply(nil), c.sent...)
}

// Generator answers generation calls from a script. Every call, of any
// modality, consumes one action.
type Generator struct {
	script  *scriptRunner
	catalog model.Catalog
}

// DefaultCatalog is the catalog the dummy generator offers.
func DefaultCatalog() model.Catalog {
	return model.Catalog{
		Text: []model.ModelDescriptor{
			{Name: "openai", Description: "dummy text"},
			{Name: "openai-audio", Description: "dummy voice"},
		},
		Image: []model.ModelDescriptor{{Name: "flux"}, {Name: "turbo"}},
		Audio: []model.ModelDescriptor{{Name: "openai-audio", Description: "dummy voice"}},
	}
}

func NewGenerator(script string) (*Generator, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Generator{script: runner, catalog: DefaultCatalog()}, nil
}

func (g *Generator) ListModels(ctx context.Context) (model.Catalog, error) {
	a := g.script.next()
	if a.kind == "err" {
		return model.Catalog{}, fmt.Errorf("dummy generator error class=%s", emptyAs(a.arg, "catalog_unavailable"))
	}
	return g.catalog, nil
}

func (g *Generator) GenerateText(ctx context.Context, req model.TextRequest) model.TextResult {
	a := g.script.next()
	switch a.kind {
	case "err":
		return model.TextResult{Text: fmt.Sprintf("Error generating text. Status: %s", emptyAs(a.arg, "500"))}
	case "sleep":
		if err := sleepFor(ctx, a.arg); err != nil {
			return model.TextResult{Text: fmt.Sprintf("An error occurred while processing the request: %v", err)}
		}
		return model.TextResult{Text: "dummy-after-sleep", OK: true}
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return model.TextResult{Text: err.Error()}
		}
		return model.TextResult{Text: text, OK: true}
	default:
		return model.TextResult{Text: "dummy-ok: " + req.Prompt, OK: true}
	}
}

func (g *Generator) GenerateImage(ctx context.Context, modelName, prompt string) (string, error) {
	a := g.script.next()
	if a.kind == "err" {
		return "", fmt.Errorf("dummy generator error class=%s", emptyAs(a.arg, "image_api"))
	}
	return "https://dummy.invalid/prompt/" + url.QueryEscape(prompt) + "?model=" + url.QueryEscape(modelName), nil
}

func (g *Generator) GenerateAudio(ctx context.Context, modelName, prompt, voice string) ([]byte, error) {
	a := g.script.next()
	if a.kind == "err" {
		return nil, fmt.Errorf("dummy generator error class=%s", emptyAs(a.arg, "audio_api"))
	}
	return []byte("ID3:" + voice + ":" + prompt), nil
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
