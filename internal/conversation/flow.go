package conversation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/control"
	"github.com/stupiduntilnot/mediabot/internal/db"
	"github.com/stupiduntilnot/mediabot/internal/logging"
	"github.com/stupiduntilnot/mediabot/internal/model"
)

// Store is the persistence the flow needs.
type Store interface {
	GetUserProfile(ctx context.Context, userID int64) (model.UserProfile, error)
	SaveUserProfile(ctx context.Context, p model.UserProfile) error
	GetModelCatalog(ctx context.Context, userID int64) (model.Catalog, error)
	SaveModelCatalog(ctx context.Context, userID int64, c model.Catalog) error
	LogEvent(ctx context.Context, parentID *int64, userID int64, eventType string, payload map[string]any) (int64, error)
	Now() time.Time
}

// History is the chat log view used by the history screens.
type History interface {
	Recent(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error)
	Clear(ctx context.Context, userID int64) error
}

// Options tunes a Flow.
type Options struct {
	Policy       control.Policy
	DefaultVoice string
	Logger       *zap.Logger
}

// Flow applies actions to user sessions and executes the resulting effects.
// Calls for different users may run concurrently; calls for one user must
// be serialised by the caller, except Interrupt.
type Flow struct {
	store        Store
	history      History
	gen          model.Generator
	sessions     *Sessions
	policy       control.Policy
	defaultVoice string
	logger       *zap.Logger
}

func NewFlow(store Store, history History, gen model.Generator, opts Options) *Flow {
	if opts.DefaultVoice == "" || !validVoice(opts.DefaultVoice) {
		opts.DefaultVoice = DefaultVoice
	}
	if opts.Policy.CallTimeout <= 0 {
		opts.Policy.CallTimeout = control.DefaultPolicy().CallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Flow{
		store:        store,
		history:      history,
		gen:          gen,
		sessions:     NewSessions(),
		policy:       opts.Policy,
		defaultVoice: opts.DefaultVoice,
		logger:       opts.Logger,
	}
}

// Sessions exposes the session table.
func (f *Flow) Sessions() *Sessions { return f.sessions }

// Interrupt resets the user to Idle immediately. A generation already in
// flight for the user finishes but its result is dropped.
func (f *Flow) Interrupt(userID int64) {
	f.sessions.Reset(userID)
}

// Handle applies a to the user's session and returns the replies to render.
// It returns nil when the result was discarded because the user cancelled
// while it was being produced.
func (f *Flow) Handle(ctx context.Context, userID int64, a Action) []commander.Reply {
	log := logging.FromContext(ctx, f.logger).With(zap.Int64("user_id", userID))
	cur, gen := f.sessions.Get(userID)
	next, effects := Transition(cur, a)
	log.Debug("transition",
		zap.String("action", fmt.Sprintf("%T", a)),
		zap.Stringer("from", cur.State),
		zap.Stringer("to", next.State),
		zap.Int("effects", len(effects)))

	r := &run{flow: f, ctx: ctx, log: log, userID: userID, gen: gen, next: next}
	for _, e := range effects {
		if !r.apply(e) {
			break
		}
	}
	if r.stale || !f.sessions.CompareAndSet(userID, gen, r.next) {
		log.Info("discarding result of cancelled action")
		return nil
	}
	return r.replies
}

// run is the state of one Handle call.
type run struct {
	flow    *Flow
	ctx     context.Context
	log     *zap.Logger
	userID  int64
	gen     uint64
	next    Session
	profile *model.UserProfile
	replies []commander.Reply
	stale   bool
}

func (r *run) say(text string, kb commander.Keyboard) {
	r.replies = append(r.replies, commander.Reply{Text: text, Keyboard: kb})
}

// reset returns the user to Idle after a failed or vetoed step.
func (r *run) reset() {
	r.next = idle(r.next)
}

func (r *run) fail(op string, err error) bool {
	r.log.Error(op+" failed", zap.Error(err))
	r.say(genericErrorText, mainKeyboard())
	r.reset()
	return false
}

func (r *run) event(eventType string, payload map[string]any) {
	if _, err := r.flow.store.LogEvent(r.ctx, db.ParentEvent(r.ctx), r.userID, eventType, payload); err != nil {
		r.log.Warn("log event failed", zap.String("event", eventType), zap.Error(err))
	}
}

func (r *run) loadProfile() (model.UserProfile, error) {
	if r.profile != nil {
		return *r.profile, nil
	}
	p, err := r.flow.store.GetUserProfile(r.ctx, r.userID)
	if err != nil {
		return model.UserProfile{}, err
	}
	r.profile = &p
	return p, nil
}

func (r *run) saveProfile(p model.UserProfile) error {
	if err := r.flow.store.SaveUserProfile(r.ctx, p); err != nil {
		return err
	}
	r.profile = &p
	return nil
}

// checkStale reports whether the user cancelled since Handle started.
func (r *run) checkStale() bool {
	if r.flow.sessions.Generation(r.userID) != r.gen {
		r.stale = true
	}
	return r.stale
}

func (r *run) apply(e Effect) bool {
	switch e := e.(type) {
	case Say:
		r.say(e.Text, e.Keyboard)
		return true
	case RejectPrompt:
		r.say(rejectText(e.Modality), cancelKeyboard())
		return true
	case RequireModality:
		return r.requireModality(e.Modality)
	case GenerateImage:
		return r.generateImage(e.Prompt)
	case GenerateText:
		return r.generateText(e.Prompt, e.Image)
	case GenerateAudio:
		return r.generateAudio(e.Prompt, e.Mode)
	case LoadModels:
		return r.loadModels(e.Modality)
	case PersistModel:
		return r.persistModel(e.Modality, e.Name)
	case PersistVoice:
		return r.persistVoice(e.Voice)
	case Refresh:
		return r.refresh()
	case RenderHistory:
		return r.renderHistory()
	case WipeHistory:
		return r.wipeHistory()
	case RenderMenu:
		return r.renderMenu(e.Greeting)
	default:
		r.log.Warn("unhandled effect", zap.String("effect", fmt.Sprintf("%T", e)))
		return true
	}
}

func (r *run) requireModality(m model.Modality) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	if !p.HasModel() {
		r.say(fmt.Sprintf("You have not selected a model yet. Choose a %s model first.", m),
			commander.Keyboard{commander.Row(btn("Choose model", cbChooseModel))})
		r.reset()
		return false
	}
	if p.ModelType != m {
		r.say(mismatchText(p, m), commander.Keyboard{commander.Row(btn("Choose model", cbChooseModel))})
		r.reset()
		return false
	}
	r.next.PendingModel = p.CurrentModel
	return true
}

// recordSuccess bumps the counters of a finished generation.
func (r *run) recordSuccess(m model.Modality, bump func(*model.UserProfile)) error {
	p, err := r.loadProfile()
	if err != nil {
		return err
	}
	bump(&p)
	now := r.flow.store.Now()
	p.LastUsed = &now
	if err := r.saveProfile(p); err != nil {
		return err
	}
	r.event(db.EventGenerationSucceeded, map[string]any{"modality": string(m), "model": p.CurrentModel})
	return nil
}

func (r *run) generationFailed(m model.Modality, modelName string, err error, text string) bool {
	r.log.Warn("generation failed", zap.String("modality", string(m)), zap.String("model", modelName), zap.Error(err))
	payload := map[string]any{"modality": string(m), "model": modelName}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.event(db.EventGenerationFailed, payload)
	r.say(text, mainKeyboard())
	r.reset()
	return false
}

func (r *run) generateImage(prompt string) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	ctx, cancel := r.flow.policy.WithCallTimeout(r.ctx)
	u, err := r.flow.gen.GenerateImage(ctx, p.CurrentModel, prompt)
	cancel()
	if r.checkStale() {
		return false
	}
	if err != nil {
		return r.generationFailed(model.ModalityImage, p.CurrentModel, err, "Failed to generate the image. Please try again later.")
	}
	if err := r.recordSuccess(model.ModalityImage, func(p *model.UserProfile) { p.ImagesGenerated++ }); err != nil {
		return r.fail("save profile", err)
	}
	r.replies = append(r.replies, commander.Reply{
		PhotoURL: u,
		Text:     snippet(prompt, 900),
		Keyboard: againKeyboard(model.ModalityImage),
	})
	return true
}

func (r *run) generateText(prompt string, image []byte) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	ctx, cancel := r.flow.policy.WithCallTimeout(r.ctx)
	res := r.flow.gen.GenerateText(ctx, model.TextRequest{
		Model:  p.CurrentModel,
		Prompt: prompt,
		Image:  image,
		UserID: r.userID,
	})
	cancel()
	if r.checkStale() {
		return false
	}
	if !res.OK {
		return r.generationFailed(model.ModalityText, p.CurrentModel, nil, res.Text)
	}
	if err := r.recordSuccess(model.ModalityText, func(p *model.UserProfile) { p.TextsGenerated++ }); err != nil {
		return r.fail("save profile", err)
	}
	r.say(res.Text, textResultKeyboard())
	return true
}

func (r *run) generateAudio(prompt string, mode AudioMode) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	voice := p.CurrentVoice
	if voice == "" {
		voice = r.flow.defaultVoice
	}

	speech := prompt
	if mode == AudioResponse {
		ctx, cancel := r.flow.policy.WithCallTimeout(r.ctx)
		res := r.flow.gen.GenerateText(ctx, model.TextRequest{Model: p.CurrentModel, Prompt: prompt, UserID: r.userID})
		cancel()
		if r.checkStale() {
			return false
		}
		if !res.OK {
			return r.generationFailed(model.ModalityAudio, p.CurrentModel, nil, res.Text)
		}
		speech = res.Text
	}

	ctx, cancel := r.flow.policy.WithCallTimeout(r.ctx)
	audio, err := r.flow.gen.GenerateAudio(ctx, p.CurrentModel, speech, voice)
	cancel()
	if r.checkStale() {
		return false
	}
	if err != nil {
		return r.generationFailed(model.ModalityAudio, p.CurrentModel, err, "Failed to generate audio. Please try again later.")
	}
	if err := r.recordSuccess(model.ModalityAudio, func(p *model.UserProfile) { p.AudioGenerated++ }); err != nil {
		return r.fail("save profile", err)
	}
	caption := ""
	if mode == AudioResponse {
		caption = speech
	}
	r.replies = append(r.replies, commander.Reply{
		Audio:     audio,
		AudioName: "speech.mp3",
		Text:      caption,
		Keyboard:  againKeyboard(model.ModalityAudio),
	})
	return true
}

// fetchCatalog refreshes the stored snapshot from the generator.
func (r *run) fetchCatalog() (model.Catalog, bool) {
	ctx, cancel := r.flow.policy.WithCallTimeout(r.ctx)
	c, err := r.flow.gen.ListModels(ctx)
	cancel()
	if err != nil {
		r.log.Warn("model catalog fetch failed", zap.Error(err))
		r.say("Could not load the model list. Please try again later.", mainKeyboard())
		r.reset()
		return model.Catalog{}, false
	}
	if err := r.flow.store.SaveModelCatalog(r.ctx, r.userID, c); err != nil {
		r.fail("save model catalog", err)
		return model.Catalog{}, false
	}
	r.event(db.EventCatalogRefreshed, map[string]any{
		"text": len(c.Text), "image": len(c.Image), "audio": len(c.Audio),
	})
	return c, true
}

func (r *run) loadModels(m model.Modality) bool {
	c, err := r.flow.store.GetModelCatalog(r.ctx, r.userID)
	if err != nil {
		return r.fail("load model catalog", err)
	}
	if len(c.Text) == 0 && len(c.Image) == 0 && len(c.Audio) == 0 {
		var ok bool
		if c, ok = r.fetchCatalog(); !ok {
			return false
		}
	}
	models := c.Models(m)
	if len(models) == 0 {
		r.say(fmt.Sprintf("No %s models are available right now.", m), categoryKeyboard())
		return true
	}
	r.say(modelListText(m, models), modelsKeyboard(m, models))
	return true
}

func (r *run) persistModel(m model.Modality, name string) bool {
	c, err := r.flow.store.GetModelCatalog(r.ctx, r.userID)
	if err != nil {
		return r.fail("load model catalog", err)
	}
	if len(c.Models(m)) > 0 && !c.Contains(m, name) {
		r.say(fmt.Sprintf("Unknown %s model %s.", m, name), categoryKeyboard())
		return false
	}
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	p.CurrentModel = name
	p.ModelType = m
	if err := r.saveProfile(p); err != nil {
		return r.fail("save profile", err)
	}
	r.event(db.EventModelSelected, map[string]any{"modality": string(m), "model": name})
	r.say(fmt.Sprintf("Model %s selected for %s generation.", name, m), mainKeyboard())
	return true
}

func (r *run) persistVoice(voice string) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	p.CurrentVoice = voice
	if err := r.saveProfile(p); err != nil {
		return r.fail("save profile", err)
	}
	r.event(db.EventVoiceSelected, map[string]any{"voice": voice})
	r.say(fmt.Sprintf("Voice %s selected.", voice), mainKeyboard())
	return true
}

func (r *run) refresh() bool {
	c, ok := r.fetchCatalog()
	if !ok {
		return false
	}
	r.say(fmt.Sprintf("Model list updated: %d text, %d image, %d audio models.",
		len(c.Text), len(c.Image), len(c.Audio)), categoryKeyboard())
	return true
}

func (r *run) renderHistory() bool {
	msgs, err := r.flow.history.Recent(r.ctx, r.userID, historyLimit)
	if err != nil {
		return r.fail("load history", err)
	}
	if len(msgs) == 0 {
		r.say(historyEmptyText, mainKeyboard())
		return true
	}
	r.say(historyText(msgs), historyKeyboard())
	return true
}

func (r *run) wipeHistory() bool {
	if err := r.flow.history.Clear(r.ctx, r.userID); err != nil {
		return r.fail("clear history", err)
	}
	r.event(db.EventHistoryCleared, nil)
	r.say(historyCleared, mainKeyboard())
	return true
}

func (r *run) renderMenu(greeting bool) bool {
	p, err := r.loadProfile()
	if err != nil {
		return r.fail("load profile", err)
	}
	r.say(menuText(p, greeting), mainKeyboard())
	return true
}
