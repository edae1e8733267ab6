package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/control"
	"github.com/stupiduntilnot/mediabot/internal/conversation"
	"github.com/stupiduntilnot/mediabot/internal/db"
	"github.com/stupiduntilnot/mediabot/internal/history"
	"github.com/stupiduntilnot/mediabot/internal/logging"
)

const busyText = "Still working on your previous requests, please wait."

type botOptions struct {
	PollTimeout   int
	IdleSleep     time.Duration
	DropPending   bool
	QueueSize     int
	WorkerIdle    time.Duration
	RetentionDays int
	PruneInterval time.Duration
}

// bot polls the commander and fans updates out to one worker goroutine per
// user, so a slow generation for one user never delays another.
type bot struct {
	opts     botOptions
	store    *db.Store
	history  *history.Manager
	flow     *conversation.Flow
	cmd      cmdpkg.Commander
	circuit  *control.CircuitBreaker
	policy   control.Policy
	logger   *zap.Logger
	rootID   *int64
	offset   int64
	failures int

	mu      sync.Mutex
	workers map[int64]chan job
	wg      sync.WaitGroup
}

type job struct {
	update  cmdpkg.Update
	logger  *zap.Logger
	eventID int64
}

func newBot(opts botOptions, store *db.Store, hist *history.Manager, flow *conversation.Flow,
	commander cmdpkg.Commander, circuit *control.CircuitBreaker, policy control.Policy, logger *zap.Logger) *bot {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.WorkerIdle <= 0 {
		opts.WorkerIdle = 10 * time.Minute
	}
	return &bot{
		opts:    opts,
		store:   store,
		history: hist,
		flow:    flow,
		cmd:     commander,
		circuit: circuit,
		policy:  policy,
		logger:  logger,
		workers: map[int64]chan job{},
	}
}

// run polls until ctx is cancelled, then drains the user queues.
func (b *bot) run(ctx context.Context) error {
	if err := b.initOffset(ctx); err != nil {
		return err
	}
	if b.opts.PruneInterval > 0 {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.pruneLoop(ctx)
		}()
	}

	for ctx.Err() == nil {
		if !b.circuit.Allow(time.Now()) {
			b.sleep(ctx, b.circuit.Remaining(time.Now()))
			continue
		}
		n, err := b.pollOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		if wait := b.afterPoll(ctx, err); wait > 0 {
			b.sleep(ctx, wait)
		} else if n == 0 {
			b.sleep(ctx, b.opts.IdleSleep)
		}
	}
	b.stop()
	return nil
}

// initOffset resumes after the last recorded update, or skips the
// backlog on a fresh database when DropPending is set.
func (b *bot) initOffset(ctx context.Context) error {
	offset, err := b.store.DeriveOffset(ctx)
	if err != nil {
		return err
	}
	if offset == 0 && b.opts.DropPending {
		updates, err := b.cmd.GetUpdates(ctx, 0, 0)
		if err != nil {
			b.logger.Warn("bootstrap offset failed", zap.Error(err))
		} else if len(updates) > 0 {
			offset = updates[len(updates)-1].UpdateID + 1
			b.logger.Info("dropped pending updates", zap.Int("count", len(updates)))
		}
	}
	b.offset = offset
	return nil
}

// pollOnce fetches one batch of updates and dispatches it.
func (b *bot) pollOnce(ctx context.Context) (int, error) {
	updates, err := b.cmd.GetUpdates(ctx, b.offset, b.opts.PollTimeout)
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		b.dispatch(ctx, u)
	}
	return len(updates), nil
}

// afterPoll feeds the poll result to the circuit breaker and returns how
// long to back off.
func (b *bot) afterPoll(ctx context.Context, err error) time.Duration {
	if err == nil {
		b.failures = 0
		if b.circuit.RecordSuccess() {
			b.logger.Info("circuit closed")
			b.event(ctx, 0, db.EventCircuitClosed, map[string]any{"recovered": true})
		}
		return 0
	}

	b.failures++
	class := control.ClassifyError(err)
	b.logger.Warn("getUpdates failed", zap.Error(err), zap.String("error_class", class), zap.Int("failures", b.failures))
	if b.circuit.RecordFailure(class, time.Now()) {
		b.logger.Error("circuit opened", zap.String("error_class", class))
		b.event(ctx, 0, db.EventCircuitOpened, map[string]any{
			"error_class":      class,
			"threshold":        b.circuit.Threshold,
			"cooldown_seconds": int(b.circuit.Cooldown.Seconds()),
		})
	}
	return b.policy.PollBackoff(b.failures)
}

// dispatch records the update and queues it for the user's worker. A
// cancellation takes effect immediately so an in-flight generation is
// discarded rather than waited for.
func (b *bot) dispatch(ctx context.Context, u cmdpkg.Update) {
	userID := u.UserID()
	if userID == 0 {
		return
	}
	fresh, err := b.store.RecordUpdate(ctx, u.UpdateID, userID, u.Kind())
	if err != nil {
		b.logger.Error("record update failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
		return
	}
	if !fresh {
		b.logger.Debug("duplicate update", zap.Int64("update_id", u.UpdateID))
		return
	}

	traceID := uuid.NewString()
	log := b.logger.With(
		zap.String("trace_id", traceID),
		zap.Int64("update_id", u.UpdateID),
		zap.Int64("user_id", userID),
	)
	log.Info("update received", zap.String("kind", u.Kind()))
	eventID := b.event(ctx, userID, db.EventUpdateReceived, map[string]any{
		"update_id": u.UpdateID,
		"kind":      u.Kind(),
		"trace_id":  traceID,
	})

	if a, _ := conversation.Decode(ctx, u, nil); conversation.IsCancel(a) {
		b.flow.Interrupt(userID)
	}

	if !b.enqueue(ctx, userID, job{update: u, logger: log, eventID: eventID}) {
		log.Warn("user queue full, dropping update")
		if err := b.cmd.Send(ctx, u.ChatID(), cmdpkg.Reply{Text: busyText}); err != nil {
			log.Warn("send busy notice failed", zap.Error(err))
		}
	}
}

// enqueue hands j to the user's worker, starting one if needed. It
// reports false when the queue is full. Sends happen under b.mu so a
// worker that finds its queue empty under the same lock can retire.
func (b *bot) enqueue(ctx context.Context, userID int64, j job) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.workers[userID]
	if !ok {
		ch = make(chan job, b.opts.QueueSize)
		b.workers[userID] = ch
		b.wg.Add(1)
		go b.work(ctx, userID, ch)
	}
	select {
	case ch <- j:
		return true
	default:
		return false
	}
}

// work drains one user's queue and exits after WorkerIdle without jobs.
func (b *bot) work(ctx context.Context, userID int64, ch chan job) {
	defer b.wg.Done()
	idle := time.NewTimer(b.opts.WorkerIdle)
	defer idle.Stop()
	for {
		select {
		case j, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, userID, j)
			idle.Reset(b.opts.WorkerIdle)
		case <-idle.C:
			b.mu.Lock()
			if len(ch) > 0 {
				b.mu.Unlock()
				idle.Reset(b.opts.WorkerIdle)
				continue
			}
			if b.workers[userID] == ch {
				delete(b.workers, userID)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *bot) handle(ctx context.Context, userID int64, j job) {
	ctx = logging.WithLogger(context.WithoutCancel(ctx), j.logger)
	if j.eventID != 0 {
		ctx = db.WithParentEvent(ctx, j.eventID)
	}
	chatID := j.update.ChatID()

	action, err := conversation.Decode(ctx, j.update, b.cmd)
	if err != nil {
		j.logger.Error("decode update failed", zap.Error(err))
		_ = b.cmd.Send(ctx, chatID, cmdpkg.Reply{Text: "Could not read your message, please try again."})
		return
	}
	if action == nil {
		return
	}

	for _, reply := range b.flow.Handle(ctx, userID, action) {
		if err := b.cmd.Send(ctx, chatID, reply); err != nil {
			j.logger.Warn("send reply failed", zap.Error(err))
		}
	}
}

// stop closes every user queue and waits for the workers to finish.
func (b *bot) stop() {
	b.mu.Lock()
	for id, ch := range b.workers {
		close(ch)
		delete(b.workers, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *bot) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PruneInterval)
	defer ticker.Stop()
	for {
		b.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *bot) prune(ctx context.Context) {
	n, err := b.history.PruneOlderThan(ctx, b.opts.RetentionDays)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Error("history prune failed", zap.Error(err))
		}
		return
	}
	b.logger.Info("history pruned", zap.Int64("deleted", n), zap.Int("retention_days", b.opts.RetentionDays))
	b.event(ctx, 0, db.EventHistoryPruned, map[string]any{"deleted": n, "retention_days": b.opts.RetentionDays})
}

// event logs under the process root and returns the new id, or 0.
func (b *bot) event(ctx context.Context, userID int64, eventType string, payload map[string]any) int64 {
	id, err := b.store.LogEvent(ctx, b.rootID, userID, eventType, payload)
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("log event failed", zap.String("event", eventType), zap.Error(err))
	}
	return id
}

func (b *bot) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
