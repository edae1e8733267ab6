package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/mediabot/internal/commander"
	"github.com/stupiduntilnot/mediabot/internal/config"
	"github.com/stupiduntilnot/mediabot/internal/control"
	"github.com/stupiduntilnot/mediabot/internal/conversation"
	"github.com/stupiduntilnot/mediabot/internal/db"
	"github.com/stupiduntilnot/mediabot/internal/dummy"
	"github.com/stupiduntilnot/mediabot/internal/history"
)

type testBot struct {
	*bot
	commander *dummy.Commander
	store     *db.Store
}

func newTestBot(t *testing.T, pollScript, sendScript, genScript string, opts botOptions) *testBot {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/bot.db")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { _ = database.Close() })

	store := db.NewStore(database)
	hist := history.NewManager(store, 200)
	commander, err := dummy.NewCommander(pollScript, sendScript)
	require.NoError(t, err)
	gen, err := dummy.NewGenerator(genScript)
	require.NoError(t, err)

	policy := control.Policy{CallTimeout: 5 * time.Second, MaxBackoff: 4 * time.Second}
	flow := conversation.NewFlow(store, hist, gen, conversation.Options{Policy: policy})
	b := newBot(opts, store, hist, flow, commander, control.NewCircuitBreaker(2, time.Minute), policy, zap.NewNop())
	return &testBot{bot: b, commander: commander, store: store}
}

func (tb *testBot) countEvents(t *testing.T, eventType string) int {
	t.Helper()
	var n int
	err := tb.store.DB().QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ?`, eventType).Scan(&n)
	require.NoError(t, err)
	return n
}

func (tb *testBot) texts() []string {
	var out []string
	for _, r := range tb.commander.Sent() {
		out = append(out, r.Text)
	}
	return out
}

func (tb *testBot) workerCount() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.workers)
}

func textUpdate(id int64, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: id,
		Message: &cmdpkg.Message{
			From: &cmdpkg.User{ID: 5},
			Chat: cmdpkg.Chat{ID: 5},
			Text: &text,
		},
	}
}

func TestBot_ImageScenarioEndToEnd(t *testing.T) {
	tb := newTestBot(t, "cb:select:image:turbo,cb:gen:image,msg:a red fox in snow,ok", "ok", "ok", botOptions{})
	ctx := context.Background()

	for range 4 {
		_, err := tb.pollOnce(ctx)
		require.NoError(t, err)
	}
	tb.stop()

	var photo string
	for _, r := range tb.commander.Sent() {
		if r.PhotoURL != "" {
			photo = r.PhotoURL
		}
	}
	assert.Contains(t, photo, "a+red+fox+in+snow")
	assert.Contains(t, photo, "model=turbo")

	p, err := tb.store.GetUserProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ImagesGenerated)
	assert.Equal(t, 3, tb.countEvents(t, db.EventUpdateReceived))
	assert.Equal(t, int64(5), tb.offset, "offset moves past the last update")

	var parentType string
	require.NoError(t, tb.store.DB().QueryRow(
		`SELECT p.event_type FROM events e JOIN events p ON p.id = e.parent_id WHERE e.event_type = ?`,
		db.EventGenerationSucceeded,
	).Scan(&parentType))
	assert.Equal(t, db.EventUpdateReceived, parentType)
}

func TestBot_DuplicateUpdatesAreDropped(t *testing.T) {
	tb := newTestBot(t, "ok", "ok", "ok", botOptions{})
	ctx := context.Background()

	tb.dispatch(ctx, textUpdate(10, "/help"))
	tb.dispatch(ctx, textUpdate(10, "/help"))
	tb.stop()

	assert.Len(t, tb.commander.Sent(), 1)
	assert.Equal(t, 1, tb.countEvents(t, db.EventUpdateReceived))
}

func TestBot_UpdatesWithoutUserAreIgnored(t *testing.T) {
	tb := newTestBot(t, "ok", "ok", "ok", botOptions{})

	tb.dispatch(context.Background(), cmdpkg.Update{UpdateID: 3})
	tb.stop()

	assert.Empty(t, tb.commander.Sent())
	assert.Zero(t, tb.countEvents(t, db.EventUpdateReceived))
}

func TestBot_CircuitOpensAndCloses(t *testing.T) {
	tb := newTestBot(t, "err:api,err:api,ok", "ok", "ok", botOptions{})
	ctx := context.Background()

	_, err := tb.pollOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, time.Second, tb.afterPoll(ctx, err))
	assert.Equal(t, control.CircuitClosed, tb.circuit.State())

	_, err = tb.pollOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 2*time.Second, tb.afterPoll(ctx, err))
	assert.Equal(t, control.CircuitOpen, tb.circuit.State())
	assert.Equal(t, 1, tb.countEvents(t, db.EventCircuitOpened))
	assert.False(t, tb.circuit.Allow(time.Now()))

	_, err = tb.pollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, tb.afterPoll(ctx, nil))
	assert.Equal(t, control.CircuitClosed, tb.circuit.State())
	assert.Equal(t, 1, tb.countEvents(t, db.EventCircuitClosed))
	assert.Zero(t, tb.failures)
}

func TestBot_InitOffset(t *testing.T) {
	t.Run("drops pending on fresh database", func(t *testing.T) {
		tb := newTestBot(t, "msg:old,ok", "ok", "ok", botOptions{DropPending: true})
		require.NoError(t, tb.initOffset(context.Background()))
		assert.Equal(t, int64(3), tb.offset)
	})

	t.Run("resumes from recorded updates", func(t *testing.T) {
		tb := newTestBot(t, "msg:new,ok", "ok", "ok", botOptions{DropPending: true})
		ctx := context.Background()
		_, err := tb.store.RecordUpdate(ctx, 41, 5, "message")
		require.NoError(t, err)

		require.NoError(t, tb.initOffset(ctx))
		assert.Equal(t, int64(42), tb.offset)

		_, err = tb.pollOnce(ctx)
		require.NoError(t, err)
		tb.stop()
		assert.Equal(t, int64(43), tb.offset)
		assert.Len(t, tb.commander.Sent(), 1, "the new update is not mistaken for a duplicate")
	})
}

func TestBot_FullQueueSendsBusyNotice(t *testing.T) {
	tb := newTestBot(t, "ok", "sleep:300", "ok", botOptions{QueueSize: 1})
	ctx := context.Background()

	tb.dispatch(ctx, textUpdate(1, "/help"))
	tb.dispatch(ctx, textUpdate(2, "/help"))
	tb.dispatch(ctx, textUpdate(3, "/help"))
	tb.stop()

	assert.Contains(t, tb.texts(), busyText)
}

func TestBot_IdleWorkersRetire(t *testing.T) {
	tb := newTestBot(t, "ok", "ok", "ok", botOptions{WorkerIdle: 20 * time.Millisecond})
	ctx := context.Background()

	tb.dispatch(ctx, textUpdate(1, "/help"))
	assert.Eventually(t, func() bool {
		return tb.workerCount() == 0 && len(tb.commander.Sent()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	tb.dispatch(ctx, textUpdate(2, "/help"))
	assert.Eventually(t, func() bool {
		return len(tb.commander.Sent()) == 2
	}, 5*time.Second, 10*time.Millisecond, "a new worker serves the returning user")
	tb.stop()
	assert.Zero(t, tb.workerCount())
}

func TestBot_CancelInterruptsAheadOfQueue(t *testing.T) {
	tb := newTestBot(t, "ok", "ok", "ok", botOptions{})
	ctx := context.Background()
	sessions := tb.flow.Sessions()
	before := sessions.Generation(5)

	tb.dispatch(ctx, textUpdate(1, "/cancel"))
	assert.Greater(t, sessions.Generation(5), before)
	tb.stop()
}

func TestBot_RunPollsPrunesAndStops(t *testing.T) {
	tb := newTestBot(t, "msg:/start,ok", "ok", "ok", botOptions{
		IdleSleep:     10 * time.Millisecond,
		RetentionDays: 7,
		PruneInterval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(tb.commander.Sent()) > 0 && tb.countEvents(t, db.EventHistoryPruned) > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestNewCommanderAndGenerator(t *testing.T) {
	cfg := config.DefaultBotConfig()
	cfg.Commander = "dummy"
	cfg.Generator = "dummy"

	c, err := newCommander(cfg)
	require.NoError(t, err)
	assert.IsType(t, &dummy.Commander{}, c)
	g, err := newGenerator(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &dummy.Generator{}, g)

	cfg.Commander = "irc"
	_, err = newCommander(cfg)
	assert.Error(t, err)
	cfg.Generator = "other"
	_, err = newGenerator(cfg, nil, zap.NewNop())
	assert.Error(t, err)
}
