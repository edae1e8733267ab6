package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_WithCallTimeout(t *testing.T) {
	p := Policy{CallTimeout: 50 * time.Millisecond}
	ctx, cancel := p.WithCallTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 40*time.Millisecond)

	ctx2, cancel2 := Policy{}.WithCallTimeout(context.Background())
	defer cancel2()
	deadline2, _ := ctx2.Deadline()
	assert.Greater(t, time.Until(deadline2), 100*time.Second, "zero falls back to default")
}

func TestPolicy_PollBackoff(t *testing.T) {
	p := Policy{MaxBackoff: 10 * time.Second}
	assert.Equal(t, time.Duration(0), p.PollBackoff(0))
	assert.Equal(t, 1*time.Second, p.PollBackoff(1))
	assert.Equal(t, 2*time.Second, p.PollBackoff(2))
	assert.Equal(t, 8*time.Second, p.PollBackoff(4))
	assert.Equal(t, 10*time.Second, p.PollBackoff(5))
	assert.Equal(t, 10*time.Second, p.PollBackoff(100))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "", ClassifyError(nil))
	assert.Equal(t, ClassCanceled, ClassifyError(fmt.Errorf("wrap: %w", context.Canceled)))
	assert.Equal(t, ClassTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, ClassTimeout, ClassifyError(fmt.Errorf("get: %w", timeoutErr{})))
	assert.Equal(t, ClassTransport, ClassifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, ClassTransport, ClassifyError(errors.New("telegram getUpdates request failed: EOF")))
	assert.Equal(t, ClassAPI, ClassifyError(errors.New("telegram getUpdates not ok: Unauthorized")))
}
