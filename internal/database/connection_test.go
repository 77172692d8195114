package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := &ExponentialBackoffRetryer{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond, multiplier: 2}

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	r := &ExponentialBackoffRetryer{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: time.Millisecond, multiplier: 2}
	boom := errors.New("boom")

	calls := 0
	err := r.Retry(context.Background(), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	r := NewExponentialBackoffRetryer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Retry(ctx, func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestCalculateDelay(t *testing.T) {
	r := &ExponentialBackoffRetryer{baseDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, r.calculateDelay(0))
	assert.Equal(t, 400*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, time.Second, r.calculateDelay(10), "capped at maxDelay")

	r.jitter = true
	for i := 0; i < 20; i++ {
		d := r.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrNotConnected, true},
		{fmt.Errorf("query: %w", ErrNotConnected), true},
		{errors.New("dial tcp: Connection Refused"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("Parse error: unexpected token"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isConnectionError(tt.err), "%v", tt.err)
	}
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "ws://localhost:8000/rpc", redactDBURL("ws://localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}

func TestWithConnectionRequiresConnect(t *testing.T) {
	c := NewConnection(nil)
	err := c.WithConnection(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsHealthy())
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()), "close is idempotent")
}

func TestTimeoutContext(t *testing.T) {
	ctx, cancel := timeoutContext(context.Background(), time.Minute, ContextKeyQueryTimeout)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)

	override := WithQueryTimeout(context.Background(), time.Second)
	ctx2, cancel2 := timeoutContext(override, time.Minute, ContextKeyQueryTimeout)
	defer cancel2()
	deadline, ok = ctx2.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)

	ctx3, cancel3 := timeoutContext(context.Background(), 0, ContextKeyExecuteTimeout)
	defer cancel3()
	_, ok = ctx3.Deadline()
	assert.False(t, ok)
}

func TestHasLimitClause(t *testing.T) {
	assert.True(t, hasLimitClause("SELECT * FROM user LIMIT 5"))
	assert.True(t, hasLimitClause("select * from user limit 1"))
	assert.False(t, hasLimitClause("SELECT * FROM unlimited"))
}

func TestConflictClassification(t *testing.T) {
	assert.True(t, isRetryableConflict(errors.New("Failed to commit transaction due to a read or write conflict. This transaction can be retried")))
	assert.False(t, isRetryableConflict(nil))
	assert.True(t, isUniqueViolation(errors.New("Database index `user_username` already contains 'alice'")))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}
