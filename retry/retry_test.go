package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverableError(t *testing.T) {
	err := NewRecoverableError(errors.New("test error"))
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsRecoverable(errors.New("test error")))
	assert.False(t, IsRecoverable(nil))
	assert.False(t, IsRecoverable(NewNonRecoverableError(errors.New("connection refused"))))
	assert.True(t, IsRecoverable(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRecoverable(context.DeadlineExceeded))
	assert.False(t, IsRecoverable(context.Canceled))
}

func TestStatusError(t *testing.T) {
	assert.True(t, IsRecoverable(&StatusError{StatusCode: 500}))
	assert.True(t, IsRecoverable(&StatusError{StatusCode: 503}))
	assert.True(t, IsRecoverable(&StatusError{StatusCode: 429}))
	assert.False(t, IsRecoverable(&StatusError{StatusCode: 404}))
	assert.False(t, IsRecoverable(&StatusError{StatusCode: 400}))

	err := &StatusError{StatusCode: 502, Status: "502 Bad Gateway", Body: "upstream down"}
	assert.Equal(t, "unexpected status 502 Bad Gateway: upstream down", err.Error())
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := Do(ctx, func() error {
		count++
		return NewRecoverableError(errors.New("test error"))
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond*20))
	assert.Error(t, err)
	assert.Equal(t, "test error", err.Error())
	assert.Equal(t, 4, count)
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return errors.New("bad request")
	}, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	require.Error(t, err)
	require.Equal(t, 1, count)
}

func TestRetryEventuallySucceeds(t *testing.T) {
	count := 0
	var attempts []int
	err := Do(context.Background(), func() error {
		count++
		if count < 3 {
			return &StatusError{StatusCode: 503}
		}
		return nil
	},
		WithMaxRetries(5),
		WithBaseWait(time.Millisecond),
		OnRetry(func(attempt int, err error, wait time.Duration) {
			attempts = append(attempts, attempt)
		}),
	)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t, []int{1, 2}, attempts)
}

func TestRetryZeroRetries(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return &StatusError{StatusCode: 500}
	}, WithMaxRetries(0))
	require.Error(t, err)
	require.Equal(t, 1, count)
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	err := Do(ctx, func() error {
		count++
		cancel()
		return NewRecoverableError(errors.New("flaky"))
	}, WithMaxRetries(10), WithBaseWait(time.Hour))
	require.EqualError(t, err, "flaky")
	require.Equal(t, 1, count)
}

func TestDelayCapped(t *testing.T) {
	o := options{baseWait: time.Second, maxWait: 5 * time.Second, backoffRate: 2}
	require.Equal(t, time.Second, o.delay(0))
	require.Equal(t, 4*time.Second, o.delay(2))
	require.Equal(t, 5*time.Second, o.delay(10))
}
