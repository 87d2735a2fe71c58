package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockNetError struct {
	msg     string
	timeout bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return e.timeout }

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{name: "nil", err: nil, want: Fatal},
		{name: "network timeout", err: &mockNetError{msg: "timeout", timeout: true}, want: Retryable},
		{name: "connection refused", err: syscall.ECONNREFUSED, want: Retryable},
		{name: "rate limited", err: errors.New("HTTP 429 too many requests"), want: Retryable},
		{name: "bad gateway", err: errors.New("502 bad gateway"), want: Retryable},
		{name: "context cancelled is fatal", err: context.Canceled, want: Fatal},
		{name: "context deadline is fatal", err: context.DeadlineExceeded, want: Fatal},
		{name: "unrecognised error is fatal", err: errors.New("malformed payload"), want: Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DefaultClassifier(tt.err))
		})
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	p := New(Config{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)
	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	p := New(Config{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)
	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExecuteFatalFailsImmediately(t *testing.T) {
	p := New(Config{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)
	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("malformed payload")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestExecuteEntersExtendedPhaseAfterExhaustingInnerLoop(t *testing.T) {
	p := New(Config{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		ExtendedRetryWait: 5 * time.Millisecond,
	}, nil)
	calls := 0
	err := p.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 5 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, calls)
}

func TestExecuteHonoursCancellation(t *testing.T) {
	p := New(Config{MaxRetries: 5, InitialDelay: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cancel()
	err := p.Execute(ctx, "op", func(ctx context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
