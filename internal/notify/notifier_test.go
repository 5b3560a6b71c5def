package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name  string
	err   error
	calls int
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.calls++
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyRespectsEventFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventRollbackFailed}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventDailySummary, "t", "m"))
	assert.Zero(t, s.calls)

	require.NoError(t, n.Notify(context.Background(), EventRollbackFailed, "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), EventCycleError, "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventDailySummary}, slog.Default())

	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
	assert.Equal(t, 1, s.calls)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.Default())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 1, good.calls)
}
