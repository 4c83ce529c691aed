package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopcal/shopcal/services/scheduler-service/internal/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTrigger struct {
	errs  []error
	calls int
}

func (s *scriptedTrigger) Trigger(context.Context) (trigger.Summary, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return trigger.Summary{}, err
		}
	}
	return trigger.Summary{Processed: 4, Sent24Hour: 4}, nil
}

func newTestWorker(t Trigger, ready func(context.Context) error) *Worker {
	w := NewWorker(t, ready, slog.New(slog.NewTextHandler(io.Discard, nil)), WorkerConfig{MaxTries: 3})
	w.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return w
}

func TestRunOnce_RetriesTransientFailures(t *testing.T) {
	tr := &scriptedTrigger{errs: []error{errors.New("connection refused"), &trigger.StatusError{Code: http.StatusBadGateway}}}
	s, err := newTestWorker(tr, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, tr.calls)
	assert.Equal(t, 4, s.Sent24Hour)
}

func TestRunOnce_StopsOnAuthFailure(t *testing.T) {
	tr := &scriptedTrigger{errs: []error{&trigger.StatusError{Code: http.StatusUnauthorized, Body: "invalid cron secret"}}}
	_, err := newTestWorker(tr, nil).RunOnce(context.Background())
	var se *trigger.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, 1, tr.calls)
}

func TestRunOnce_SkipsWhenNotReady(t *testing.T) {
	tr := &scriptedTrigger{}
	_, err := newTestWorker(tr, func(context.Context) error { return errors.New("NOT_SERVING") }).RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, tr.calls)
}
