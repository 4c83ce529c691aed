package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopcal/shopcal/services/scheduler-service/internal/trigger"
)

type Trigger interface {
	Trigger(ctx context.Context) (trigger.Summary, error)
}

// ErrNotReady means the booking service failed its health probe, so the
// run was skipped.
var ErrNotReady = errors.New("booking service not ready")

// Worker fires the reminder run on a fixed interval. It replaces an external
// cron; the booking service already guards against overlapping runs.
type Worker struct {
	trigger  Trigger
	ready    func(context.Context) error
	logger   *slog.Logger
	interval time.Duration
	budget   time.Duration
	maxTries uint
	backoff  func() backoff.BackOff
}

type WorkerConfig struct {
	Interval time.Duration
	// Budget bounds one run including retries.
	Budget   time.Duration
	MaxTries uint
}

// NewWorker accepts a nil ready probe.
func NewWorker(t Trigger, ready func(context.Context) error, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 55 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	return &Worker{
		trigger:  t,
		ready:    ready,
		logger:   logger,
		interval: cfg.Interval,
		budget:   cfg.Budget,
		maxTries: cfg.MaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("reminder run failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce triggers one reminder run, retrying transport failures and 5xx
// answers within the budget.
func (w *Worker) RunOnce(ctx context.Context) (trigger.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, w.budget)
	defer cancel()

	if w.ready != nil {
		if err := w.ready(ctx); err != nil {
			w.logger.Warn("skipping reminder run", "err", err)
			return trigger.Summary{}, errors.Join(ErrNotReady, err)
		}
	}

	summary, err := backoff.Retry(ctx, func() (trigger.Summary, error) {
		s, err := w.trigger.Trigger(ctx)
		var se *trigger.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return s, backoff.Permanent(err)
		}
		return s, err
	},
		backoff.WithBackOff(w.backoff()),
		backoff.WithMaxTries(w.maxTries),
	)
	if err != nil {
		return trigger.Summary{}, err
	}

	if summary.Locked {
		w.logger.Info("reminder run skipped by booking service, another run is active")
		return summary, nil
	}
	w.logger.Info("reminder run finished",
		"processed", summary.Processed,
		"sent_24_hour", summary.Sent24Hour,
		"sent_2_hour", summary.Sent2Hour,
		"failed", summary.Failed,
		"errors", len(summary.Errors),
	)
	return summary, nil
}
