package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

type Kind string

const (
	Kind24Hour Kind = "24h"
	Kind2Hour  Kind = "2h"
)

// Window selects appointments starting between now+From and now+To.
type Window struct {
	Kind Kind
	From time.Duration
	To   time.Duration
}

var DefaultWindows = []Window{
	{Kind: Kind24Hour, From: 23 * time.Hour, To: 24 * time.Hour},
	{Kind: Kind2Hour, From: 90 * time.Minute, To: 2 * time.Hour},
}

// Candidate is a scheduled appointment due for a reminder together with what
// the message needs.
type Candidate struct {
	Appointment model.Appointment
	Contact     model.Contact
	ServiceName string
	Timezone    string
}

type Store interface {
	// Due lists scheduled, live appointments in [from, to] whose marker for
	// kind is unset and whose claim is absent or older than claimExpiry.
	Due(ctx context.Context, kind Kind, from, to, claimExpiry time.Time, limit int) ([]Candidate, error)
	// Claim marks the appointment in flight for kind. It reports false when
	// another run holds a live claim or the reminder was already sent.
	Claim(ctx context.Context, kind Kind, appointmentID string, now, claimExpiry time.Time) (bool, error)
	MarkSent(ctx context.Context, kind Kind, appointmentID string, at time.Time) error
	Release(ctx context.Context, kind Kind, appointmentID string) error
}

// Dispatcher sends one reminder. It returns nil when at least one channel
// accepted the message.
type Dispatcher interface {
	SendReminder(ctx context.Context, kind Kind, c Candidate) error
}

// Locker guards against overlapping runs. Correctness does not depend on it;
// claims already prevent duplicate sends.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Config struct {
	Windows   []Window
	Throttle  time.Duration
	ClaimTTL  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

type ItemError struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	Kind          Kind   `json:"kind,omitempty"`
	Error         string `json:"error"`
}

type Result struct {
	Processed  int         `json:"processed"`
	Sent24Hour int         `json:"sent_24_hour"`
	Sent2Hour  int         `json:"sent_2_hour"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Locked     bool        `json:"locked,omitempty"`
	Errors     []ItemError `json:"errors"`
}

var ErrBudgetExhausted = errors.New("reminder run stopped: execution budget exhausted")

const lockKey = "shopcal:reminders:run"

type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	locker     Locker
	logger     *slog.Logger
	cfg        Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler accepts a nil locker.
func NewScheduler(store Store, dispatcher Dispatcher, locker Locker, logger *slog.Logger, cfg Config) *Scheduler {
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		locker:     locker,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run sends every reminder that is due right now. Per-appointment failures
// are collected in the result and never stop the batch. When ctx expires
// the run stops and reports what it got done.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	res := Result{Errors: []ItemError{}}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.logger.Warn("reminder run lock unavailable, continuing without it", "err", err)
		case !ok:
			s.logger.Info("reminder run skipped, another run holds the lock")
			res.Locked = true
			return res, nil
		default:
			defer release()
		}
	}

	sent := 0
	for _, w := range s.cfg.Windows {
		now := s.now().UTC()
		expiry := now.Add(-s.cfg.ClaimTTL)
		due, err := s.store.Due(ctx, w.Kind, now.Add(w.From), now.Add(w.To), expiry, s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return s.stopped(res), nil
			}
			return res, model.Persistence(fmt.Sprintf("list %s reminders", w.Kind), err)
		}

		for _, c := range due {
			if ctx.Err() != nil {
				return s.stopped(res), nil
			}
			if sent > 0 && s.cfg.Throttle > 0 {
				if err := s.sleep(ctx, s.cfg.Throttle); err != nil {
					return s.stopped(res), nil
				}
			}
			res.Processed++
			if s.process(ctx, w.Kind, c, &res) {
				sent++
			}
		}
	}

	s.logger.Info("reminder run finished",
		"processed", res.Processed,
		"sent_24_hour", res.Sent24Hour,
		"sent_2_hour", res.Sent2Hour,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res, nil
}

// process claims, sends and marks one reminder. It reports whether a
// dispatch was attempted.
func (s *Scheduler) process(ctx context.Context, kind Kind, c Candidate, res *Result) bool {
	id := c.Appointment.ID
	now := s.now().UTC()

	claimed, err := s.store.Claim(ctx, kind, id, now, now.Add(-s.cfg.ClaimTTL))
	if err != nil {
		res.fail(id, kind, fmt.Errorf("claim: %w", err))
		return false
	}
	if !claimed {
		res.Skipped++
		return false
	}

	if err := s.dispatcher.SendReminder(ctx, kind, c); err != nil {
		// The release must land even if the budget just ran out.
		if rerr := s.store.Release(context.WithoutCancel(ctx), kind, id); rerr != nil {
			s.logger.Error("release reminder claim failed", "appointment_id", id, "kind", string(kind), "err", rerr)
		}
		s.logger.Warn("reminder dispatch failed", "appointment_id", id, "kind", string(kind), "err", err)
		res.fail(id, kind, err)
		return true
	}

	if err := s.store.MarkSent(context.WithoutCancel(ctx), kind, id, s.now().UTC()); err != nil {
		// The claim stays until it expires, so nothing is resent before then.
		s.logger.Error("mark reminder sent failed", "appointment_id", id, "kind", string(kind), "err", err)
		res.Errors = append(res.Errors, ItemError{AppointmentID: id, Kind: kind, Error: "sent but marker not saved: " + err.Error()})
	}
	switch kind {
	case Kind24Hour:
		res.Sent24Hour++
	case Kind2Hour:
		res.Sent2Hour++
	}
	return true
}

func (s *Scheduler) stopped(res Result) Result {
	s.logger.Warn("reminder run cut short", "processed", res.Processed, "err", ErrBudgetExhausted)
	res.Errors = append(res.Errors, ItemError{Error: ErrBudgetExhausted.Error()})
	return res
}

func (r *Result) fail(id string, kind Kind, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{AppointmentID: id, Kind: kind, Error: err.Error()})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
