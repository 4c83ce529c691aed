package handlers

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/services/booking-service/internal/reminders"
	"golang.org/x/crypto/bcrypt"
)

const CronSecretHeader = "X-Cron-Secret"

type ReminderRunner interface {
	Run(ctx context.Context) (reminders.Result, error)
}

// CronSecret verifies the trigger secret against a plain value or a bcrypt
// hash. The hash wins when both are set.
type CronSecret struct {
	Plain string
	Hash  string
}

func (s CronSecret) Configured() bool {
	return s.Plain != "" || s.Hash != ""
}

func (s CronSecret) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	if s.Hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.Hash), []byte(presented)) == nil
	}
	if s.Plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.Plain), []byte(presented)) == 1
}

type ReminderHandler struct {
	runner ReminderRunner
	secret CronSecret
	budget time.Duration
	logger *slog.Logger
}

// NewReminderHandler bounds each run by budget. Runs stop early and report
// partial progress when it is spent.
func NewReminderHandler(runner ReminderRunner, secret CronSecret, budget time.Duration, logger *slog.Logger) *ReminderHandler {
	if budget <= 0 {
		budget = 50 * time.Second
	}
	return &ReminderHandler{runner: runner, secret: secret, budget: budget, logger: logger}
}

func (h *ReminderHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.secret.Configured() {
		httpx.WriteError(w, http.StatusServiceUnavailable, "reminder trigger is not configured")
		return
	}
	if !h.secret.Verify(r.Header.Get(CronSecretHeader)) {
		h.logger.Warn("reminder trigger rejected", "remote_addr", r.RemoteAddr)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid cron secret")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.budget)
	defer cancel()
	res, err := h.runner.Run(ctx)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
