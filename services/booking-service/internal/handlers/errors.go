package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopcal/shopcal/libs/httpx"
	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

type conflictDetails struct {
	AppointmentID string    `json:"appointment_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

type fieldDetails struct {
	Field string `json:"field"`
}

// writeServiceError is the single place where the error taxonomy becomes an
// HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
		ce *model.ConflictError
		pe *model.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		resp := httpx.ErrorResponse{Error: ve.Error()}
		if ve.Field != "" {
			resp.Details = fieldDetails{Field: ve.Field}
		}
		httpx.WriteJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &nf):
		httpx.WriteError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &ce):
		httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorResponse{
			Error: "requested time conflicts with an existing appointment",
			Details: conflictDetails{
				AppointmentID: ce.AppointmentID,
				StartTime:     ce.Start.UTC(),
				EndTime:       ce.End.UTC(),
			},
		})
	case errors.Is(err, model.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(w, http.StatusServiceUnavailable, "request timed out")
	case errors.As(err, &pe):
		logger.Error("persistence failure", "op", pe.Op, "err", pe.Err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	default:
		logger.Error("unhandled error", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func badRequest(w http.ResponseWriter, field, msg string) {
	httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{
		Error:   field + ": " + msg,
		Details: fieldDetails{Field: field},
	})
}
