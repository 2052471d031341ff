package handler

import (
	"errors"
	"net/http"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// writeDomainError maps a domain sentinel error to the HTTP status and error
// code the API contract promises. Anything unrecognized falls back to a
// 500/INTERNAL_ERROR response rather than leaking internal error text.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, domain.ErrCodeOrderNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderAlreadyEnded):
		writeError(w, http.StatusConflict, domain.ErrCodeOrderAlreadyEnded, err.Error())
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, domain.ErrCodeInvalidStatusTransition, err.Error())
	case errors.Is(err, domain.ErrOrderNotDispatching):
		writeError(w, http.StatusConflict, domain.ErrCodeInvalidStatusTransition, err.Error())
	case errors.Is(err, domain.ErrOrderAlreadyTaken):
		writeError(w, http.StatusConflict, domain.ErrCodeOrderAlreadyTaken, err.Error())
	case errors.Is(err, domain.ErrDriverNotFound):
		writeError(w, http.StatusNotFound, domain.ErrCodeDriverNotFound, err.Error())
	case errors.Is(err, domain.ErrDriverNotAvailable):
		writeError(w, http.StatusConflict, domain.ErrCodeDriverNotAvailable, err.Error())
	case errors.Is(err, domain.ErrNoDriversAvailable):
		writeError(w, http.StatusConflict, domain.ErrCodeNoDriversAvailable, err.Error())
	case errors.Is(err, domain.ErrInvalidLocation):
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidLocation, err.Error())
	case errors.Is(err, domain.ErrZoneNotFound):
		writeError(w, http.StatusNotFound, domain.ErrCodeZoneNotFound, err.Error())
	case errors.Is(err, domain.ErrQuotaExhausted):
		writeError(w, http.StatusTooManyRequests, domain.ErrCodeQuotaExhausted, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, domain.ErrCodeQueueFull, err.Error())
	case errors.Is(err, domain.ErrMaxBatchesExceeded):
		writeError(w, http.StatusConflict, domain.ErrCodeNoDriversAvailable, err.Error())
	case errors.Is(err, domain.ErrBatchMismatch):
		writeError(w, http.StatusConflict, domain.ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, domain.ErrCodeInternal, "an internal error occurred")
	}
}
