// Package handler provides HTTP handlers for the dispatch core API.
// Grounded on the teacher's internal/handler/rides.go: chi routing, a
// uniform {success,data,error} JSON envelope, and auth middleware setting
// a context value the handlers read back out.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	})
}

// userIDFromContext reads the caller's id, set by the auth middleware
// after validating the bearer token.
func userIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(ctxKeyUserID).(uuid.UUID); ok {
		return id
	}
	if idStr, ok := ctx.Value(ctxKeyUserID).(string); ok {
		if id, err := uuid.Parse(idStr); err == nil {
			return id
		}
	}
	return uuid.Nil
}

// WithUserID attaches an authenticated caller id to the context, the way
// the auth middleware does after validating a bearer token.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"
