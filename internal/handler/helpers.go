package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/ratelimit"
	"github.com/dugong-app/dugong/internal/server/middleware"
	"github.com/dugong-app/dugong/internal/service"
	"github.com/dugong-app/dugong/internal/validation"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]any) {
	var ctxMap map[string]any
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// classifyError maps domain errors to an HTTP status and a client-facing
// message. Unrecognized errors, *service.PreconditionError included, map to
// 500 with a generic message.
func classifyError(err error) (int, string) {
	var limitErr *ratelimit.LimitError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, service.MsgInvalidCredentials
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, service.MsgUnauthenticated
	case errors.Is(err, service.ErrInsufficientPermission):
		return http.StatusForbidden, "Your API key does not have the required permission level."
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "You may only access your own account."
	case errors.As(err, &limitErr):
		return http.StatusTooManyRequests, limitErr.Error()
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limited."
	case errors.Is(err, config.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, config.ErrConflict):
		return http.StatusConflict, "A user with this e-mail address already exists."
	case errors.Is(err, config.ErrRevoked):
		return http.StatusConflict, "The API key has been revoked."
	case errors.Is(err, validation.ErrInvalidEmail):
		return http.StatusBadRequest, "Enter a valid e-mail address."
	case errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest, "Passwords must be at least " + strconv.Itoa(service.MinPasswordLength) + " characters long."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// fail writes the classified error. Server-side failures are logged with the
// request ID; client errors are not.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op, "error", err, "request_id", middleware.GetRequestID(r.Context()))
	}
	writeError(w, status, msg)
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
