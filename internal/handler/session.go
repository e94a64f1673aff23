package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/service"
)

// SessionHandler exchanges credentials for API keys and revokes them.
type SessionHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(authSvc *service.AuthService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{authSvc: authSvc, logger: defaultLogger(logger)}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	APIKey string `json:"APIKey"`
}

// Login verifies the credentials and returns the user's active API key,
// issuing a new READ key when none is active.
// POST /api/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	key, err := h.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		fail(w, r, h.logger, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{APIKey: key.Key})
}

// Logout revokes the key in the Authorization header. A missing or malformed
// header is a 401; a key that is unknown or already revoked is a 404.
// DELETE /api/login
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.authSvc.LogoutHeader(r.Context(), r.Header.Get("Authorization"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": service.MsgKeyRevoked})
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, "No active API key matches the one presented.")
	default:
		fail(w, r, h.logger, "logout", err)
	}
}
