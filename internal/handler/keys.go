package handler

import (
	"log/slog"
	"net/http"

	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/service"
)

// KeyHandler serves administrative key operations. Routes must be guarded
// by middleware.RequireAdmin.
type KeyHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(authSvc *service.AuthService, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{authSvc: authSvc, logger: defaultLogger(logger)}
}

type setLevelRequest struct {
	Level *model.PermissionLevel `json:"level"`
}

// SetLevel changes a key's permission level. Setting it to revoked revokes
// the key; a key that is already revoked cannot be changed.
// PUT /api/keys/{keyID}/level
func (h *KeyHandler) SetLevel(w http.ResponseWriter, r *http.Request) {
	keyID, ok := pathID(r, "keyID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	var req setLevelRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, "level is required")
		return
	}

	key, err := h.authSvc.SetKeyLevel(r.Context(), keyID, *req.Level)
	if err != nil {
		fail(w, r, h.logger, "set api key level", err)
		return
	}
	writeJSON(w, http.StatusOK, newKeyView(key))
}
