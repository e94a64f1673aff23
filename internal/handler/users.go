package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/server/middleware"
	"github.com/dugong-app/dugong/internal/service"
)

// UserHandler serves account registration, lookup and key history.
type UserHandler struct {
	store   *config.Store
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store *config.Store, authSvc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: store, authSvc: authSvc, logger: defaultLogger(logger)}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// keyView is an APIKey with the token reduced to its prefix.
type keyView struct {
	ID          int64                 `json:"id"`
	Prefix      string                `json:"prefix"`
	Level       model.PermissionLevel `json:"level"`
	IsRevoked   bool                  `json:"is_revoked"`
	UserID      int64                 `json:"user_id"`
	DateEmitted time.Time             `json:"date_emitted"`
}

func newKeyView(k *model.APIKey) keyView {
	return keyView{
		ID:          k.ID,
		Prefix:      k.Prefix(),
		Level:       k.Level,
		IsRevoked:   k.IsRevoked,
		UserID:      k.UserID,
		DateEmitted: k.DateEmitted,
	}
}

// Register creates an account.
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.authSvc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		fail(w, r, h.logger, "register user", err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser looks up a user by user_id or email. Callers may look up their
// own account; administrators may look up any.
// GET /api/users?user_id=...&email=...
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, service.MsgUnauthenticated)
		return
	}

	// A user_id that is not an integer is ignored.
	userID, _ := strconv.ParseInt(queryString(r, "user_id"), 10, 64)
	email := queryString(r, "email")
	if userID <= 0 && email == "" {
		writeError(w, http.StatusBadRequest, "A user_id or email GET parameter must be specified.")
		return
	}

	user, err := h.store.FindUser(r.Context(), userID, email)
	if !h.authorizeTarget(w, r, principal, user, err) {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListKeys returns every key issued to a user, newest first, with tokens
// masked.
// GET /api/users/{userID}/keys
func (h *UserHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, service.MsgUnauthenticated)
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if !h.authorizeTarget(w, r, principal, user, err) {
		return
	}

	keys, err := h.authSvc.Keys().History(r.Context(), user.ID)
	if err != nil {
		fail(w, r, h.logger, "list api keys", err)
		return
	}
	views := make([]keyView, len(keys))
	for i := range keys {
		views[i] = newKeyView(&keys[i])
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: views,
		Meta:     &model.ResponseMeta{Count: len(views)},
	})
}

// authorizeTarget applies the self-or-admin rule to a looked-up user and
// writes the failure response when it does not pass. Only administrators
// learn that a user does not exist; everyone else gets 403.
func (h *UserHandler) authorizeTarget(w http.ResponseWriter, r *http.Request, p *middleware.Principal, user *model.User, lookupErr error) bool {
	isAdmin := p.Level() >= model.LevelAdmin
	if lookupErr != nil {
		if errors.Is(lookupErr, config.ErrNotFound) && !isAdmin {
			fail(w, r, h.logger, "get user", service.ErrForbidden)
			return false
		}
		fail(w, r, h.logger, "get user", lookupErr)
		return false
	}
	if err := service.CheckSelfOrAdmin(p.Key, user); err != nil {
		fail(w, r, h.logger, "get user", err)
		return false
	}
	return true
}
