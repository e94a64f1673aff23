package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/ratelimit"
	"github.com/dugong-app/dugong/internal/service"
	"github.com/dugong-app/dugong/internal/validation"
)

// ---------------------------------------------------------------------------
// classifyError tests
// ---------------------------------------------------------------------------

func TestClassifyError(t *testing.T) {
	limited := ratelimit.Decision{Allowed: false, Message: "Rate limited. Wait."}.Err()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"invalid credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, service.MsgInvalidCredentials},
		{"unauthenticated", service.ErrUnauthenticated, http.StatusUnauthorized, service.MsgUnauthenticated},
		{"insufficient", service.ErrInsufficientPermission, http.StatusForbidden, ""},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, ""},
		{"rate limited", limited, http.StatusTooManyRequests, "Rate limited. Wait."},
		{"not found", fmt.Errorf("get user: %w", config.ErrNotFound), http.StatusNotFound, ""},
		{"conflict", config.ErrConflict, http.StatusConflict, ""},
		{"revoked", config.ErrRevoked, http.StatusConflict, ""},
		{"bad email", validation.ErrInvalidEmail, http.StatusBadRequest, ""},
		{"weak password", service.ErrWeakPassword, http.StatusBadRequest, ""},
		{"precondition", &service.PreconditionError{Op: "revoke", Reason: "no id"}, http.StatusInternalServerError, "Internal server error"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := classifyError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantMsg != "" && msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
			if strings.Contains(msg, "disk on fire") {
				t.Error("internal error text leaked into message")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// pathID tests
// ---------------------------------------------------------------------------

func TestPathID(t *testing.T) {
	tests := []struct {
		value  string
		want   int64
		wantOK bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("keyID", tt.value)
		r := httptest.NewRequest("GET", "/", nil)
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

		got, ok := pathID(r, "keyID")
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("pathID(%q) = (%d, %v), want (%d, %v)", tt.value, got, ok, tt.want, tt.wantOK)
		}
	}
}

// ---------------------------------------------------------------------------
// queryString tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	r := httptest.NewRequest("GET", "/test?email=a%40b.co&empty=", nil)
	if got := queryString(r, "email"); got != "a@b.co" {
		t.Errorf("queryString(email) = %q", got)
	}
	if got := queryString(r, "missing"); got != "" {
		t.Errorf("queryString(missing) = %q", got)
	}
}

// ---------------------------------------------------------------------------
// writeError tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	t.Run("writes JSON error response", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusBadRequest, "Invalid input")

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"code":400`) {
			t.Errorf("expected code 400 in body: %s", body)
		}
		if !strings.Contains(body, `"message":"Invalid input"`) {
			t.Errorf("expected message in body: %s", body)
		}
	})

	t.Run("includes context", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusConflict, "dup", map[string]any{"field": "email"})
		if !strings.Contains(w.Body.String(), `"context":{"field":"email"}`) {
			t.Errorf("expected context in body: %s", w.Body.String())
		}
	})
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	t.Run("writes JSON with correct content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"hello":"world"`) {
			t.Errorf("expected JSON body, got: %s", body)
		}
	})
}
