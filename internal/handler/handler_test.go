package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/security"
	"github.com/dugong-app/dugong/internal/server/middleware"
	"github.com/dugong-app/dugong/internal/service"
)

type testEnv struct {
	store  *config.Store
	auth   *service.AuthService
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hasher, err := security.NewHasher("handler-test-secret", security.SchemeSHA3)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	auth := service.NewAuthService(store, service.NewKeyStore(store, nil, nil), hasher, nil, nil)

	sessions := NewSessionHandler(auth, nil)
	users := NewUserHandler(store, auth, nil)
	keys := NewKeyHandler(auth, nil)

	r := chi.NewRouter()
	r.Use(middleware.Identify(auth, nil))
	r.Post("/api/login", sessions.Login)
	r.Delete("/api/login", sessions.Logout)
	r.Post("/api/users", users.Register)
	r.Get("/api/users", users.GetUser)
	r.Get("/api/users/{userID}/keys", users.ListKeys)
	r.With(middleware.RequireAdmin()).Put("/api/keys/{keyID}/level", keys.SetLevel)
	r.Get("/openapi.json", NewOpenAPIHandler("", "test").ServeSpec)

	return &testEnv{store: store, auth: auth, router: r}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// register creates a user and logs in, returning the user and its key.
func (e *testEnv) register(t *testing.T, email string) (*model.User, *model.APIKey) {
	t.Helper()
	ctx := context.Background()
	user, err := e.auth.Register(ctx, email, "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	key, err := e.auth.Login(ctx, email, "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return user, key
}

func (e *testEnv) admin(t *testing.T, email string) (*model.User, *model.APIKey) {
	t.Helper()
	user, key := e.register(t, email)
	promoted, err := e.auth.SetKeyLevel(context.Background(), key.ID, model.LevelAdmin)
	if err != nil {
		t.Fatalf("SetKeyLevel: %v", err)
	}
	return user, promoted
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	_, key := env.register(t, "login@example.com")

	rr := env.do(t, "POST", "/api/login", "", `{"username":"login@example.com","password":"password123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["APIKey"] != key.Key {
		t.Errorf("APIKey = %q, want the existing active key", resp["APIKey"])
	}
}

func TestLoginFailuresShareMessage(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "known@example.com")

	bodies := []string{
		`{"username":"known@example.com","password":"wrong-password"}`,
		`{"username":"nobody@example.com","password":"password123"}`,
	}
	for _, body := range bodies {
		rr := env.do(t, "POST", "/api/login", "", body)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", body, rr.Code)
			continue
		}
		if got := decodeError(t, rr).Message; got != service.MsgInvalidCredentials {
			t.Errorf("%s: message = %q", body, got)
		}
	}
}

func TestLoginBadRequest(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`not json`, `{"username":"a@b.co"}`} {
		if rr := env.do(t, "POST", "/api/login", "", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	_, key := env.register(t, "bye@example.com")

	rr := env.do(t, "DELETE", "/api/login", key.Key, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["message"] != service.MsgKeyRevoked {
		t.Errorf("message = %q", resp["message"])
	}

	// Second logout with the same key finds nothing active.
	if rr := env.do(t, "DELETE", "/api/login", key.Key, ""); rr.Code != http.StatusNotFound {
		t.Errorf("repeat logout status = %d, want 404", rr.Code)
	}

	// The next login issues a fresh key.
	rr = env.do(t, "POST", "/api/login", "", `{"username":"bye@example.com","password":"password123"}`)
	var login map[string]string
	json.NewDecoder(rr.Body).Decode(&login)
	if login["APIKey"] == "" || login["APIKey"] == key.Key {
		t.Errorf("expected a new key after logout, got %q", login["APIKey"])
	}
}

func TestLogoutHeaderErrors(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("DELETE", "/api/login", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rr.Code)
	}

	if rr := env.do(t, "DELETE", "/api/login", security.KeyPrefix+"unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown key: status = %d, want 404", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/users", "", `{"email":"new@example.com","password":"password123"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if strings.Contains(body, "password") || strings.Contains(body, "salt") {
		t.Errorf("credential fields leaked: %s", body)
	}
	var user model.User
	json.Unmarshal([]byte(body), &user)
	if user.ID == 0 || user.Email != "new@example.com" {
		t.Errorf("user = %+v", user)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"email":"new@example.com","password":"password123"}`, http.StatusConflict},
		{`{"email":"not-an-email","password":"password123"}`, http.StatusBadRequest},
		{`{"email":"short@example.com","password":"123"}`, http.StatusBadRequest},
		{`{"email":"","password":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rr := env.do(t, "POST", "/api/users", "", tt.body); rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, rr.Code, tt.want)
		}
	}
}

func TestGetUser(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceKey := env.register(t, "alice@example.com")
	bob, _ := env.register(t, "bob@example.com")
	_, adminKey := env.admin(t, "root@example.com")

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"guest", "/api/users?email=alice@example.com", "", http.StatusUnauthorized},
		{"no params", "/api/users", aliceKey.Key, http.StatusBadRequest},
		{"bad id only", "/api/users?user_id=abc", aliceKey.Key, http.StatusBadRequest},
		{"self by email", "/api/users?email=alice@example.com", aliceKey.Key, http.StatusOK},
		{"self by id", "/api/users?user_id=" + strconv.FormatInt(alice.ID, 10), aliceKey.Key, http.StatusOK},
		{"other user", "/api/users?user_id=" + strconv.FormatInt(bob.ID, 10), aliceKey.Key, http.StatusForbidden},
		{"missing as user", "/api/users?email=ghost@example.com", aliceKey.Key, http.StatusForbidden},
		{"admin other", "/api/users?email=bob@example.com", adminKey.Key, http.StatusOK},
		{"missing as admin", "/api/users?email=ghost@example.com", adminKey.Key, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", tt.path, tt.token, "")
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := env.do(t, "GET", "/api/users?email=bob@example.com", adminKey.Key, "")
	var got model.User
	json.NewDecoder(rr.Body).Decode(&got)
	if got.ID != bob.ID || got.DateJoined.IsZero() {
		t.Errorf("user = %+v", got)
	}
}

func TestListKeys(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceKey := env.register(t, "keys@example.com")
	bob, _ := env.register(t, "other@example.com")

	// Build some history: revoke and log in again.
	if err := env.auth.Logout(context.Background(), aliceKey); err != nil {
		t.Fatal(err)
	}
	second, err := env.auth.Login(context.Background(), "keys@example.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	path := "/api/users/" + strconv.FormatInt(alice.ID, 10) + "/keys"
	rr := env.do(t, "GET", path, second.Key, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if strings.Contains(body, second.Key) || strings.Contains(body, aliceKey.Key) {
		t.Error("full token leaked in key history")
	}

	var resp struct {
		Resource []keyView         `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}
	json.Unmarshal([]byte(body), &resp)
	if resp.Meta.Count != 2 || len(resp.Resource) != 2 {
		t.Fatalf("count = %d, resources = %d", resp.Meta.Count, len(resp.Resource))
	}
	if resp.Resource[0].ID != second.ID || !resp.Resource[1].IsRevoked {
		t.Errorf("expected newest key first, revoked key second: %+v", resp.Resource)
	}
	if resp.Resource[0].Prefix != second.Prefix() {
		t.Errorf("prefix = %q, want %q", resp.Resource[0].Prefix, second.Prefix())
	}

	other := "/api/users/" + strconv.FormatInt(bob.ID, 10) + "/keys"
	if rr := env.do(t, "GET", other, second.Key, ""); rr.Code != http.StatusForbidden {
		t.Errorf("other user's keys: status = %d, want 403", rr.Code)
	}
	if rr := env.do(t, "GET", "/api/users/zero/keys", second.Key, ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, "GET", path, "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("guest: status = %d, want 401", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func TestSetLevel(t *testing.T) {
	env := newTestEnv(t)
	_, userKey := env.register(t, "promote@example.com")
	_, adminKey := env.admin(t, "boss@example.com")
	path := "/api/keys/" + strconv.FormatInt(userKey.ID, 10) + "/level"

	if rr := env.do(t, "PUT", path, userKey.Key, `{"level":"admin"}`); rr.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", rr.Code)
	}
	if rr := env.do(t, "PUT", path, "", `{"level":"admin"}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("guest: status = %d, want 401", rr.Code)
	}

	rr := env.do(t, "PUT", path, adminKey.Key, `{"level":"edit"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var view keyView
	json.NewDecoder(rr.Body).Decode(&view)
	if view.Level != model.LevelEdit {
		t.Errorf("level = %v, want edit", view.Level)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown level", path, `{"level":"superuser"}`, http.StatusBadRequest},
		{"missing level", path, `{}`, http.StatusBadRequest},
		{"bad id", "/api/keys/x/level", `{"level":"read"}`, http.StatusBadRequest},
		{"missing key", "/api/keys/9999/level", `{"level":"read"}`, http.StatusNotFound},
		{"revoke", path, `{"level":"revoked"}`, http.StatusOK},
		{"already revoked", path, `{"level":"read"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, "PUT", tt.path, adminKey.Key, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// OpenAPI
// ---------------------------------------------------------------------------

func TestServeSpec(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rr := env.do(t, "GET", "/openapi.json", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var doc map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		paths, _ := doc["paths"].(map[string]any)
		if _, ok := paths["/api/login"]; !ok {
			t.Error("document is missing /api/login")
		}
	}
}
