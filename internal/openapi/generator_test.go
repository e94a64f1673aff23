package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerate_Info(t *testing.T) {
	doc := Generate("http://localhost:8080", "v0.3.0")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil || doc.Info.Version != "v0.3.0" {
		t.Fatalf("Info = %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("Servers not set correctly")
	}

	if got := Generate("", "").Info.Version; got != "1.0.0" {
		t.Errorf("default version = %q", got)
	}
	if servers := Generate("", "").Servers; len(servers) != 0 {
		t.Errorf("expected no servers, got %d", len(servers))
	}
}

func TestGenerate_Paths(t *testing.T) {
	doc := Generate("", "")

	tests := []struct {
		path    string
		methods []string
	}{
		{"/api/login", []string{"POST", "DELETE"}},
		{"/api/users", []string{"POST", "GET"}},
		{"/api/users/{userID}/keys", []string{"GET"}},
		{"/api/keys/{keyID}/level", []string{"PUT"}},
	}
	for _, tt := range tests {
		item := doc.Paths.Find(tt.path)
		if item == nil {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		for _, m := range tt.methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s: missing operation", m, tt.path)
			}
		}
	}
}

func TestGenerate_ResponsesReferenceErrorSchema(t *testing.T) {
	doc := Generate("", "")

	op := doc.Paths.Find("/api/login").Post
	for _, code := range []string{"200", "400", "401", "429", "500"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("login: missing %s response", code)
		}
	}
	unauth := op.Responses.Value("401").Value
	ref := unauth.Content.Get("application/json").Schema.Ref
	if ref != "#/components/schemas/ErrorResponse" {
		t.Errorf("401 schema ref = %q", ref)
	}

	admin := doc.Paths.Find("/api/keys/{keyID}/level").Put
	if admin.Responses.Value("403") == nil {
		t.Error("set level: missing 403 response")
	}
	if admin.Security == nil || len(*admin.Security) != 1 {
		t.Error("set level: expected bearer security requirement")
	}
}

func TestGenerate_LevelEnum(t *testing.T) {
	doc := Generate("", "")

	level := doc.Components.Schemas["APIKey"].Value.Properties["level"].Value
	want := []string{"revoked", "read", "review", "edit", "create", "admin"}
	if len(level.Enum) != len(want) {
		t.Fatalf("enum = %v", level.Enum)
	}
	for i, w := range want {
		if level.Enum[i] != w {
			t.Errorf("enum[%d] = %v, want %s", i, level.Enum[i], w)
		}
	}
}

func TestGenerate_MarshalsToJSON(t *testing.T) {
	b, err := json.Marshal(Generate("", ""))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", out["openapi"])
	}
	if _, ok := out["components"].(map[string]any)["securitySchemes"]; !ok {
		t.Error("securitySchemes missing from JSON")
	}
}
