// Package openapi describes the dugong HTTP API as an OpenAPI 3.1 document.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/dugong-app/dugong/internal/model"
)

// Generate returns the OpenAPI document for the authentication API served at
// baseURL. An empty baseURL omits the servers list.
func Generate(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "dugong API",
			Description: "Account registration, API key login and tiered rate limiting.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "An API key obtained from POST /api/login.",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = errorSchema()
	doc.Components.Schemas["User"] = userSchema()
	doc.Components.Schemas["APIKey"] = keySchema()

	doc.Paths = openapi3.NewPaths()
	addSessionPaths(doc)
	addUserPaths(doc)
	addKeyPaths(doc)
	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addSessionPaths(doc *openapi3.T) {
	credentials := objectSchema(openapi3.Schemas{
		"username": stringProp("The e-mail address the account was registered with.", ""),
		"password": stringProp("", "password"),
	}, "username", "password")

	loginResult := objectSchema(openapi3.Schemas{
		"APIKey": stringProp("Bearer token for subsequent requests.", ""),
	}, "APIKey")

	logoutResult := objectSchema(openapi3.Schemas{
		"message": stringProp("", ""),
	}, "message")

	doc.Paths.Set("/api/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log in",
			Description: "Exchange an e-mail address and password for the account's active API key. A key is created on first login or after revocation.",
			OperationID: "login",
			RequestBody: jsonBody("Login credentials", credentials),
			Responses:   newResponses("200", "The active API key", loginResult, "400", "401", "429"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"session"},
			Summary:     "Log out",
			Description: "Revoke the API key presented in the Authorization header.",
			OperationID: "logout",
			Security:    bearer(),
			Responses:   newResponses("200", "The key was revoked", logoutResult, "401", "404", "429"),
		},
	})
}

func addUserPaths(doc *openapi3.T) {
	userRef := openapi3.NewSchemaRef("#/components/schemas/User", nil)
	keyRef := openapi3.NewSchemaRef("#/components/schemas/APIKey", nil)

	registration := objectSchema(openapi3.Schemas{
		"email":    stringProp("", "email"),
		"password": stringProp("At least 8 characters.", "password"),
	}, "email", "password")

	doc.Paths.Set("/api/users", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"users"},
			Summary:     "Register a user",
			OperationID: "create_user",
			RequestBody: jsonBody("New account", registration),
			Responses:   newResponses("201", "The created user", userRef, "400", "409", "429"),
		},
		Get: &openapi3.Operation{
			Tags:        []string{"users"},
			Summary:     "Look up a user",
			Description: "Find a user by id or e-mail. Callers may look up their own account; administrators may look up any.",
			OperationID: "get_user",
			Security:    bearer(),
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("user_id").
						WithDescription("User id. Takes precedence over email.").
						WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("email").
						WithDescription("E-mail address.").
						WithSchema(openapi3.NewStringSchema()),
				},
			},
			Responses: newResponses("200", "The user", userRef, "400", "401", "403", "404", "429"),
		},
	})

	doc.Paths.Set("/api/users/{userID}/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"users"},
			Summary:     "List a user's API keys",
			Description: "Every key ever issued to the user, newest first, with the token reduced to a prefix.",
			OperationID: "list_user_keys",
			Security:    bearer(),
			Parameters:  openapi3.Parameters{idParameter("userID")},
			Responses:   newResponses("200", "Key history", listSchema(keyRef), "401", "403", "404", "429"),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	keyRef := openapi3.NewSchemaRef("#/components/schemas/APIKey", nil)

	change := objectSchema(openapi3.Schemas{
		"level": levelSchema(),
	}, "level")

	doc.Paths.Set("/api/keys/{keyID}/level", &openapi3.PathItem{
		Put: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Change a key's permission level",
			Description: "Administrators only. Setting the level to revoked revokes the key.",
			OperationID: "set_key_level",
			Security:    bearer(),
			Parameters:  openapi3.Parameters{idParameter("keyID")},
			RequestBody: jsonBody("New level", change),
			Responses:   newResponses("200", "The updated key", keyRef, "400", "401", "403", "404", "409", "429"),
		},
	})
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func userSchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"id":            intProp(),
		"email":         stringProp("", "email"),
		"creation_date": stringProp("", "date-time"),
	}, "id", "email", "creation_date")
}

func keySchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"id":           intProp(),
		"prefix":       stringProp("First characters of the token.", ""),
		"level":        levelSchema(),
		"is_revoked":   {Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
		"user_id":      intProp(),
		"date_emitted": stringProp("", "date-time"),
	}, "id", "prefix", "level", "is_revoked", "user_id", "date_emitted")
}

func levelSchema() *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = "Permission level, lowest to highest."
	for l := model.LevelRevoked; l <= model.LevelAdmin; l++ {
		s.Enum = append(s.Enum, l.String())
	}
	return &openapi3.SchemaRef{Value: s}
}

func listSchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"resource": &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: items,
			},
		},
		"meta": objectSchema(openapi3.Schemas{"count": intProp()}),
	}, "resource")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		},
	}
}

func stringProp(description, format string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	s.Description = description
	s.Format = format
	return &openapi3.SchemaRef{Value: s}
}

func intProp() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
}

func idParameter(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}),
	}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func bearer() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{"bearerAuth": {}}}
}

var errorDescriptions = map[string]string{
	"400": "Bad request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not found",
	"409": "Conflict",
	"429": "Rate limited",
	"500": "Internal server error",
}

// newResponses builds a Responses map with a success response, the listed
// error responses and a 500.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, code := range append(errorCodes, "500") {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
