package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestUserFromClaims(t *testing.T) {
	tests := []struct {
		name    string
		claims  jwt.MapClaims
		wantID  int64
		wantErr bool
		perms   int
	}{
		{"string id", jwt.MapClaims{"id": "42", "permissions": []any{"graph.view"}}, 42, false, 1},
		{"numeric id", jwt.MapClaims{"id": float64(7)}, 7, false, 0},
		{"admin gets everything", jwt.MapClaims{"id": "1", "role": "admin"}, 1, false, len(allPermissions)},
		{"bad id", jwt.MapClaims{"id": "abc"}, 0, true, 0},
		{"missing id", jwt.MapClaims{}, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := userFromClaims(tt.claims)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user.UserID != tt.wantID {
				t.Fatalf("expected id %d, got %d", tt.wantID, user.UserID)
			}
			if len(user.Permissions) != tt.perms {
				t.Fatalf("expected %d permissions, got %d", tt.perms, len(user.Permissions))
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	app := &App{MasterAPIKey: "secret"}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic secret", http.StatusUnauthorized},
		{"wrong key without jwks", "Bearer nope", http.StatusUnauthorized},
		{"master key", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := &AppContext{e.NewContext(req, rec), app, nil}

			h := AuthMiddleware(func(c echo.Context) error {
				if !c.(*AppContext).User.Can("graph.extract") {
					t.Fatal("master user lacks graph.extract")
				}
				return c.NoContent(http.StatusOK)
			})
			if err := h(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	tests := []struct {
		name   string
		user   *AppUser
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"missing permission", &AppUser{UserID: 1, Permissions: []string{"graph.view"}}, http.StatusForbidden},
		{"granted", &AppUser{UserID: 1, Permissions: []string{"graph.delete"}}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := &AppContext{e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec), &App{}, tt.user}

			h := RequirePermission("graph.delete")(func(c echo.Context) error {
				return c.NoContent(http.StatusNoContent)
			})
			if err := h(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}
