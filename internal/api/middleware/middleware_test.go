package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sydlexius/cadence/internal/auth"
	"github.com/sydlexius/cadence/internal/database"
)

func setupAuth(t *testing.T) (*auth.Service, string, string) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc := auth.NewService(db)
	adminTok, err := svc.Create(t.Context(), "admin", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("creating admin token: %v", err)
	}
	svcTok, err := svc.Create(t.Context(), "worker", auth.RoleService)
	if err != nil {
		t.Fatalf("creating service token: %v", err)
	}
	return svc, adminTok, svcTok
}

func TestAuthMiddleware(t *testing.T) {
	svc, adminTok, _ := setupAuth(t)

	var got auth.Principal
	handler := Auth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d", rec.Code)
	}

	// Bogus token.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer cad_bogus")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with bogus token = %d", rec.Code)
	}

	// Valid token.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status with valid token = %d", rec.Code)
	}
	if got.Name != "admin" || !got.IsAdmin() {
		t.Errorf("principal = %+v", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	svc, adminTok, svcTok := setupAuth(t)

	handler := Auth(svc)(RequireAdmin(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+svcTok)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("service token status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("admin token status = %d", rec.Code)
	}
}

func TestScrubQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"isrc=USX001", "isrc=USX001"},
		{"apikey=supersecret", "apikey=REDACTED"},
		{"client_secret=abc&isrc=USX001", "client_secret=REDACTED&isrc=USX001"},
		{"Token=abc", "Token=REDACTED"},
	}
	for _, tc := range cases {
		if got := scrubQuery(tc.in); got != tc.want {
			t.Errorf("scrubQuery(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("logging wrapper must preserve http.Flusher")
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			t.Fatal("logging wrapper must expose the underlying writer for http.ResponseController")
		}
		if u.Unwrap() == nil {
			t.Error("unwrapped writer is nil")
		}
		w.Write([]byte(strings.Repeat("x", 8)))
	}))
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
