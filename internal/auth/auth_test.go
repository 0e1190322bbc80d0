package auth

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/sydlexius/cadence/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateAndValidate(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	token, err := svc.Create(ctx, "ingest-worker", RoleService)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(token, "cad_") {
		t.Errorf("token = %q, want cad_ prefix", token)
	}

	p, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Name != "ingest-worker" || p.Role != RoleService {
		t.Errorf("principal = %+v", p)
	}
	if p.IsAdmin() {
		t.Error("service token must not be admin")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	svc := NewService(setupTestDB(t))

	_, err := svc.Validate(context.Background(), "cad_deadbeef")
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateMalformedToken(t *testing.T) {
	svc := NewService(setupTestDB(t))

	for _, tok := range []string{"", "cad_", "short"} {
		if _, err := svc.Validate(context.Background(), tok); err != ErrInvalidToken {
			t.Errorf("Validate(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", RoleService); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := svc.Create(ctx, "x", Role("root")); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestRevoke(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	token, err := svc.Create(ctx, "temp", RoleService)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := svc.Revoke(ctx, p.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Validate(ctx, token); err != ErrInvalidToken {
		t.Errorf("revoked token still validates: %v", err)
	}
	if err := svc.Revoke(ctx, p.TokenID); err == nil {
		t.Error("expected error revoking an unknown token")
	}
}

func TestBootstrap(t *testing.T) {
	svc := NewService(setupTestDB(t))
	ctx := context.Background()

	token, err := svc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if token == "" {
		t.Fatal("expected a bootstrap token on an empty table")
	}

	p, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !p.IsAdmin() {
		t.Error("bootstrap token must be admin")
	}

	again, err := svc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if again != "" {
		t.Error("bootstrap must be a no-op once tokens exist")
	}
}
