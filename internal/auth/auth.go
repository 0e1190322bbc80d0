// Package auth issues and validates API tokens. Tokens are random secrets
// shown once at creation; only their SHA-256 hash is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const tokenPrefix = "cad_"

// Role gates what a token may do.
type Role string

// Known roles. Service tokens read and ingest; admin tokens additionally
// invalidate cache entries and rule on mismatch reviews.
const (
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
)

// ErrInvalidToken is returned for unknown or malformed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller identity, passed explicitly into
// operations that need to authorize or attribute actions.
type Principal struct {
	TokenID string
	Name    string
	Role    Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Service provides token operations.
type Service struct {
	db *sql.DB
}

// NewService creates an auth service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create mints a new token with the given name and role. The plaintext token
// is returned exactly once and never stored.
func (s *Service) Create(ctx context.Context, name string, role Role) (string, error) {
	if name == "" {
		return "", fmt.Errorf("token name is required")
	}
	if role != RoleService && role != RoleAdmin {
		return "", fmt.Errorf("token role must be %q or %q", RoleService, RoleAdmin)
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (id, name, role, token_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), name, string(role), hashToken(token),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}

	return token, nil
}

// Validate resolves a presented token to its principal.
func (s *Service) Validate(ctx context.Context, token string) (Principal, error) {
	if len(token) <= len(tokenPrefix) {
		return Principal{}, ErrInvalidToken
	}

	var p Principal
	var role, storedHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, token_hash FROM auth_tokens WHERE token_hash = ?
	`, hashToken(token)).Scan(&p.TokenID, &p.Name, &role, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, fmt.Errorf("querying token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(token))) != 1 {
		return Principal{}, ErrInvalidToken
	}

	p.Role = Role(role)
	return p, nil
}

// Revoke deletes a token by ID.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_tokens WHERE id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("token not found: %s", tokenID)
	}
	return nil
}

// Bootstrap mints an initial admin token when the token table is empty.
// Returns the plaintext token, or empty when tokens already exist.
func (s *Service) Bootstrap(ctx context.Context) (string, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM auth_tokens").Scan(&count); err != nil {
		return "", fmt.Errorf("counting tokens: %w", err)
	}
	if count > 0 {
		return "", nil
	}
	return s.Create(ctx, "bootstrap-admin", RoleAdmin)
}

// generateToken returns a new random bearer token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 of a token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
