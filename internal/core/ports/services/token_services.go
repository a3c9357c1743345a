package services

import (
	"context"
	"time"

	"github.com/SscSPs/bearer_gate/internal/core/domain"
)

// IssueTokenRequest carries the inputs for issuing a token.
type IssueTokenRequest struct {
	// ClientID identifies the token's owner.
	ClientID string `validate:"required,max=128,printunicode"`
	// TTL is optional. Zero or negative values produce an already-expired token.
	TTL *time.Duration
}

// TokenSvc defines the token lifecycle operations.
type TokenSvc interface {
	// GenerateSecret returns a fresh random token value. It has no side effects.
	GenerateSecret() (string, error)

	// Issue creates and persists a token for the client.
	// Returns the plaintext token (the only time it is available) and its metadata.
	Issue(ctx context.Context, req IssueTokenRequest) (string, *domain.TokenMetadata, error)

	// Validate checks a raw token and returns its metadata. It does not record usage.
	Validate(ctx context.Context, rawToken string) (*domain.TokenMetadata, error)

	// Revoke tombstones a token identified by its hash or its raw value. Idempotent.
	Revoke(ctx context.Context, ref string) error

	// List returns all tokens. Secrets are never included.
	List(ctx context.Context) ([]domain.TokenMetadata, error)

	// MarkUsed records lastUsedAt for the given raw tokens. Best effort.
	MarkUsed(ctx context.Context, rawTokens ...string) error
}

// UsageRecorder accepts usage updates without blocking the caller.
type UsageRecorder interface {
	// Record queues a usage update for rawToken and reports whether it was accepted.
	Record(rawToken string) bool
}
