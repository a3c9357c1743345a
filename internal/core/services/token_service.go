package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	"github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/utils"
	"github.com/go-playground/validator/v10"
)

// secretBytes is the entropy of a generated token (256 bits).
const secretBytes = 32

// tokenService implements the TokenSvc interface
type tokenService struct {
	BaseService
	tokenStore repositories.TokenStore
	validate   *validator.Validate
	now        func() time.Time
}

// TokenServiceOption configures a tokenService.
type TokenServiceOption func(*tokenService)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *tokenService) {
		s.now = now
	}
}

// WithLogger sets the fallback logger for calls without a request-scoped one.
func WithLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *tokenService) {
		s.Logger = logger
	}
}

// NewTokenService creates a new instance of tokenService
func NewTokenService(tokenStore repositories.TokenStore, opts ...TokenServiceOption) portssvc.TokenSvc {
	s := &tokenService{
		tokenStore: tokenStore,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateSecret returns a fresh random token value
func (s *tokenService) GenerateSecret() (string, error) {
	token, err := utils.GenerateSecureToken(secretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// Issue generates a new token for the client and persists its hash
func (s *tokenService) Issue(ctx context.Context, req portssvc.IssueTokenRequest) (string, *domain.TokenMetadata, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	token, err := s.GenerateSecret()
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	metadata := domain.TokenMetadata{
		TokenHash: domain.HashSecret(token),
		ClientID:  req.ClientID,
		IssuedAt:  now,
	}
	if req.TTL != nil {
		expiry := now.Add(*req.TTL)
		metadata.ExpiresAt = &expiry
	}

	if err := s.tokenStore.Put(ctx, metadata); err != nil {
		return "", nil, fmt.Errorf("failed to save token: %w", err)
	}

	s.LogInfo(ctx, "Token issued",
		slog.String("client_id", metadata.ClientID),
		slog.String("token_hash", metadata.TokenHash[:12]))

	// Return the plaintext token (only time it's available) and the token details
	return token, &metadata, nil
}

// Validate checks a raw token against the store
func (s *tokenService) Validate(ctx context.Context, rawToken string) (*domain.TokenMetadata, error) {
	if rawToken == "" {
		return nil, apperrors.ErrInvalidToken
	}

	token, err := s.tokenStore.Get(ctx, domain.HashSecret(rawToken))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	switch token.State(s.now()) {
	case domain.TokenStateRevoked:
		return nil, apperrors.ErrRevokedToken
	case domain.TokenStateExpired:
		return nil, apperrors.ErrExpiredToken
	}

	return token, nil
}

// Revoke tombstones a token given its hash or raw value
func (s *tokenService) Revoke(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: token reference is required", apperrors.ErrValidation)
	}

	tokenHash := s.resolveHash(ctx, ref)
	token, err := s.tokenStore.Update(ctx, tokenHash, func(t *domain.TokenMetadata) bool {
		return t.Revoke()
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("token not found: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.LogInfo(ctx, "Token revoked",
		slog.String("client_id", token.ClientID),
		slog.String("token_hash", tokenHash[:12]))
	return nil
}

// List returns all tokens, oldest first
func (s *tokenService) List(ctx context.Context) ([]domain.TokenMetadata, error) {
	tokens, err := s.tokenStore.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	sort.Slice(tokens, func(i, j int) bool {
		if !tokens[i].IssuedAt.Equal(tokens[j].IssuedAt) {
			return tokens[i].IssuedAt.Before(tokens[j].IssuedAt)
		}
		return tokens[i].TokenHash < tokens[j].TokenHash
	})
	return tokens, nil
}

// MarkUsed moves lastUsedAt forward for each token in a single store write
func (s *tokenService) MarkUsed(ctx context.Context, rawTokens ...string) error {
	if len(rawTokens) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(rawTokens))
	seen := make(map[string]struct{}, len(rawTokens))
	for _, raw := range rawTokens {
		h := domain.HashSecret(raw)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}

	now := s.now()
	if _, err := s.tokenStore.UpdateMany(ctx, hashes, func(t *domain.TokenMetadata) bool {
		return t.TouchLastUsed(now)
	}); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// resolveHash treats ref as a hash when it looks like one and is known,
// otherwise as a raw token.
func (s *tokenService) resolveHash(ctx context.Context, ref string) string {
	if domain.IsTokenHash(ref) {
		if _, err := s.tokenStore.Get(ctx, ref); err == nil {
			return ref
		}
	}
	return domain.HashSecret(ref)
}
