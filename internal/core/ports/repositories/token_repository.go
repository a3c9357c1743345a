package repositories

import (
	"context"

	"github.com/SscSPs/bearer_gate/internal/core/domain"
)

// TokenMutator changes a record in place and reports whether it changed.
// Returning false lets the store skip the durable write.
type TokenMutator func(token *domain.TokenMetadata) bool

// TokenStore is the authoritative, concurrency-safe collection of issued tokens.
type TokenStore interface {
	// Put inserts or replaces the record for token.TokenHash.
	// Replacing a revoked record keeps it revoked.
	Put(ctx context.Context, token domain.TokenMetadata) error

	// Get retrieves a record by hash. Returns apperrors.ErrNotFound if absent.
	Get(ctx context.Context, tokenHash string) (*domain.TokenMetadata, error)

	// ListAll returns every record, revoked ones included. Order is unspecified.
	ListAll(ctx context.Context) ([]domain.TokenMetadata, error)

	// Update applies mutator to the record atomically with respect to other
	// mutations and returns the resulting record.
	Update(ctx context.Context, tokenHash string, mutator TokenMutator) (*domain.TokenMetadata, error)

	// UpdateMany applies mutator to each known hash in a single durable write.
	// Unknown hashes are skipped. Returns how many records changed.
	UpdateMany(ctx context.Context, tokenHashes []string, mutator TokenMutator) (int, error)
}

// TokenPersister is the durable representation beneath a TokenStore.
// Every write replaces the whole record set atomically.
type TokenPersister interface {
	// Load reads the last fully committed record set. A missing store is empty;
	// an undecodable one fails with apperrors.ErrCorruptStore.
	Load(ctx context.Context) ([]domain.TokenMetadata, error)

	// Save merges records with whatever is durable right now, replaces the
	// durable set with the result and returns it.
	Save(ctx context.Context, records []domain.TokenMetadata) ([]domain.TokenMetadata, error)

	// Close releases any resources held by the persister.
	Close() error
}

// TokenChangeNotifier is implemented by persisters that can tell when another
// process replaced the durable state.
type TokenChangeNotifier interface {
	// Watch calls onChange after every external change until ctx is done.
	Watch(ctx context.Context, onChange func()) error
}
