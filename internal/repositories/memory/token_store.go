package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portsrepo "github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
)

// TokenStore keeps every issued token in memory and mirrors each mutation to
// a TokenPersister before making it visible.
//
// writeMu serializes mutations, including the durable write. mu only guards
// the map swap, so readers never wait on I/O.
type TokenStore struct {
	persister portsrepo.TokenPersister
	logger    *slog.Logger

	writeMu sync.Mutex
	closed  bool

	mu      sync.RWMutex
	records map[string]domain.TokenMetadata
}

var _ portsrepo.TokenStore = (*TokenStore)(nil)

// NewTokenStore loads the persisted records and returns a ready store.
// Corrupt durable state is returned as an error and must abort startup.
func NewTokenStore(ctx context.Context, persister portsrepo.TokenPersister, logger *slog.Logger) (*TokenStore, error) {
	if persister == nil {
		return nil, errors.New("token store: persister is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	loaded, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("token store: load: %w", err)
	}

	records, err := indexRecords(loaded)
	if err != nil {
		return nil, err
	}

	logger.Info("Token store loaded", slog.Int("tokens", len(records)))
	return &TokenStore{
		persister: persister,
		logger:    logger,
		records:   records,
	}, nil
}

// Put inserts or replaces a record.
func (s *TokenStore) Put(ctx context.Context, token domain.TokenMetadata) error {
	if !domain.IsTokenHash(token.TokenHash) {
		return fmt.Errorf("%w: token hash is malformed", apperrors.ErrValidation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return apperrors.ErrStoreClosed
	}

	next := s.snapshot()
	token = token.Clone()
	if existing, ok := next[token.TokenHash]; ok && existing.Revoked {
		token.Revoked = true
	}
	next[token.TokenHash] = token

	return s.commit(ctx, next)
}

// Get returns a copy of the record for tokenHash.
func (s *TokenStore) Get(_ context.Context, tokenHash string) (*domain.TokenMetadata, error) {
	s.mu.RLock()
	rec, ok := s.records[tokenHash]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := rec.Clone()
	return &out, nil
}

// ListAll returns copies of every record.
func (s *TokenStore) ListAll(_ context.Context) ([]domain.TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TokenMetadata, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Update applies mutator to a single record.
func (s *TokenStore) Update(ctx context.Context, tokenHash string, mutator portsrepo.TokenMutator) (*domain.TokenMetadata, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil, apperrors.ErrStoreClosed
	}

	s.mu.RLock()
	current, ok := s.records[tokenHash]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	updated := current.Clone()
	if !mutator(&updated) {
		return &updated, nil
	}
	updated.TokenHash = tokenHash

	next := s.snapshot()
	next[tokenHash] = updated
	if err := s.commit(ctx, next); err != nil {
		return nil, err
	}

	out := s.lookup(tokenHash)
	return &out, nil
}

// UpdateMany applies mutator to every known hash and writes once.
func (s *TokenStore) UpdateMany(ctx context.Context, tokenHashes []string, mutator portsrepo.TokenMutator) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return 0, apperrors.ErrStoreClosed
	}

	next := s.snapshot()
	changed := 0
	for _, h := range tokenHashes {
		rec, ok := next[h]
		if !ok {
			continue
		}
		updated := rec.Clone()
		if mutator(&updated) {
			updated.TokenHash = h
			next[h] = updated
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}

	if err := s.commit(ctx, next); err != nil {
		return 0, err
	}
	return changed, nil
}

// Reload merges the durable state into memory. Used after another process
// replaced it.
func (s *TokenStore) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return apperrors.ErrStoreClosed
	}

	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("token store: reload: %w", err)
	}

	current := s.snapshot()
	ours := make([]domain.TokenMetadata, 0, len(current))
	for _, rec := range current {
		ours = append(ours, rec)
	}

	merged, err := indexRecords(domain.MergeTokenSets(ours, loaded))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records = merged
	s.mu.Unlock()

	s.logger.Debug("Token store reloaded", slog.Int("tokens", len(merged)))
	return nil
}

// Close releases the persister. Pending mutations have already been written
// by the time they return, so there is nothing left to flush.
func (s *TokenStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.persister.Close()
}

// snapshot copies the current map. Callers must hold writeMu.
func (s *TokenStore) snapshot() map[string]domain.TokenMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]domain.TokenMetadata, len(s.records)+1)
	for h, rec := range s.records {
		next[h] = rec
	}
	return next
}

// commit writes next durably and only then swaps it in. Callers must hold writeMu.
func (s *TokenStore) commit(ctx context.Context, next map[string]domain.TokenMetadata) error {
	records := make([]domain.TokenMetadata, 0, len(next))
	for _, rec := range next {
		records = append(records, rec)
	}

	saved, err := s.persister.Save(ctx, records)
	if err != nil {
		if errors.Is(err, apperrors.ErrStoreIO) {
			return err
		}
		return fmt.Errorf("%w: %w", apperrors.ErrStoreIO, err)
	}

	committed, err := indexRecords(saved)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records = committed
	s.mu.Unlock()
	return nil
}

func (s *TokenStore) lookup(tokenHash string) domain.TokenMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[tokenHash].Clone()
}

func indexRecords(records []domain.TokenMetadata) (map[string]domain.TokenMetadata, error) {
	out := make(map[string]domain.TokenMetadata, len(records))
	for _, rec := range records {
		if !domain.IsTokenHash(rec.TokenHash) {
			return nil, fmt.Errorf("%w: record with malformed hash", apperrors.ErrCorruptStore)
		}
		if _, dup := out[rec.TokenHash]; dup {
			return nil, fmt.Errorf("%w: duplicate token hash", apperrors.ErrCorruptStore)
		}
		out[rec.TokenHash] = rec.Clone()
	}
	return out, nil
}
