package memory

import (
	"context"
	"sync"

	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portsrepo "github.com/SscSPs/bearer_gate/internal/core/ports/repositories"
)

// VolatilePersister keeps the "durable" record set in process memory.
// It backs the memory store driver and tests; nothing survives a restart.
type VolatilePersister struct {
	mu      sync.Mutex
	records []domain.TokenMetadata
	saves   int
}

var _ portsrepo.TokenPersister = (*VolatilePersister)(nil)

// NewVolatilePersister returns a persister seeded with records.
func NewVolatilePersister(records ...domain.TokenMetadata) *VolatilePersister {
	p := &VolatilePersister{}
	for _, rec := range records {
		p.records = append(p.records, rec.Clone())
	}
	return p
}

// Load returns a copy of the held records.
func (p *VolatilePersister) Load(_ context.Context) ([]domain.TokenMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneAll(p.records), nil
}

// Save merges and replaces the held records.
func (p *VolatilePersister) Save(_ context.Context, records []domain.TokenMetadata) ([]domain.TokenMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = domain.MergeTokenSets(records, p.records)
	p.saves++
	return cloneAll(p.records), nil
}

// Saves returns how many times Save has been called.
func (p *VolatilePersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// Close is a no-op.
func (p *VolatilePersister) Close() error {
	return nil
}

func cloneAll(records []domain.TokenMetadata) []domain.TokenMetadata {
	out := make([]domain.TokenMetadata, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
