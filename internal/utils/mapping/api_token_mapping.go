package mapping

import (
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	"github.com/SscSPs/bearer_gate/internal/models"
)

// ToModelAPIToken converts domain TokenMetadata to a table row.
func ToModelAPIToken(d domain.TokenMetadata) models.APIToken {
	d = d.Clone()
	return models.APIToken{
		TokenHash:  d.TokenHash,
		ClientID:   d.ClientID,
		IssuedAt:   d.IssuedAt,
		ExpiresAt:  d.ExpiresAt,
		LastUsedAt: d.LastUsedAt,
		Revoked:    d.Revoked,
	}
}

// ToDomainAPIToken converts a table row to domain TokenMetadata.
// Timestamps are normalised to UTC.
func ToDomainAPIToken(m models.APIToken) domain.TokenMetadata {
	d := domain.TokenMetadata{
		TokenHash: m.TokenHash,
		ClientID:  m.ClientID,
		IssuedAt:  m.IssuedAt.UTC(),
		Revoked:   m.Revoked,
	}
	if m.ExpiresAt != nil {
		v := m.ExpiresAt.UTC()
		d.ExpiresAt = &v
	}
	if m.LastUsedAt != nil {
		v := m.LastUsedAt.UTC()
		d.LastUsedAt = &v
	}
	return d
}

// ToDomainAPITokenSlice converts table rows to domain records.
func ToDomainAPITokenSlice(ms []models.APIToken) []domain.TokenMetadata {
	ds := make([]domain.TokenMetadata, len(ms))
	for i, m := range ms {
		ds[i] = ToDomainAPIToken(m)
	}
	return ds
}
