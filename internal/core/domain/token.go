package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TokenHashLength is the length of a hex encoded token hash.
const TokenHashLength = sha256.Size * 2

// TokenState is the lifecycle state of a token as observed at a point in time.
type TokenState string

const (
	// TokenStateActive means the token can authenticate requests.
	TokenStateActive TokenState = "active"
	// TokenStateExpired means expiresAt has passed. Computed on read, never stored.
	TokenStateExpired TokenState = "expired"
	// TokenStateRevoked is terminal.
	TokenStateRevoked TokenState = "revoked"
)

// TokenMetadata describes one issued bearer token.
// The raw secret is never part of it; TokenHash is the only persisted form.
type TokenMetadata struct {
	TokenHash  string     `json:"tokenHash"`
	ClientID   string     `json:"clientId"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// HashSecret returns the lowercase hex SHA-256 digest of a raw token.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsTokenHash reports whether s has the shape of a value produced by HashSecret.
func IsTokenHash(s string) bool {
	if len(s) != TokenHashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsExpired reports whether the token has expired at the given time.
// A token whose expiresAt equals now is already expired.
func (t *TokenMetadata) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// State classifies the token at the given time. Revocation wins over expiry.
func (t *TokenMetadata) State(now time.Time) TokenState {
	switch {
	case t.Revoked:
		return TokenStateRevoked
	case t.IsExpired(now):
		return TokenStateExpired
	default:
		return TokenStateActive
	}
}

// Revoke tombstones the token. It reports whether anything changed.
func (t *TokenMetadata) Revoke() bool {
	if t.Revoked {
		return false
	}
	t.Revoked = true
	return true
}

// TouchLastUsed moves lastUsedAt forward to at. Timestamps before issuedAt or
// before the current lastUsedAt are ignored. It reports whether anything changed.
func (t *TokenMetadata) TouchLastUsed(at time.Time) bool {
	if at.Before(t.IssuedAt) {
		return false
	}
	if t.LastUsedAt != nil && !at.After(*t.LastUsedAt) {
		return false
	}
	at = at.UTC()
	t.LastUsedAt = &at
	return true
}

// Clone returns a deep copy so callers can never mutate a stored record.
func (t TokenMetadata) Clone() TokenMetadata {
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		t.ExpiresAt = &v
	}
	if t.LastUsedAt != nil {
		v := *t.LastUsedAt
		t.LastUsedAt = &v
	}
	return t
}

// Merge folds other into t. Identity fields come from t; the monotone fields
// take the most advanced value of the two, so merging never un-revokes a
// token or moves lastUsedAt backwards. Both records must share a hash.
func (t TokenMetadata) Merge(other TokenMetadata) TokenMetadata {
	merged := t.Clone()
	if other.Revoked {
		merged.Revoked = true
	}
	if other.LastUsedAt != nil {
		merged.TouchLastUsed(*other.LastUsedAt)
	}
	return merged
}

// MergeTokenSets merges two record sets keyed by hash. Records only present
// in one side are kept; records in both are merged with ours as the base.
func MergeTokenSets(ours, theirs []TokenMetadata) []TokenMetadata {
	index := make(map[string]int, len(ours)+len(theirs))
	out := make([]TokenMetadata, 0, len(ours)+len(theirs))
	for _, rec := range ours {
		if i, ok := index[rec.TokenHash]; ok {
			out[i] = out[i].Merge(rec)
			continue
		}
		index[rec.TokenHash] = len(out)
		out = append(out, rec.Clone())
	}
	for _, rec := range theirs {
		if i, ok := index[rec.TokenHash]; ok {
			out[i] = out[i].Merge(rec)
			continue
		}
		index[rec.TokenHash] = len(out)
		out = append(out, rec.Clone())
	}
	return out
}
