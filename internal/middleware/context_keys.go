package middleware

import (
	"context"

	"github.com/SscSPs/bearer_gate/internal/core/domain"
	"github.com/gin-gonic/gin"
)

// tokenMetadataKey stores the authenticated token's metadata in both the
// request context and the Gin context.
const tokenMetadataKey = contextKey("tokenMetadata")

// ContextWithTokenMetadata returns a copy of ctx carrying the caller's identity.
func ContextWithTokenMetadata(ctx context.Context, meta *domain.TokenMetadata) context.Context {
	return context.WithValue(ctx, tokenMetadataKey, meta)
}

// TokenMetadataFromContext returns the authenticated caller's metadata from a
// standard context. Downstream code that only has a context.Context uses this.
func TokenMetadataFromContext(ctx context.Context) (*domain.TokenMetadata, bool) {
	meta, ok := ctx.Value(tokenMetadataKey).(*domain.TokenMetadata)
	return meta, ok && meta != nil
}

// GetTokenMetadataFromContext retrieves the authenticated caller's metadata from the Gin context.
// It returns the metadata and a boolean indicating if it was found.
func GetTokenMetadataFromContext(c *gin.Context) (*domain.TokenMetadata, bool) {
	if val, exists := c.Get(string(tokenMetadataKey)); exists {
		if meta, ok := val.(*domain.TokenMetadata); ok && meta != nil {
			return meta, true
		}
	}
	// check in the request context as well
	return TokenMetadataFromContext(c.Request.Context())
}

// GetClientIDFromContext retrieves the authenticated client ID from the Gin context.
func GetClientIDFromContext(c *gin.Context) (string, bool) {
	meta, ok := GetTokenMetadataFromContext(c)
	if !ok {
		return "", false
	}
	return meta.ClientID, true
}
