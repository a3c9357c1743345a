package handlers

import (
	"net/http"
	"time"

	"github.com/SscSPs/bearer_gate/internal/middleware"
	"github.com/gin-gonic/gin"
)

// WhoAmIResponse is the caller's non-secret identity.
type WhoAmIResponse struct {
	ClientID  string     `json:"clientId"`
	TokenID   string     `json:"tokenId"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// registerWhoAmIRoutes registers the identity echo route
func registerWhoAmIRoutes(group *gin.RouterGroup) {
	group.GET("/whoami", getWhoAmI)
}

// getWhoAmI returns the identity the auth middleware attached to the request
func getWhoAmI(c *gin.Context) {
	meta, ok := middleware.GetTokenMetadataFromContext(c)
	if !ok {
		middleware.GetLoggerFromContext(c).Error("whoami reached without an authenticated identity")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, WhoAmIResponse{
		ClientID:  meta.ClientID,
		TokenID:   meta.TokenHash,
		IssuedAt:  meta.IssuedAt,
		ExpiresAt: meta.ExpiresAt,
	})
}
