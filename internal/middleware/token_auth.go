package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
	"github.com/SscSPs/bearer_gate/internal/utils"
	"github.com/gin-gonic/gin"
)

// DefaultRealm is advertised in WWW-Authenticate when none is configured.
const DefaultRealm = "Bearer Gate API"

// Client-facing rejection messages. Expired and revoked share the invalid
// message so callers cannot probe token state.
const (
	msgMissingHeader   = "Missing Authorization header"
	msgMalformedHeader = "Invalid Authorization header format. Expected: Bearer <token>"
	msgInvalidToken    = "Invalid or expired token"
)

// TokenAuthConfig wires the bearer authentication middleware.
type TokenAuthConfig struct {
	TokenSvc portssvc.TokenSvc
	// Usage receives the credential after a successful check. Optional.
	Usage   portssvc.UsageRecorder
	Realm   string
	Metrics *metrics.Metrics
}

// TokenAuth creates a Gin middleware that requires a valid bearer token on
// every request except CORS preflights.
func TokenAuth(cfg TokenAuthConfig) gin.HandlerFunc {
	realm := cfg.Realm
	if realm == "" {
		realm = DefaultRealm
	}
	challenge := fmt.Sprintf("Bearer realm=%q", realm)

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		logger := GetLoggerFromContext(c)

		raw, err := extractBearerToken(c.GetHeader("Authorization"))
		if err == nil {
			meta, verr := cfg.TokenSvc.Validate(c.Request.Context(), raw)
			if verr == nil {
				cfg.Metrics.ObserveAuth(metrics.OutcomeOK)

				c.Set(string(tokenMetadataKey), meta)
				ctx := ContextWithTokenMetadata(c.Request.Context(), meta)
				c.Request = c.Request.WithContext(ctx)
				setRequestLogger(c, logger.With(slog.String("client_id", meta.ClientID)))

				if cfg.Usage != nil {
					cfg.Usage.Record(raw)
				}
				c.Next()
				return
			}
			err = verr
		}

		outcome, message := classify(err)
		cfg.Metrics.ObserveAuth(outcome)
		level := slog.LevelDebug
		if !apperrors.IsAuthFailure(err) {
			// Not the caller's fault; the lookup itself broke.
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "Authentication failed",
			slog.String("reason", outcome),
			slog.String("token", utils.TruncateToken(raw)),
			slog.String("error", err.Error()))

		c.Header("WWW-Authenticate", challenge)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
	}
}

// extractBearerToken parses "Bearer <token>". The scheme is case-insensitive
// and exactly one credential must follow it.
func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.ErrMissingHeader
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apperrors.ErrMalformedHeader
	}
	return parts[1], nil
}

// classify maps an authentication error to its metric label and response message.
func classify(err error) (outcome, message string) {
	switch {
	case errors.Is(err, apperrors.ErrMissingHeader):
		return metrics.OutcomeMissing, msgMissingHeader
	case errors.Is(err, apperrors.ErrMalformedHeader):
		return metrics.OutcomeMalformed, msgMalformedHeader
	case errors.Is(err, apperrors.ErrRevokedToken):
		return metrics.OutcomeRevoked, msgInvalidToken
	case errors.Is(err, apperrors.ErrExpiredToken):
		return metrics.OutcomeExpired, msgInvalidToken
	default:
		return metrics.OutcomeInvalid, msgInvalidToken
	}
}
