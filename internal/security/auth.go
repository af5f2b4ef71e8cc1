// Package security resolves callers of the HTTP API.
package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/swarm-sync/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

// ContextKeyClientID is the gin context key for the resolved caller.
const ContextKeyClientID = "clientID"

var (
	errUnauthenticated = errors.New("missing credentials")
	errInvalidAPIKey   = errors.New("invalid API key")
	errInvalidJWT      = errors.New("invalid JWT")
)

// TokenResolver maps API keys and, when an issuer is configured, OIDC bearer
// tokens to caller ids. With neither configured every request is accepted.
type TokenResolver struct {
	verifier *oidc.IDTokenVerifier
	apiKeys  map[string]string
}

// NewTokenResolver performs OIDC discovery once when cfg.OIDCIssuer is set.
func NewTokenResolver(ctx context.Context, cfg *config.Config) (*TokenResolver, error) {
	r := &TokenResolver{apiKeys: cfg.APIKeys}
	if cfg.OIDCIssuer == "" {
		return r, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuer)
	if err != nil {
		return nil, err
	}
	r.verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	log.Info("OIDC auth enabled", "issuer", cfg.OIDCIssuer)
	return r, nil
}

// Enabled reports whether requests need credentials.
func (r *TokenResolver) Enabled() bool {
	return r != nil && (r.verifier != nil || len(r.apiKeys) > 0)
}

// Resolve returns the caller id for an API key or a bearer token.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken, apiKey string) (string, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" && strings.Count(bearerToken, ".") < 2 {
		key = strings.TrimSpace(bearerToken)
	}
	if key != "" {
		if client, ok := r.apiKeys[key]; ok {
			return client, nil
		}
		return "", errInvalidAPIKey
	}
	if bearerToken == "" {
		return "", errUnauthenticated
	}
	if r.verifier == nil {
		return "", errInvalidJWT
	}
	token, err := r.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername, nil
	}
	return claims.Sub, nil
}

// AuthMiddleware rejects requests the resolver cannot identify. It accepts
// X-API-Key or an Authorization bearer token.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !resolver.Enabled() {
			c.Next()
			return
		}
		bearer := ""
		if auth := c.GetHeader("Authorization"); auth != "" {
			bearer = strings.TrimPrefix(auth, "Bearer ")
			if bearer == auth {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
				return
			}
		}
		client, err := resolver.Resolve(c.Request.Context(), bearer, c.GetHeader("X-API-Key"))
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ContextKeyClientID, client)
		c.Next()
	}
}

// GetClientID returns the caller resolved by AuthMiddleware.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}
