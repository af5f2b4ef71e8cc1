package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/swarm-sync/internal/config"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "swarm-sync-test"

// issuer serves OIDC discovery and a JWKS holding one RSA key.
type issuer struct {
	*httptest.Server
	key *rsa.PrivateKey
}

func startIssuer(t *testing.T) *issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	iss := &issuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                iss.URL,
			"jwks_uri":                              iss.URL + "/keys",
			"authorization_endpoint":                iss.URL + "/auth",
			"token_endpoint":                        iss.URL + "/token",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     testKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Close)
	return iss
}

func (i *issuer) sign(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func (i *issuer) claims(extra jwt.MapClaims) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss": i.URL,
		"sub": "user-1",
		"aud": "swarm-sync",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func TestOIDCBearer(t *testing.T) {
	iss := startIssuer(t)
	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = iss.URL
	cfg.APIKeys = map[string]string{"secret": "bridge"}
	r := newRouterWith(t, &cfg)

	bearer := func(token string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}

	t.Run("preferred username", func(t *testing.T) {
		token := iss.sign(t, iss.key, iss.claims(jwt.MapClaims{"preferred_username": "alice"}))
		rec := do(r, bearer(token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "alice", rec.Body.String())
	})

	t.Run("subject without username", func(t *testing.T) {
		rec := do(r, bearer(iss.sign(t, iss.key, iss.claims(nil))))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("api keys still accepted", func(t *testing.T) {
		rec := do(r, map[string]string{"X-API-Key": "secret"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bridge", rec.Body.String())
	})

	t.Run("rejections", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		for name, token := range map[string]string{
			"expired":      iss.sign(t, iss.key, iss.claims(jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})),
			"other issuer": iss.sign(t, iss.key, iss.claims(jwt.MapClaims{"iss": "https://elsewhere.example"})),
			"unknown key":  iss.sign(t, other, iss.claims(nil)),
		} {
			rec := do(r, bearer(token))
			assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		}
	})
}

func TestNewTokenResolverDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cfg := config.DefaultConfig()
	cfg.OIDCIssuer = srv.URL
	_, err := NewTokenResolver(context.Background(), &cfg)
	require.Error(t, err)
}
