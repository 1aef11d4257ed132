package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksDoc(kid string, pub *rsa.PublicKey) []byte {
	doc := map[string]interface{}{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	buf, _ := json.Marshal(doc)
	return buf
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

// providerStub serves the JWKS document and the management API from one
// httptest server.
func providerStub(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwksDoc(kid, pub))
	})
	mux.HandleFunc("/v1/users/user_42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"primary_email_address_id": "em_2",
			"email_addresses": [
				{"id": "em_1", "email_address": "old@example.com"},
				{"id": "em_2", "email_address": "alice@example.com"}
			]
		}`))
	})
	return httptest.NewServer(mux)
}

func newTestVerifier(srv *httptest.Server) *Verifier {
	v := NewVerifier(srv.URL, "sk_test")
	v.httpc = srv.Client()
	return v
}

func TestVerifyTokenWithEmailClaim(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := providerStub(t, "key-1", &key.PublicKey)
	defer srv.Close()

	raw := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":   "user_42",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	claims, err := newTestVerifier(srv).Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user_42", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestVerifyResolvesEmailViaManagementAPI(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := providerStub(t, "key-1", &key.PublicKey)
	defer srv.Close()

	raw := signToken(t, key, "key-1", jwt.MapClaims{
		"sub": "user_42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := newTestVerifier(srv).Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email, "primary address wins over older ones")
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := providerStub(t, "key-1", &key.PublicKey)
	defer srv.Close()

	raw := signToken(t, key, "key-1", jwt.MapClaims{
		"sub": "user_42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = newTestVerifier(srv).Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	trusted, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	attacker, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := providerStub(t, "key-1", &trusted.PublicKey)
	defer srv.Close()

	raw := signToken(t, attacker, "key-1", jwt.MapClaims{
		"sub": "user_42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = newTestVerifier(srv).Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := providerStub(t, "key-1", &key.PublicKey)
	defer srv.Close()

	raw := signToken(t, key, "key-other", jwt.MapClaims{
		"sub": "user_42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = newTestVerifier(srv).Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestKeyForCachesAcrossCalls(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fetches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_, _ = w.Write(jwksDoc("key-1", &key.PublicKey))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := newTestVerifier(srv)
	for i := 0; i < 3; i++ {
		raw := signToken(t, key, "key-1", jwt.MapClaims{
			"sub":   "user_42",
			"email": "alice@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fetches, "a warm cache must not refetch the JWKS")
}

func TestStaleKeysServeWhenProviderIsDown(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	up := true
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(jwksDoc("key-1", &key.PublicKey))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	v := newTestVerifier(srv)
	raw := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":   "user_42",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), raw)
	require.NoError(t, err)

	// force a refresh attempt against a dead provider
	up = false
	v.mu.Lock()
	v.fetched = time.Now().Add(-time.Hour)
	v.mu.Unlock()

	_, err = v.Verify(context.Background(), raw)
	assert.NoError(t, err, "cached keys must keep verifying while the JWKS endpoint is down")
}
