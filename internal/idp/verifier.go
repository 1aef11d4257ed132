// Package idp verifies session tokens minted by the external hosted
// identity provider used by the member portal.  Tokens are RS256 JWTs;
// the signing keys are published as a JWKS document and cached here.
package idp

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// unknown key, expired token.  Callers treat them all as 401.
var ErrInvalidToken = errors.New("invalid provider token")

const jwksRefreshInterval = 15 * time.Minute

// Verifier checks provider-issued JWTs and resolves the subject to an
// email address via the provider's management API.
type Verifier struct {
	apiBase   string
	jwksURL   string
	secretKey string
	httpc     *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// NewVerifier builds a Verifier against the provider instance rooted at
// apiBase.  secretKey authenticates management-API calls.
func NewVerifier(apiBase, secretKey string) *Verifier {
	return &Verifier{
		apiBase:   apiBase,
		jwksURL:   apiBase + "/.well-known/jwks.json",
		secretKey: secretKey,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		keys:      map[string]*rsa.PublicKey{},
	}
}

// Claims is the subset of the provider token we act on.
type Claims struct {
	Subject string
	Email   string
}

// Verify parses and verifies a provider session token.  When the token
// itself carries no email claim the management API is consulted.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	tok, err := parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keyFor(ctx, kid)
	})
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, _ := mc["sub"].(string)
	if sub == "" {
		return Claims{}, ErrInvalidToken
	}
	email, _ := mc["email"].(string)
	if email == "" {
		email, err = v.lookupEmail(ctx, sub)
		if err != nil {
			return Claims{}, fmt.Errorf("resolve provider user %s: %w", sub, err)
		}
	}
	return Claims{Subject: sub, Email: email}, nil
}

// keyFor returns the cached key for kid, refreshing the JWKS when the
// kid is unknown or the cache is stale.  Key rotation therefore costs
// one extra fetch, not an outage.
func (v *Verifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	fresh := time.Since(v.fetched) < jwksRefreshInterval
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key with kid %q", kid)
	}
	return key, nil
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := jwkToRSA(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks document contained no usable keys")
	}
	v.mu.Lock()
	v.keys = keys
	v.fetched = time.Now()
	v.mu.Unlock()
	return nil
}

func jwkToRSA(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// lookupEmail fetches the user's primary email through the management
// API using the instance secret.
func (v *Verifier) lookupEmail(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiBase+"/v1/users/"+userID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+v.secretKey)
	resp, err := v.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider user lookup: status %d", resp.StatusCode)
	}
	var u struct {
		PrimaryEmailID string `json:"primary_email_address_id"`
		Emails         []struct {
			ID      string `json:"id"`
			Address string `json:"email_address"`
		} `json:"email_addresses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return "", err
	}
	for _, e := range u.Emails {
		if e.ID == u.PrimaryEmailID {
			return e.Address, nil
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Address, nil
	}
	return "", errors.New("provider user has no email address")
}
