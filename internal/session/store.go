// Package session implements server-side sessions for the OAuth web
// flow.  Session payloads live in the database; the browser only holds
// an opaque id inside a signed cookie, so a stolen cookie value cannot
// be forged or decoded.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/repository"
)

// CookieName is the session cookie issued after a completed login.
const CookieName = "clubsync_session"

// ErrNoSession is returned when the request carries no valid session:
// missing cookie, bad signature, or an expired/deleted server row.
var ErrNoSession = errors.New("no active session")

// Data is what a session row stores.
type Data struct {
	Username  string `json:"username"`
	DiscordID string `json:"discord_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Store issues and resolves sessions.
type Store struct {
	repo   *repository.SessionRepo
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
}

// NewStore builds a Store.  secret signs the cookie; secure controls the
// cookie Secure flag and should be true outside local development.
func NewStore(repo *repository.SessionRepo, secret []byte, ttl time.Duration, secure bool) *Store {
	codec := securecookie.New(secret, nil)
	codec.MaxAge(int(ttl.Seconds()))
	return &Store{repo: repo, codec: codec, ttl: ttl, secure: secure}
}

// Issue creates a session row and writes the signed cookie onto w.
func (s *Store) Issue(ctx context.Context, w http.ResponseWriter, data Data) error {
	id, err := newSessionID()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	expires := time.Now().Add(s.ttl)
	if err := s.repo.Create(ctx, model.Session{ID: id, Data: payload, ExpiresAt: expires}); err != nil {
		return err
	}
	encoded, err := s.codec.Encode(CookieName, id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Get resolves the session carried by r, if any.
func (s *Store) Get(r *http.Request) (Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Data{}, ErrNoSession
	}
	var id string
	if err := s.codec.Decode(CookieName, cookie.Value, &id); err != nil {
		return Data{}, ErrNoSession
	}
	sess, err := s.repo.Get(r.Context(), id, time.Now())
	if errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, sql.ErrNoRows) {
		return Data{}, ErrNoSession
	}
	if err != nil {
		return Data{}, err
	}
	var data Data
	if err := json.Unmarshal(sess.Data, &data); err != nil {
		return Data{}, ErrNoSession
	}
	return data, nil
}

// Clear deletes the server-side row and expires the cookie.  A request
// without a session is not an error.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(CookieName); err == nil {
		var id string
		if err := s.codec.Decode(CookieName, cookie.Value, &id); err == nil {
			if err := s.repo.Delete(r.Context(), id); err != nil {
				return err
			}
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// newSessionID returns 32 random bytes as 43 url-safe characters,
// matching the sessions.id column width.
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
