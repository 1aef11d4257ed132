package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Endpoint is Discord's OAuth2 endpoint pair.  Discord accepts
// credentials in the POST body, not basic auth.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/v10/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// OAuthConfig builds the authorization-code flow config used by the
// login handlers.  The identify scope yields the user record; guilds is
// unused today but kept so existing consent grants stay valid.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"identify", "guilds"},
		Endpoint:     Endpoint,
	}
}

// Identity is the OAuth user's own account record.
type Identity struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Email      string `json:"email"`
}

// DisplayName prefers the global display name over the account name.
func (id Identity) DisplayName() string {
	if id.GlobalName != "" {
		return id.GlobalName
	}
	return id.Username
}

// FetchIdentity exchanges nothing; it uses an already-exchanged token to
// read /users/@me on the user's behalf.
func FetchIdentity(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token) (Identity, error) {
	client := conf.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaultBaseURL+"/users/@me", nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("discord identity: status %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, err
	}
	return id, nil
}
