package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/Ehm-Ehs/project-nexus/internal/config"
)

// Provider names.
const (
	ProviderGoogle   = "google"
	ProviderSpotify  = "spotify"
	ProviderPassword = "password"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// ErrMissingCredentials is returned when a provider's client id or secret is not set.
var ErrMissingCredentials = errors.New("missing OAuth client id or secret")

// Provider is an OAuth2 identity provider.
type Provider interface {
	Name() string
	AuthURL(state string) string
	// Exchange completes the redirect callback in r and returns the user it
	// identifies. A user who declined consent yields ErrCancelled.
	Exchange(ctx context.Context, r *http.Request, state string) (ExternalIdentity, error)
}

// Providers indexes the configured providers by name.
type Providers map[string]Provider

// NewProviders builds every provider whose credentials are configured.
func NewProviders(cfg *config.Config) Providers {
	ps := make(Providers)
	if p, err := NewGoogleProvider(cfg.Google, cfg.PublicURL); err == nil {
		ps[p.Name()] = p
	}
	if p, err := NewSpotifyProvider(cfg.Spotify, cfg.PublicURL); err == nil {
		ps[p.Name()] = p
	}
	return ps
}

// Get returns the named provider.
func (ps Providers) Get(name string) (Provider, error) {
	p, ok := ps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the configured provider names in order.
func (ps Providers) Names() []string {
	return slices.Sorted(maps.Keys(ps))
}

// CallbackURL returns the redirect URL registered for a provider.
func CallbackURL(publicURL, provider string) string {
	return strings.TrimSuffix(publicURL, "/") + "/auth/" + provider + "/callback"
}

// GenerateState creates a random state string for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// checkCallback validates the state parameter and the provider's error
// response on a redirect callback.
func checkCallback(r *http.Request, provider, expectedState string) error {
	q := r.URL.Query()
	if expectedState == "" || q.Get("state") != expectedState {
		return ErrStateMismatch
	}
	if errMsg := q.Get("error"); errMsg != "" {
		if errMsg == "access_denied" {
			return ErrCancelled
		}
		return fmt.Errorf("%s auth error: %s", provider, errMsg)
	}
	if q.Get("code") == "" {
		return fmt.Errorf("%s callback missing code", provider)
	}
	return nil
}

// ============================================================================
// Google
// ============================================================================

// GoogleProvider signs users in with Google's OpenID Connect userinfo.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithGoogleEndpoints overrides the OAuth endpoint and userinfo URL.
func WithGoogleEndpoints(endpoint oauth2.Endpoint, userInfoURL string) GoogleOption {
	return func(p *GoogleProvider) {
		p.config.Endpoint = endpoint
		p.userInfoURL = userInfoURL
	}
}

// NewGoogleProvider creates a Google provider. Returns ErrMissingCredentials
// if the client id or secret is empty.
func NewGoogleProvider(cfg config.OAuthConfig, publicURL string, opts ...GoogleOption) (*GoogleProvider, error) {
	if !cfg.Enabled() {
		return nil, ErrMissingCredentials
	}
	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  CallbackURL(publicURL, ProviderGoogle),
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		userInfoURL: googleUserInfoURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

// AuthURL implements Provider.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Exchange implements Provider.
func (p *GoogleProvider) Exchange(ctx context.Context, r *http.Request, state string) (ExternalIdentity, error) {
	if err := checkCallback(r, ProviderGoogle, state); err != nil {
		return ExternalIdentity{}, err
	}

	token, err := p.config.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("exchanging code for token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("creating userinfo request: %w", err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ExternalIdentity{}, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}
	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ExternalIdentity{}, fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.Sub == "" {
		return ExternalIdentity{}, errors.New("userinfo missing subject")
	}

	return ExternalIdentity{
		Provider:    ProviderGoogle,
		Subject:     info.Sub,
		Email:       info.Email,
		DisplayName: info.Name,
	}, nil
}

// ============================================================================
// Spotify
// ============================================================================

// SpotifyProvider signs users in with their Spotify account.
type SpotifyProvider struct {
	auth *spotifyauth.Authenticator
	opts []spotify.ClientOption
}

// NewSpotifyProvider creates a Spotify provider. Returns ErrMissingCredentials
// if the client id or secret is empty.
func NewSpotifyProvider(cfg config.OAuthConfig, publicURL string, opts ...spotify.ClientOption) (*SpotifyProvider, error) {
	if !cfg.Enabled() {
		return nil, ErrMissingCredentials
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(CallbackURL(publicURL, ProviderSpotify)),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPrivate,
			spotifyauth.ScopeUserReadEmail,
		),
	)

	return &SpotifyProvider{auth: auth, opts: opts}, nil
}

// Name implements Provider.
func (p *SpotifyProvider) Name() string { return ProviderSpotify }

// AuthURL implements Provider.
func (p *SpotifyProvider) AuthURL(state string) string {
	return p.auth.AuthURL(state)
}

// Exchange implements Provider.
func (p *SpotifyProvider) Exchange(ctx context.Context, r *http.Request, state string) (ExternalIdentity, error) {
	if err := checkCallback(r, ProviderSpotify, state); err != nil {
		return ExternalIdentity{}, err
	}

	token, err := p.auth.Token(ctx, state, r)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("exchanging code for token: %w", err)
	}

	client := spotify.New(p.auth.Client(ctx, token), p.opts...)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("fetching current user: %w", err)
	}

	name := user.DisplayName
	if name == "" {
		name = user.ID
	}
	return ExternalIdentity{
		Provider:    ProviderSpotify,
		Subject:     user.ID,
		Email:       user.Email,
		DisplayName: name,
	}, nil
}

// Ensure both providers implement Provider.
var (
	_ Provider = (*GoogleProvider)(nil)
	_ Provider = (*SpotifyProvider)(nil)
)
