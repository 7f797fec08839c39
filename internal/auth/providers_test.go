package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/Ehm-Ehs/project-nexus/internal/config"
)

var testOAuth = config.OAuthConfig{ClientID: "test-client-id", ClientSecret: "test-client-secret"}

func callbackRequest(query string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+query, nil)
}

func TestNewProviders_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OAuthConfig
	}{
		{"both missing", config.OAuthConfig{}},
		{"id missing", config.OAuthConfig{ClientSecret: "secret"}},
		{"secret missing", config.OAuthConfig{ClientID: "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGoogleProvider(tt.cfg, "http://127.0.0.1:8080"); !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("NewGoogleProvider() error = %v, want ErrMissingCredentials", err)
			}
			if _, err := NewSpotifyProvider(tt.cfg, "http://127.0.0.1:8080"); !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("NewSpotifyProvider() error = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestNewProviders_Registry(t *testing.T) {
	ps := NewProviders(&config.Config{PublicURL: "http://127.0.0.1:8080", Spotify: testOAuth})
	if len(ps) != 1 {
		t.Fatalf("providers = %d, want 1", len(ps))
	}
	if _, err := ps.Get(ProviderSpotify); err != nil {
		t.Errorf("Get(spotify) error = %v", err)
	}
	if _, err := ps.Get(ProviderGoogle); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get(google) error = %v, want ErrUnknownProvider", err)
	}

	all := NewProviders(&config.Config{PublicURL: "http://127.0.0.1:8080", Spotify: testOAuth, Google: testOAuth})
	if got := all.Names(); !slices.Equal(got, []string{ProviderGoogle, ProviderSpotify}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestCallbackURL(t *testing.T) {
	if got := CallbackURL("https://movieflix.example/", ProviderGoogle); got != "https://movieflix.example/auth/google/callback" {
		t.Errorf("CallbackURL() = %q", got)
	}
}

func TestAuthURLs(t *testing.T) {
	google, _ := NewGoogleProvider(testOAuth, "http://127.0.0.1:8080")
	spotify, _ := NewSpotifyProvider(testOAuth, "http://127.0.0.1:8080")

	for _, p := range []Provider{google, spotify} {
		u, err := url.Parse(p.AuthURL("abc123"))
		if err != nil {
			t.Fatalf("%s AuthURL() unparsable: %v", p.Name(), err)
		}
		q := u.Query()
		if q.Get("state") != "abc123" || q.Get("client_id") != "test-client-id" {
			t.Errorf("%s AuthURL() query = %v", p.Name(), q)
		}
		if want := CallbackURL("http://127.0.0.1:8080", p.Name()); q.Get("redirect_uri") != want {
			t.Errorf("%s redirect_uri = %q, want %q", p.Name(), q.Get("redirect_uri"), want)
		}
	}
}

func TestExchange_CallbackErrors(t *testing.T) {
	google, _ := NewGoogleProvider(testOAuth, "http://127.0.0.1:8080")
	spotify, _ := NewSpotifyProvider(testOAuth, "http://127.0.0.1:8080")

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"user cancelled", "state=s1&error=access_denied", ErrCancelled},
		{"state mismatch", "state=other&code=c", ErrStateMismatch},
		{"missing state", "code=c", ErrStateMismatch},
	}

	for _, p := range []Provider{google, spotify} {
		for _, tt := range tests {
			t.Run(p.Name()+"/"+tt.name, func(t *testing.T) {
				_, err := p.Exchange(context.Background(), callbackRequest(tt.query), "s1")
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Exchange() error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	}
}

func TestExchange_ProviderError(t *testing.T) {
	google, _ := NewGoogleProvider(testOAuth, "http://127.0.0.1:8080")
	_, err := google.Exchange(context.Background(), callbackRequest("state=s1&error=server_error"), "s1")
	if err == nil || errors.Is(err, ErrCancelled) {
		t.Errorf("Exchange() error = %v, want non-cancel failure", err)
	}
}

func TestGoogleExchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "the-code" {
			t.Errorf("code = %q", r.Form.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"1234","email":"ada@example.com","name":"Ada Lovelace"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := NewGoogleProvider(testOAuth, "http://127.0.0.1:8080", WithGoogleEndpoints(oauth2.Endpoint{
		AuthURL:  server.URL + "/auth",
		TokenURL: server.URL + "/token",
	}, server.URL+"/userinfo"))
	if err != nil {
		t.Fatalf("NewGoogleProvider() error = %v", err)
	}

	ext, err := p.Exchange(context.Background(), callbackRequest("state=s1&code=the-code"), "s1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	want := ExternalIdentity{Provider: ProviderGoogle, Subject: "1234", Email: "ada@example.com", DisplayName: "Ada Lovelace"}
	if ext != want {
		t.Errorf("Exchange() = %+v, want %+v", ext, want)
	}
}

func TestGenerateState(t *testing.T) {
	state1, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}

	if len(state1) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("GenerateState() length = %d, want 32", len(state1))
	}

	state2, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	if state1 == state2 {
		t.Error("GenerateState() returned same value twice")
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ada@example.com", "ada@example.com", false},
		{"  Ada@Example.COM ", "ada@example.com", false},
		{"Ada <ada@example.com>", "", true},
		{"nope", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := normalizeEmail(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("normalizeEmail(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("hunter22")
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}
	if strings.Contains(string(hash), "hunter22") {
		t.Error("hash contains plaintext")
	}
	if err := checkPassword(hash, "hunter22"); err != nil {
		t.Errorf("checkPassword(correct) error = %v", err)
	}
	if err := checkPassword(hash, "hunter23"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("checkPassword(wrong) error = %v", err)
	}
}
