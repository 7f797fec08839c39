package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/home"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/onboarding"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
)

// Catalog is the part of the metadata provider the pages browse directly.
type Catalog interface {
	PopularMovies(ctx context.Context, page int) (*tmdb.Page, error)
	SearchMovies(ctx context.Context, query string, page int) (*tmdb.Page, error)
}

var _ Catalog = (*tmdb.Client)(nil)

// HandlerDeps are the collaborators of Handlers.
type HandlerDeps struct {
	Templates *Templates
	Providers auth.Providers
	Catalog   Catalog
	Profiles  *library.ProfileBuilder
	Details   library.DetailsFetcher
	Logger    *slog.Logger
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	templates *Templates
	providers auth.Providers
	catalog   Catalog
	profiles  *library.ProfileBuilder
	details   library.DetailsFetcher
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps HandlerDeps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{
		templates: deps.Templates,
		providers: deps.Providers,
		catalog:   deps.Catalog,
		profiles:  deps.Profiles,
		details:   deps.Details,
		logger:    deps.Logger,
	}
}

// Health reports liveness (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Home renders the home page (GET /). Visitors who still need onboarding
// are sent to the wizard.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	snap, err := c.Home.Settle(ctx)
	syncSessionCookie(w, r, c)
	if err != nil {
		h.logger.Warn("settling home", "device", c.DeviceID, "error", err)
	}
	if snap.ShowOnboarding {
		http.Redirect(w, r, "/onboarding", http.StatusSeeOther)
		return
	}

	tab := r.URL.Query().Get("tab")
	if !slices.Contains(homeTabs, tab) {
		tab = tabTrending
	}

	data := HomePageData{
		PageData:  h.pageData(r, c, "MovieFlix"),
		Tab:       tab,
		Tabs:      homeTabs,
		Home:      snap,
		Favorites: c.Favorites.List(ctx),
		Lists:     c.Lists.All(ctx),
	}

	switch tab {
	case tabTrending, tabRecommended:
		// Without personalized results the page still shows something.
		if (tab == tabTrending && len(snap.Trending.Movies) == 0) ||
			(tab == tabRecommended && len(snap.Recommended.Movies) == 0) {
			data.Popular = h.popular(ctx, 1)
		}
	case tabProfile:
		if prefs, ok := c.Store.Preferences(ctx); ok {
			profile, err := h.profiles.Build(ctx, prefs)
			if err != nil {
				h.logger.Warn("building taste profile", "device", c.DeviceID, "error", err)
			} else {
				data.Profile = &profile
			}
		}
	}

	h.render(w, "home", data)
}

// OnboardingPage renders the wizard (GET /onboarding).
func (h *Handlers) OnboardingPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	if _, err := c.Home.Settle(ctx); err != nil {
		h.logger.Warn("settling home", "device", c.DeviceID, "error", err)
	}
	syncSessionCookie(w, r, c)

	state := c.Wizard.State()
	data := OnboardingPageData{
		PageData:     h.pageData(r, c, "Welcome to MovieFlix"),
		State:        state,
		StepCount:    onboarding.StepCount,
		MinRated:     onboarding.MinRatedTitles,
		Moods:        onboarding.Moods,
		Languages:    onboarding.Languages,
		Countries:    onboarding.Countries,
		ContentFlags: onboarding.ContentFlags,
	}
	if state.Step == onboarding.StepTitles {
		data.Candidates = h.popular(ctx, 1)
		if len(data.Candidates) > candidateLimit {
			data.Candidates = data.Candidates[:candidateLimit]
		}
	}

	h.render(w, "onboarding", data)
}

// OnboardingForm handles the wizard's form posts (POST /onboarding/{action}).
func (h *Handlers) OnboardingForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	switch chi.URLParam(r, "action") {
	case "toggle":
		choice := onboarding.Choice(r.PostFormValue("choice"))
		if _, err := c.Wizard.Toggle(choice, r.PostFormValue("value")); err != nil {
			h.logger.Debug("rejected onboarding choice", "choice", choice, "error", err)
		}
	case "next":
		done, _, err := h.advance(ctx, c)
		if errors.Is(err, onboarding.ErrIncompleteStep) {
			c.Inbox.Notify(home.Notification{Level: home.LevelError, Message: incompleteMessage(c.Wizard.State())})
		}
		if done {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	case "back":
		c.Wizard.Back()
	default:
		http.NotFound(w, r)
		return
	}

	http.Redirect(w, r, "/onboarding", http.StatusSeeOther)
}

// advance moves the wizard forward, completing onboarding on the last step.
func (h *Handlers) advance(ctx context.Context, c *Client) (bool, home.Snapshot, error) {
	prefs, done, err := c.Wizard.Next()
	if err != nil || !done {
		return false, home.Snapshot{}, err
	}

	snap, err := c.Home.CompleteOnboarding(ctx, prefs)
	if err != nil {
		h.logger.Error("completing onboarding", "device", c.DeviceID, "error", err)
	}
	c.Wizard.Reset()
	return true, snap, nil
}

func incompleteMessage(s onboarding.State) string {
	if s.Step == onboarding.StepMoods {
		return "Pick at least one mood"
	}
	return "Rate at least 5 movies to continue"
}

// Login starts a provider's OAuth flow (GET /auth/{provider}/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}
	setCookie(w, stateCookieName, state, stateCookieTTL)

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback completes a provider's OAuth flow (GET /auth/{provider}/callback).
// An anonymous visitor is upgraded in place; otherwise the device signs in
// as the provider's user. Failures are reported as notifications.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var expected string
	if cookie, err := r.Cookie(stateCookieName); err == nil {
		expected = cookie.Value
	}
	clearCookie(w, stateCookieName)

	ext, err := p.Exchange(ctx, r, expected)
	if err != nil {
		h.notifyAuthError(c, p.Name(), err)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if _, _, err := c.Auth.Await(ctx); err != nil {
		http.Error(w, "Session unavailable", http.StatusServiceUnavailable)
		return
	}
	id, err := c.Auth.SignInWithProvider(ctx, ext)
	if err != nil {
		h.notifyAuthError(c, p.Name(), err)
	} else {
		c.Inbox.Notify(home.Notification{Level: home.LevelSuccess, Message: "Signed in as " + displayName(id)})
	}

	syncSessionCookie(w, r, c)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) notifyAuthError(c *Client, provider string, err error) {
	msg := "Sign-in failed. Please try again."
	switch {
	case errors.Is(err, auth.ErrCancelled):
		msg = "Sign-in cancelled"
	case errors.Is(err, auth.ErrCredentialInUse):
		msg = "That account is already linked to another user"
	default:
		h.logger.Warn("provider sign-in", "device", c.DeviceID, "provider", provider, "error", err)
	}
	c.Inbox.Notify(home.Notification{Level: home.LevelError, Message: msg})
}

func displayName(id auth.Identity) string {
	switch {
	case id.DisplayName != "":
		return id.DisplayName
	case id.Email != "":
		return id.Email
	default:
		return id.UID
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LinkEmail attaches email/password credentials to the current identity
// (POST /auth/link-email).
func (h *Handlers) LinkEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, _, err := c.Auth.Await(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	id, err := c.Auth.LinkEmailPassword(ctx, req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	syncSessionCookie(w, r, c)
	writeJSON(w, http.StatusOK, id)
}

// LoginEmail signs in with email/password credentials (POST /auth/login-email).
func (h *Handlers) LoginEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, _, err := c.Auth.Await(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	id, err := c.Auth.SignInWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	syncSessionCookie(w, r, c)
	writeJSON(w, http.StatusOK, id)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNoSession):
		writeError(w, http.StatusConflict, "no current session")
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrCredentialInUse), errors.Is(err, auth.ErrAlreadyLinked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "authentication failed")
	}
}

// Logout ends the session and redirects to home (POST /auth/logout). The next
// page load starts a fresh anonymous session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	if err := c.Auth.SignOut(ctx); err != nil {
		h.logger.Warn("signing out", "device", c.DeviceID, "error", err)
	}
	c.Wizard.Reset()

	clearCookie(w, sessionCookieName)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) pageData(r *http.Request, c *Client, title string) PageData {
	pd := PageData{
		Title:         title,
		Notifications: c.Inbox.Drain(),
		CurrentPath:   r.URL.Path,
		Providers:     h.providers.Names(),
	}
	if id, ok := c.Auth.Current(); ok {
		pd.Identity = &id
	}
	return pd
}

// popular returns a page of popular movies, or nil when the provider fails.
func (h *Handlers) popular(ctx context.Context, page int) []movies.Movie {
	p, err := h.catalog.PopularMovies(ctx, page)
	if err != nil {
		h.logger.Warn("fetching popular movies", "error", err)
		return nil
	}
	return p.Results
}

func (h *Handlers) render(w http.ResponseWriter, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Render(w, page, data); err != nil {
		h.logger.Error("rendering template", "page", page, "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}
