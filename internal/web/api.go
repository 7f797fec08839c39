package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/home"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/onboarding"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// pageParam reads ?page, defaulting to 1.
func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// MeResponse describes the device's session.
type MeResponse struct {
	State    string         `json:"state"`
	Identity *auth.Identity `json:"identity,omitempty"`
}

// Me returns the current identity (GET /api/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	if _, _, err := c.Auth.Await(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	resp := MeResponse{State: c.Auth.State().String()}
	if id, ok := c.Auth.Current(); ok {
		resp.Identity = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

// HomeResponse is the home screen state plus pending notifications.
type HomeResponse struct {
	Home          home.Snapshot       `json:"home"`
	Notifications []home.Notification `json:"notifications"`
}

// APIHome settles the session and returns the home screen (GET /api/home).
func (h *Handlers) APIHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	snap, err := c.Home.Settle(ctx)
	syncSessionCookie(w, r, c)
	if err != nil {
		h.logger.Warn("settling home", "device", c.DeviceID, "error", err)
	}
	writeJSON(w, http.StatusOK, HomeResponse{Home: snap, Notifications: c.Inbox.Drain()})
}

// APIRefresh refetches recommendations and trending (POST /api/home/refresh).
func (h *Handlers) APIRefresh(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())
	snap := c.Home.Refresh(r.Context())
	writeJSON(w, http.StatusOK, HomeResponse{Home: snap, Notifications: c.Inbox.Drain()})
}

// OnboardingResponse is the wizard state with the option catalogs.
type OnboardingResponse struct {
	State        onboarding.State    `json:"state"`
	Moods        []onboarding.Option `json:"moods"`
	Languages    []string            `json:"languages"`
	Countries    []string            `json:"countries"`
	ContentFlags []onboarding.Option `json:"contentFlags"`
}

// APIOnboarding returns the wizard (GET /api/onboarding).
func (h *Handlers) APIOnboarding(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())
	writeJSON(w, http.StatusOK, OnboardingResponse{
		State:        c.Wizard.State(),
		Moods:        onboarding.Moods,
		Languages:    onboarding.Languages,
		Countries:    onboarding.Countries,
		ContentFlags: onboarding.ContentFlags,
	})
}

// APICandidates returns titles to rate on the second step (GET /api/onboarding/candidates).
func (h *Handlers) APICandidates(w http.ResponseWriter, r *http.Request) {
	page, err := h.catalog.PopularMovies(r.Context(), pageParam(r))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type toggleRequest struct {
	Choice onboarding.Choice `json:"choice"`
	Value  string            `json:"value"`
}

// APIOnboardingToggle flips one wizard selection (POST /api/onboarding/toggle).
func (h *Handlers) APIOnboardingToggle(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())

	var req toggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := c.Wizard.Toggle(req.Choice, req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// NextResponse is the outcome of advancing the wizard.
type NextResponse struct {
	Done  bool             `json:"done"`
	State onboarding.State `json:"state"`
	Home  *home.Snapshot   `json:"home,omitempty"`
}

// APIOnboardingNext advances the wizard, completing onboarding on the last
// step (POST /api/onboarding/next).
func (h *Handlers) APIOnboardingNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	done, snap, err := h.advance(ctx, c)
	switch {
	case errors.Is(err, onboarding.ErrIncompleteStep):
		writeError(w, http.StatusUnprocessableEntity, incompleteMessage(c.Wizard.State()))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to advance onboarding")
		return
	}

	resp := NextResponse{Done: done, State: c.Wizard.State()}
	if done {
		resp.Home = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// APIOnboardingBack returns to the previous step (POST /api/onboarding/back).
func (h *Handlers) APIOnboardingBack(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())
	writeJSON(w, http.StatusOK, c.Wizard.Back())
}

// APIFavorites lists favorites (GET /api/favorites).
func (h *Handlers) APIFavorites(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())
	writeJSON(w, http.StatusOK, c.Favorites.List(r.Context()))
}

type favoriteRequest struct {
	Movie  *movies.Movie `json:"movie,omitempty"`
	TMDBID int           `json:"tmdbId,omitempty"`
}

// FavoriteResponse reports the toggled movie's membership and the new list.
type FavoriteResponse struct {
	Favorite  bool           `json:"favorite"`
	Favorites []movies.Movie `json:"favorites"`
}

// APIToggleFavorite adds or removes a movie (POST /api/favorites/toggle). The
// body carries either the movie itself or its TMDB id.
func (h *Handlers) APIToggleFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	var req favoriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	movie := req.Movie
	if movie == nil {
		if req.TMDBID <= 0 {
			writeError(w, http.StatusBadRequest, "movie or tmdbId is required")
			return
		}
		m, err := h.details.MovieDetails(ctx, req.TMDBID)
		if err != nil {
			writeCatalogError(w, err)
			return
		}
		movie = m
	}

	added, favs, err := c.Favorites.Toggle(ctx, *movie)
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FavoriteResponse{Favorite: added, Favorites: favs})
}

// APILists returns every list (GET /api/lists).
func (h *Handlers) APILists(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r.Context())
	writeJSON(w, http.StatusOK, c.Lists.All(r.Context()))
}

type createListRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsPublic    bool     `json:"isPublic"`
	MovieIDs    []string `json:"movieIds"`
}

// APICreateList creates a list (POST /api/lists).
func (h *Handlers) APICreateList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	var req createListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := c.Lists.Create(ctx, req.Name, req.Description, req.IsPublic, req.MovieIDs)
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// APIGetList returns one list (GET /api/lists/{id}).
func (h *Handlers) APIGetList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := listID(w, r)
	if !ok {
		return
	}
	list, err := clientFrom(ctx).Lists.Get(ctx, id)
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// APIUpdateList merges the given fields into a list (PATCH /api/lists/{id}).
func (h *Handlers) APIUpdateList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := listID(w, r)
	if !ok {
		return
	}
	var u movies.ListUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	list, err := clientFrom(ctx).Lists.Update(ctx, id, u)
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// APIDeleteList removes a list (DELETE /api/lists/{id}).
func (h *Handlers) APIDeleteList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := listID(w, r)
	if !ok {
		return
	}
	if err := clientFrom(ctx).Lists.Delete(ctx, id); err != nil {
		writeLibraryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addMovieRequest struct {
	MovieID string `json:"movieId"`
}

// APIAddToList appends a movie to a list (POST /api/lists/{id}/movies).
func (h *Handlers) APIAddToList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := listID(w, r)
	if !ok {
		return
	}
	var req addMovieRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := clientFrom(ctx).Lists.AddMovie(ctx, id, strings.TrimSpace(req.MovieID))
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// APIRemoveFromList drops a movie from a list (DELETE /api/lists/{id}/movies/{movieID}).
func (h *Handlers) APIRemoveFromList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := listID(w, r)
	if !ok {
		return
	}
	list, err := clientFrom(ctx).Lists.RemoveMovie(ctx, id, chi.URLParam(r, "movieID"))
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func listID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid list id")
		return uuid.Nil, false
	}
	return id, true
}

func writeLibraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrListNotFound):
		writeError(w, http.StatusNotFound, "list not found")
	case errors.Is(err, library.ErrEmptyName), errors.Is(err, library.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to save")
	}
}

// APIProfile summarizes the user's taste (GET /api/profile).
func (h *Handlers) APIProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := clientFrom(ctx)

	prefs, ok := c.Store.Preferences(ctx)
	if !ok {
		writeError(w, http.StatusNotFound, "no preferences yet")
		return
	}
	profile, err := h.profiles.Build(ctx, prefs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// APISearch searches movies by title (GET /api/search?q=).
func (h *Handlers) APISearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	page, err := h.catalog.SearchMovies(r.Context(), q, pageParam(r))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tmdb.ErrNotFound):
		writeError(w, http.StatusNotFound, "movie not found")
	case errors.Is(err, tmdb.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "metadata provider rate limited")
	case errors.Is(err, tmdb.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "metadata provider not configured")
	default:
		writeError(w, http.StatusBadGateway, "metadata provider unavailable")
	}
}
