// Package persist routes favorites, lists and preferences to the remote
// profile documents or the device-local store, depending on whether the
// owning client has an identity.
//
// Reads never fail; they fall back to local data and then to empty values.
// Writes prefer the remote store and fall back to the local store so a change
// is not lost when the remote store is unreachable.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// Document field names.
const (
	fieldFavorites   = "favorites"
	fieldLists       = "lists"
	fieldEmail       = "email"
	fieldDisplayName = "displayName"
)

// ErrNoSession is returned by operations that need an identity.
var ErrNoSession = errors.New("no current session")

// SessionSource reports the identity that owns remote documents.
type SessionSource interface {
	Current() (auth.Identity, bool)
}

// Facade is the single writer of a client's local cache and remote documents.
type Facade struct {
	local   *localstore.Store
	remote  Remote
	session SessionSource
	logger  *slog.Logger
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger used for remote-store failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = l
	}
}

// New creates a Facade. A nil remote keeps all data local.
func New(local *localstore.Store, remote Remote, session SessionSource, opts ...Option) *Facade {
	f := &Facade{
		local:   local,
		remote:  remote,
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Local returns the device store behind the facade.
func (f *Facade) Local() *localstore.Store {
	return f.local
}

// owner returns the uid whose documents should be used, if any.
func (f *Facade) owner() (auth.Identity, bool) {
	if f.remote == nil || f.session == nil {
		return auth.Identity{}, false
	}
	id, ok := f.session.Current()
	if !ok || id.UID == "" {
		return auth.Identity{}, false
	}
	return id, true
}

// Favorites returns the current favorites.
func (f *Facade) Favorites(ctx context.Context) []movies.Movie {
	if id, ok := f.owner(); ok {
		if favs, ok := remoteField[[]movies.Movie](ctx, f, id.UID, ProfileDoc, fieldFavorites); ok {
			return nonNilMovies(favs)
		}
	}
	return nonNilMovies(f.local.Favorites(ctx))
}

// SaveFavorites replaces the favorites.
func (f *Facade) SaveFavorites(ctx context.Context, favs []movies.Movie) error {
	favs = nonNilMovies(favs)
	if id, ok := f.owner(); ok {
		if f.merge(ctx, id.UID, ProfileDoc, map[string]any{fieldFavorites: favs}) {
			return nil
		}
	}
	return f.local.SetFavorites(ctx, favs)
}

// Lists returns the current lists.
func (f *Facade) Lists(ctx context.Context) []movies.MovieList {
	if id, ok := f.owner(); ok {
		if lists, ok := remoteField[[]movies.MovieList](ctx, f, id.UID, ListsDoc, fieldLists); ok {
			return nonNilLists(lists)
		}
	}
	return nonNilLists(f.local.Lists(ctx))
}

// SaveLists replaces the lists collection.
func (f *Facade) SaveLists(ctx context.Context, lists []movies.MovieList) error {
	lists = nonNilLists(lists)
	if id, ok := f.owner(); ok {
		if f.merge(ctx, id.UID, ListsDoc, map[string]any{fieldLists: lists}) {
			return nil
		}
	}
	return f.local.SetLists(ctx, lists)
}

// Preferences returns the current preferences and whether any exist. An
// existing remote profile counts even when it only carries favorites.
func (f *Facade) Preferences(ctx context.Context) (movies.UserPreferences, bool) {
	if id, ok := f.owner(); ok {
		profile, found, err := f.Profile(ctx, id.UID)
		if err == nil && found {
			return profile.UserPreferences, true
		}
	}
	return f.local.Preferences(ctx)
}

// SavePreferences replaces the preferences. Remote writes also record the
// account's email and display name in the profile document.
func (f *Facade) SavePreferences(ctx context.Context, prefs movies.UserPreferences) error {
	prefs = prefs.Normalize()
	if id, ok := f.owner(); ok {
		fields, err := fieldsOf(prefs)
		if err != nil {
			return fmt.Errorf("encoding preferences: %w", err)
		}
		if !id.Anonymous {
			fields[fieldEmail] = id.Email
			fields[fieldDisplayName] = id.DisplayName
		}
		if f.merge(ctx, id.UID, ProfileDoc, fields) {
			return nil
		}
	}
	return f.local.SetPreferences(ctx, prefs)
}

// LocalPreferences reads the device's cached preferences, ignoring the remote
// profile.
func (f *Facade) LocalPreferences(ctx context.Context) (movies.UserPreferences, bool) {
	return f.local.Preferences(ctx)
}

// SaveLocalPreferences writes preferences to the device store only.
func (f *Facade) SaveLocalPreferences(ctx context.Context, prefs movies.UserPreferences) error {
	return f.local.SetPreferences(ctx, prefs)
}

// Profile reads the profile document of uid. Unlike the other reads it
// reports errors, classified with Classify, so callers can tell an unreachable
// store from a missing document.
func (f *Facade) Profile(ctx context.Context, uid string) (movies.Profile, bool, error) {
	if f.remote == nil {
		return movies.Profile{}, false, nil
	}
	fields, found, err := f.remote.Get(ctx, uid, ProfileDoc)
	if err != nil {
		err = Classify(err)
		f.logger.Warn("reading profile", "uid", uid, "error", err)
		return movies.Profile{}, false, err
	}
	if !found {
		return movies.Profile{}, false, nil
	}

	var profile movies.Profile
	if err := decodeFields(fields, &profile); err != nil {
		f.logger.Warn("discarding malformed profile", "uid", uid, "error", err)
		return movies.Profile{}, false, nil
	}
	profile.UserPreferences = profile.UserPreferences.Normalize()
	return profile, true, nil
}

// HydrateFromProfile overwrites the local preference and favorites caches
// with a remote profile and marks onboarding complete.
func (f *Facade) HydrateFromProfile(ctx context.Context, profile movies.Profile) error {
	var errs []error
	if err := f.local.SetPreferences(ctx, profile.UserPreferences); err != nil {
		errs = append(errs, err)
	}
	if profile.Favorites != nil {
		if err := f.local.SetFavorites(ctx, profile.Favorites); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.local.SetOnboardingComplete(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnboardingComplete reports the device's onboarding flag.
func (f *Facade) OnboardingComplete(ctx context.Context) bool {
	return f.local.OnboardingComplete(ctx)
}

// MarkOnboardingComplete sets the device's onboarding flag.
func (f *Facade) MarkOnboardingComplete(ctx context.Context) error {
	return f.local.SetOnboardingComplete(ctx)
}

// MigrateLocalToRemote copies the local favorites into the current identity's
// profile document and then deletes the local copy. The remote favorites field
// is replaced wholesale. It does nothing when no local favorites are stored.
func (f *Facade) MigrateLocalToRemote(ctx context.Context) error {
	id, ok := f.owner()
	if !ok {
		return ErrNoSession
	}
	favs := f.local.Favorites(ctx)
	if favs == nil {
		return nil
	}

	if err := f.remote.Merge(ctx, id.UID, ProfileDoc, map[string]any{fieldFavorites: favs}); err != nil {
		err = Classify(err)
		f.logger.Error("migrating local favorites", "uid", id.UID, "error", err)
		return fmt.Errorf("migrating favorites: %w", err)
	}
	if err := f.local.Remove(ctx, localstore.KeyFavorites); err != nil {
		return fmt.Errorf("clearing local favorites: %w", err)
	}
	f.logger.Info("migrated local favorites", "uid", id.UID, "count", len(favs))
	return nil
}

// remoteField decodes one field of a remote document. It reports false only
// when the document is missing or unreadable. A document without the field,
// or with a malformed one, yields the zero value and still reports true, so
// the caller sees an empty value rather than another account's device cache.
func remoteField[T any](ctx context.Context, f *Facade, uid, docID, field string) (T, bool) {
	var zero T
	fields, found, err := f.remote.Get(ctx, uid, docID)
	if err != nil {
		f.logger.Warn("reading remote document", "uid", uid, "doc", docID, "error", Classify(err))
		return zero, false
	}
	if !found {
		return zero, false
	}
	raw, ok := fields[field]
	if !ok || string(raw) == "null" {
		return zero, true
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		f.logger.Warn("discarding malformed remote field", "uid", uid, "doc", docID, "field", field, "error", err)
		return zero, true
	}
	return v, true
}

// merge writes fields remotely and reports success. Failures are logged.
func (f *Facade) merge(ctx context.Context, uid, docID string, fields map[string]any) bool {
	if err := f.remote.Merge(ctx, uid, docID, fields); err != nil {
		f.logger.Warn("remote write failed, keeping local copy", "uid", uid, "doc", docID, "error", Classify(err))
		return false
	}
	return true
}

// fieldsOf flattens a struct into its top-level JSON fields.
func fieldsOf(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return fields, nil
}

func decodeFields(fields map[string]json.RawMessage, v any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func nonNilMovies(favs []movies.Movie) []movies.Movie {
	if favs == nil {
		return []movies.Movie{}
	}
	return favs
}

func nonNilLists(lists []movies.MovieList) []movies.MovieList {
	if lists == nil {
		return []movies.MovieList{}
	}
	return lists
}
