package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// Keys within a device namespace.
const (
	KeyOnboardingComplete = "onboardingComplete"
	KeyUserPreferences    = "userPreferences"
	KeyFavorites          = "favorites"
	KeyLists              = "lists"
)

const (
	keyPrefix       = "movieflix"
	envelopeVersion = 1
)

// envelope wraps every stored value so the encoding can evolve.
// Values written before envelopes existed are bare JSON and are still read.
type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// Store is the local preference store of one device.
//
// Reads never fail: missing, unreadable or corrupt values resolve to "absent"
// and the problem is logged. Writes return errors.
type Store struct {
	kv     KV
	device string
	logger *slog.Logger
}

// NewStore creates a Store for deviceID on kv.
func NewStore(kv KV, deviceID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, device: deviceID, logger: logger}
}

// DeviceID returns the device the store is scoped to.
func (s *Store) DeviceID() string {
	return s.device
}

// Key returns the namespaced KV key for name.
func (s *Store) Key(name string) string {
	return keyPrefix + ":" + s.device + ":" + name
}

// Favorites returns the device's favorites, or nil when none are stored.
func (s *Store) Favorites(ctx context.Context) []movies.Movie {
	favs, _ := read[[]movies.Movie](ctx, s, KeyFavorites)
	return favs
}

// SetFavorites replaces the device's favorites.
func (s *Store) SetFavorites(ctx context.Context, favs []movies.Movie) error {
	if favs == nil {
		favs = []movies.Movie{}
	}
	return write(ctx, s, KeyFavorites, favs)
}

// Lists returns the device's lists, or nil when none are stored.
func (s *Store) Lists(ctx context.Context) []movies.MovieList {
	lists, _ := read[[]movies.MovieList](ctx, s, KeyLists)
	return lists
}

// SetLists replaces the device's lists.
func (s *Store) SetLists(ctx context.Context, lists []movies.MovieList) error {
	if lists == nil {
		lists = []movies.MovieList{}
	}
	return write(ctx, s, KeyLists, lists)
}

// Preferences returns the device's preferences, normalized to the current
// schema, and whether any were stored.
func (s *Store) Preferences(ctx context.Context) (movies.UserPreferences, bool) {
	prefs, ok := read[movies.UserPreferences](ctx, s, KeyUserPreferences)
	if !ok {
		return movies.UserPreferences{}, false
	}
	return prefs.Normalize(), true
}

// SetPreferences replaces the device's preferences.
func (s *Store) SetPreferences(ctx context.Context, prefs movies.UserPreferences) error {
	return write(ctx, s, KeyUserPreferences, prefs.Normalize())
}

// OnboardingComplete reports whether the device finished onboarding.
// Older clients stored the string "true"; both forms are accepted.
func (s *Store) OnboardingComplete(ctx context.Context) bool {
	raw, ok := s.raw(ctx, KeyOnboardingComplete)
	if !ok {
		return false
	}
	var done bool
	if err := decode(raw, &done); err == nil {
		return done
	}
	var legacy string
	if err := decode(raw, &legacy); err == nil {
		return legacy == "true"
	}
	return string(raw) == "true"
}

// SetOnboardingComplete marks onboarding as finished on this device.
func (s *Store) SetOnboardingComplete(ctx context.Context) error {
	return write(ctx, s, KeyOnboardingComplete, true)
}

// Remove deletes the named values from the device namespace.
func (s *Store) Remove(ctx context.Context, names ...string) error {
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = s.Key(name)
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("removing %v: %w", names, err)
	}
	return nil
}

func (s *Store) raw(ctx context.Context, name string) ([]byte, bool) {
	raw, err := s.kv.Get(ctx, s.Key(name))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("reading local value", "device", s.device, "key", name, "error", err)
		}
		return nil, false
	}
	return raw, true
}

func read[T any](ctx context.Context, s *Store, name string) (T, bool) {
	var v T
	raw, ok := s.raw(ctx, name)
	if !ok {
		return v, false
	}
	if err := decode(raw, &v); err != nil {
		s.logger.Warn("discarding corrupt local value", "device", s.device, "key", name, "error", err)
		var zero T
		return zero, false
	}
	return v, true
}

func write(ctx context.Context, s *Store, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	raw, err := json.Marshal(envelope{V: envelopeVersion, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s envelope: %w", name, err)
	}
	if err := s.kv.Set(ctx, s.Key(name), raw, 0); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func decode(raw []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.V > 0 && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, v)
	}
	return json.Unmarshal(raw, v)
}
