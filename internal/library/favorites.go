// Package library manages a client's favorites and lists on top of the
// persistence facade, and builds the taste profile shown on the profile tab.
package library

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/persist"
)

// Store is the persistence the library reads and writes through.
type Store interface {
	Favorites(ctx context.Context) []movies.Movie
	SaveFavorites(ctx context.Context, favs []movies.Movie) error
	Lists(ctx context.Context) []movies.MovieList
	SaveLists(ctx context.Context, lists []movies.MovieList) error
}

var _ Store = (*persist.Facade)(nil)

// Favorites toggles movies in and out of the favorites set.
type Favorites struct {
	store Store
	// mu serializes read-modify-write cycles from concurrent requests.
	mu sync.Mutex
}

// NewFavorites creates a Favorites backed by store.
func NewFavorites(store Store) *Favorites {
	return &Favorites{store: store}
}

// List returns the favorites in insertion order.
func (f *Favorites) List(ctx context.Context) []movies.Movie {
	return f.store.Favorites(ctx)
}

// IsFavorite reports whether a movie with the given key is a favorite.
func (f *Favorites) IsFavorite(ctx context.Context, key string) bool {
	return movies.IsFavorite(f.store.Favorites(ctx), key)
}

// Toggle adds movie when absent and removes it when present. It reports
// whether the movie is a favorite afterwards.
func (f *Favorites) Toggle(ctx context.Context, movie movies.Movie) (bool, []movies.Movie, error) {
	if movie.Key() == "" {
		return false, nil, fmt.Errorf("toggling favorite: %w", ErrMissingID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	favs := movies.ToggleFavorite(f.store.Favorites(ctx), movie)
	if err := f.store.SaveFavorites(ctx, favs); err != nil {
		return false, nil, fmt.Errorf("saving favorites: %w", err)
	}
	return movies.IsFavorite(favs, movie.Key()), favs, nil
}
