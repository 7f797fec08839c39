package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

var (
	ErrListNotFound = errors.New("list not found")
	ErrEmptyName    = errors.New("list name is required")
	ErrMissingID    = errors.New("movie id is required")
)

// Lists manages user-curated movie lists. Every mutation rewrites the whole
// collection through the store.
type Lists struct {
	store Store
	now   func() time.Time
	mu    sync.Mutex
}

// ListsOption configures Lists.
type ListsOption func(*Lists)

// WithClock overrides the time source for list timestamps.
func WithClock(now func() time.Time) ListsOption {
	return func(l *Lists) {
		l.now = now
	}
}

// NewLists creates Lists backed by store.
func NewLists(store Store, opts ...ListsOption) *Lists {
	l := &Lists{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// All returns every list.
func (l *Lists) All(ctx context.Context) []movies.MovieList {
	return l.store.Lists(ctx)
}

// Get returns the list with the given id.
func (l *Lists) Get(ctx context.Context, id uuid.UUID) (movies.MovieList, error) {
	lists := l.store.Lists(ctx)
	i := indexOf(lists, id)
	if i < 0 {
		return movies.MovieList{}, ErrListNotFound
	}
	return lists[i], nil
}

// Create appends a new list.
func (l *Lists) Create(ctx context.Context, name, description string, isPublic bool, movieIDs []string) (movies.MovieList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return movies.MovieList{}, ErrEmptyName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	list := movies.NewList(name, description, isPublic, movieIDs, l.now())
	lists := append(slices.Clone(l.store.Lists(ctx)), list)
	if err := l.store.SaveLists(ctx, lists); err != nil {
		return movies.MovieList{}, fmt.Errorf("saving lists: %w", err)
	}
	return list, nil
}

// Update applies u to the list with the given id.
func (l *Lists) Update(ctx context.Context, id uuid.UUID, u movies.ListUpdate) (movies.MovieList, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return movies.MovieList{}, ErrEmptyName
	}
	return l.mutate(ctx, id, func(list *movies.MovieList, now time.Time) bool {
		u.Apply(list, now)
		return true
	})
}

// Delete removes the list with the given id.
func (l *Lists) Delete(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lists := slices.Clone(l.store.Lists(ctx))
	i := indexOf(lists, id)
	if i < 0 {
		return ErrListNotFound
	}
	lists = slices.Delete(lists, i, i+1)
	if err := l.store.SaveLists(ctx, lists); err != nil {
		return fmt.Errorf("saving lists: %w", err)
	}
	return nil
}

// AddMovie appends movieID to the list. Adding a movie already in the list
// changes nothing.
func (l *Lists) AddMovie(ctx context.Context, id uuid.UUID, movieID string) (movies.MovieList, error) {
	if movieID == "" {
		return movies.MovieList{}, ErrMissingID
	}
	return l.mutate(ctx, id, func(list *movies.MovieList, now time.Time) bool {
		return list.AddMovie(movieID, now)
	})
}

// RemoveMovie removes movieID from the list. Removing an absent movie changes
// nothing.
func (l *Lists) RemoveMovie(ctx context.Context, id uuid.UUID, movieID string) (movies.MovieList, error) {
	return l.mutate(ctx, id, func(list *movies.MovieList, now time.Time) bool {
		return list.RemoveMovie(movieID, now)
	})
}

// mutate applies fn to one list and saves the collection if fn reports a change.
func (l *Lists) mutate(ctx context.Context, id uuid.UUID, fn func(*movies.MovieList, time.Time) bool) (movies.MovieList, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lists := slices.Clone(l.store.Lists(ctx))
	i := indexOf(lists, id)
	if i < 0 {
		return movies.MovieList{}, ErrListNotFound
	}
	if !fn(&lists[i], l.now()) {
		return lists[i], nil
	}
	if err := l.store.SaveLists(ctx, lists); err != nil {
		return movies.MovieList{}, fmt.Errorf("saving lists: %w", err)
	}
	return lists[i], nil
}

func indexOf(lists []movies.MovieList, id uuid.UUID) int {
	return slices.IndexFunc(lists, func(l movies.MovieList) bool { return l.ID == id })
}
