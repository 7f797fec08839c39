package movies

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// MovieList is a user-curated, named collection of movie references.
type MovieList struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	IsPublic      bool      `json:"isPublic"`
	MovieIDs      []string  `json:"movieIds"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Collaborators int       `json:"collaborators"`
}

// NewList creates a list owned by a single collaborator.
func NewList(name, description string, isPublic bool, movieIDs []string, now time.Time) MovieList {
	if movieIDs == nil {
		movieIDs = []string{}
	}
	return MovieList{
		ID:            uuid.New(),
		Name:          name,
		Description:   description,
		IsPublic:      isPublic,
		MovieIDs:      slices.Clone(movieIDs),
		CreatedAt:     now,
		UpdatedAt:     now,
		Collaborators: 1,
	}
}

// Contains reports whether the list holds movieID.
func (l MovieList) Contains(movieID string) bool {
	return slices.Contains(l.MovieIDs, movieID)
}

// AddMovie appends movieID unless it is already present.
// It reports whether the list changed.
func (l *MovieList) AddMovie(movieID string, now time.Time) bool {
	if l.Contains(movieID) {
		return false
	}
	l.MovieIDs = append(slices.Clone(l.MovieIDs), movieID)
	l.UpdatedAt = now
	return true
}

// RemoveMovie removes every occurrence of movieID.
// It reports whether the list changed.
func (l *MovieList) RemoveMovie(movieID string, now time.Time) bool {
	if !l.Contains(movieID) {
		return false
	}
	l.MovieIDs = slices.DeleteFunc(slices.Clone(l.MovieIDs), func(id string) bool {
		return id == movieID
	})
	l.UpdatedAt = now
	return true
}

// ListUpdate carries the editable fields of a list. Nil fields are left alone.
type ListUpdate struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	IsPublic    *bool     `json:"isPublic,omitempty"`
	MovieIDs    *[]string `json:"movieIds,omitempty"`
}

// Apply copies the set fields of u onto l and refreshes UpdatedAt.
func (u ListUpdate) Apply(l *MovieList, now time.Time) {
	if u.Name != nil {
		l.Name = *u.Name
	}
	if u.Description != nil {
		l.Description = *u.Description
	}
	if u.IsPublic != nil {
		l.IsPublic = *u.IsPublic
	}
	if u.MovieIDs != nil {
		l.MovieIDs = slices.Clone(*u.MovieIDs)
	}
	l.UpdatedAt = now
}
