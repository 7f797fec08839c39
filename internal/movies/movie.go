// Package movies defines the domain records shared by the storage, recommendation
// and web layers: movies, user preferences, favorites and user-curated lists.
package movies

import (
	"slices"
	"strconv"
)

// Movie is a metadata record fetched from a metadata provider.
// Movies are never mutated after they are fetched, only re-fetched.
type Movie struct {
	// IMDbID is the primary provider's identifier ("tt0468569"). Empty for
	// records sourced from TMDB.
	IMDbID string `json:"imdbId,omitempty"`
	// TMDBID is the alternate provider's numeric identifier. Zero when unknown.
	TMDBID int `json:"tmdbId,omitempty"`

	Title       string   `json:"title"`
	Year        string   `json:"year"`
	Rating      float64  `json:"rating"`
	VoteCount   int      `json:"voteCount"`
	PosterURL   string   `json:"posterUrl,omitempty"`
	Runtime     int      `json:"runtime,omitempty"` // minutes
	Plot        string   `json:"plot,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	Language    string   `json:"language,omitempty"`
	GenreIDs    []int    `json:"genreIds,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Countries   []string `json:"countries,omitempty"`

	Moods        []string `json:"moods,omitempty"`
	ContentFlags []string `json:"contentFlags,omitempty"`
	Streaming    []string `json:"streaming,omitempty"`
	Pacing       string   `json:"pacing,omitempty"`
	IsHiddenGem  bool     `json:"isHiddenGem,omitempty"`
}

// Key returns the identifier used for favorites and list membership.
// TMDB ids are rendered in decimal; IMDb ids are used as-is.
func (m Movie) Key() string {
	if m.TMDBID > 0 {
		return strconv.Itoa(m.TMDBID)
	}
	return m.IMDbID
}

// HasGenre reports whether the movie carries any of the given genre ids.
func (m Movie) HasGenre(ids map[int]struct{}) bool {
	for _, id := range m.GenreIDs {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

// ParseTMDBID interprets a stored movie reference as a TMDB id.
// It returns false for IMDb ids and anything that is not a positive integer.
func ParseTMDBID(ref string) (int, bool) {
	id, err := strconv.Atoi(ref)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ToggleFavorite adds movie to favs when absent and removes it when present.
// The input slice is not modified.
func ToggleFavorite(favs []Movie, movie Movie) []Movie {
	key := movie.Key()
	if IsFavorite(favs, key) {
		return slices.DeleteFunc(slices.Clone(favs), func(m Movie) bool {
			return m.Key() == key
		})
	}
	out := make([]Movie, 0, len(favs)+1)
	out = append(out, favs...)
	return append(out, movie)
}

// IsFavorite reports whether a movie with the given key is in favs.
func IsFavorite(favs []Movie, key string) bool {
	return slices.ContainsFunc(favs, func(m Movie) bool {
		return m.Key() == key
	})
}
