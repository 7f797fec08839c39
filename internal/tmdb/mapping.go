package tmdb

import (
	"math"
	"strings"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// ImageBaseURL is the TMDB image CDN root.
const ImageBaseURL = "https://image.tmdb.org/t/p"

// ImageSize is a poster width supported by the CDN.
type ImageSize string

// Poster sizes.
const (
	SizeW200     ImageSize = "w200"
	SizeW300     ImageSize = "w300"
	SizeW500     ImageSize = "w500"
	SizeOriginal ImageSize = "original"
)

// Hidden gems are well rated but little known.
const (
	hiddenGemMaxVotes  = 1000
	hiddenGemMinRating = 7.0
)

// ImageURL returns the CDN URL for an image path, or "" when path is empty.
func ImageURL(path string, size ImageSize) string {
	if path == "" {
		return ""
	}
	return ImageBaseURL + "/" + string(size) + path
}

// toMovie maps a list result into the domain Movie shape.
func toMovie(r movieResult) movies.Movie {
	m := movies.Movie{
		TMDBID:      r.ID,
		Title:       r.Title,
		Year:        "N/A",
		Rating:      math.Round(r.VoteAverage*10) / 10,
		VoteCount:   r.VoteCount,
		PosterURL:   ImageURL(r.PosterPath, SizeW500),
		Plot:        r.Overview,
		ReleaseDate: r.ReleaseDate,
		Language:    r.OriginalLanguage,
		GenreIDs:    r.GenreIDs,
		Moods:       []string{},
		IsHiddenGem: r.VoteCount < hiddenGemMaxVotes && r.VoteAverage > hiddenGemMinRating,
	}
	if m.Language == "" {
		m.Language = "en"
	}
	if year, _, ok := strings.Cut(r.ReleaseDate, "-"); ok && year != "" {
		m.Year = year
	}
	if r.Adult {
		m.ContentFlags = []string{"Adult"}
	}
	return m
}

// toMovieDetail maps a detail response, which also carries runtime, genre names
// and the IMDb id.
func toMovieDetail(d movieDetail) movies.Movie {
	m := toMovie(d.movieResult)
	m.IMDbID = d.IMDbID
	m.Runtime = d.Runtime
	if len(m.GenreIDs) == 0 {
		m.GenreIDs = make([]int, 0, len(d.Genres))
		for _, g := range d.Genres {
			m.GenreIDs = append(m.GenreIDs, g.ID)
		}
	}
	for _, g := range d.Genres {
		m.Genres = append(m.Genres, g.Name)
	}
	for _, c := range d.ProductionCountries {
		m.Countries = append(m.Countries, c.Name)
	}
	return m
}

func toMovies(results []movieResult) []movies.Movie {
	out := make([]movies.Movie, len(results))
	for i, r := range results {
		out[i] = toMovie(r)
	}
	return out
}

func toTVShow(r tvResult) TVShow {
	return TVShow{
		ID:           r.ID,
		Name:         r.Name,
		Overview:     r.Overview,
		FirstAirDate: r.FirstAirDate,
		PosterURL:    ImageURL(r.PosterPath, SizeW500),
		Rating:       math.Round(r.VoteAverage*10) / 10,
		VoteCount:    r.VoteCount,
	}
}
