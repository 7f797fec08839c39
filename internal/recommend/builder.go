package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
)

// Query constants.
const (
	discoveryMinVotes = 200
	trendingMinVotes  = 50
	maxRandomPage     = 5
	trendingLookback  = 1 // years
)

// Tier identifies which query produced a result set.
type Tier string

// Tiers, strongest first.
const (
	TierLikedTitle    Tier = "liked-title"
	TierMoodDiscovery Tier = "mood-discovery"
	TierMoodTrending  Tier = "mood-trending"
	TierPopular       Tier = "popular"
	TierTrending      Tier = "trending"
)

// Source is the subset of the TMDB client the builder queries.
type Source interface {
	PopularMovies(ctx context.Context, page int) (*tmdb.Page, error)
	Trending(ctx context.Context, window tmdb.TimeWindow) (*tmdb.Page, error)
	Recommendations(ctx context.Context, id int) (*tmdb.Page, error)
	Discover(ctx context.Context, p tmdb.DiscoverParams) (*tmdb.Page, error)
}

// Result is a personalized result set and the tier that produced it.
type Result struct {
	Tier   Tier           `json:"tier"`
	Movies []movies.Movie `json:"movies"`
}

// Builder issues personalized discovery and trending queries.
type Builder struct {
	source Source
	page   func() int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithPageChooser overrides the random page selection.
func WithPageChooser(fn func() int) Option {
	return func(b *Builder) {
		b.page = fn
	}
}

// WithClock overrides the time source used for the trending window.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder over source.
func NewBuilder(source Source, opts ...Option) *Builder {
	b := &Builder{
		source: source,
		page:   func() int { return rand.IntN(maxRandomPage) + 1 },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PersonalizedDiscovery returns recommended movies for prefs.
//
// Tiers: recommendations for the last liked TMDB title narrowed to the mood
// genres, then a mood-genre discovery query sorted by rating, then popular.
// An error is returned only when the popular tier also fails.
func (b *Builder) PersonalizedDiscovery(ctx context.Context, prefs movies.UserPreferences) (Result, error) {
	genres := MoodGenres(prefs.Moods)

	if res, ok := b.likedTitle(ctx, prefs, genres); ok {
		return res, nil
	}

	if len(genres) == 0 {
		return b.popular(ctx)
	}

	page, err := b.source.Discover(ctx, tmdb.DiscoverParams{
		GenreIDs:     genres,
		SortBy:       "vote_average.desc",
		VoteCountGTE: discoveryMinVotes,
		Page:         b.page(),
	})
	if err != nil {
		b.logger.Warn("mood discovery failed, falling back to popular", "error", err)
		return b.popular(ctx)
	}
	return Result{Tier: TierMoodDiscovery, Movies: narrow(page.Results, genres)}, nil
}

// PersonalizedTrending returns recent popular movies in the mood genres of
// prefs, falling back to this week's trending movies.
func (b *Builder) PersonalizedTrending(ctx context.Context, prefs movies.UserPreferences) (Result, error) {
	genres := MoodGenres(prefs.Moods)
	if len(genres) == 0 {
		return b.trending(ctx)
	}

	since := b.now().AddDate(-trendingLookback, 0, 0).Format(time.DateOnly)
	page, err := b.source.Discover(ctx, tmdb.DiscoverParams{
		GenreIDs:       genres,
		SortBy:         "popularity.desc",
		VoteCountGTE:   trendingMinVotes,
		ReleaseDateGTE: since,
		Page:           b.page(),
	})
	if err != nil {
		b.logger.Warn("mood trending failed, falling back to trending", "error", err)
		return b.trending(ctx)
	}
	return Result{Tier: TierMoodTrending, Movies: narrow(page.Results, genres)}, nil
}

// likedTitle tries the recommendations-for-last-liked-title tier.
// Only references that parse as TMDB ids qualify; IMDb ids are skipped.
func (b *Builder) likedTitle(ctx context.Context, prefs movies.UserPreferences, genres []int) (Result, bool) {
	ref, ok := prefs.LastLiked()
	if !ok {
		return Result{}, false
	}
	id, ok := movies.ParseTMDBID(ref)
	if !ok {
		return Result{}, false
	}

	page, err := b.source.Recommendations(ctx, id)
	if err != nil {
		b.logger.Warn("recommendations for liked title failed", "tmdb_id", id, "error", err)
		return Result{}, false
	}
	if len(page.Results) == 0 {
		return Result{}, false
	}
	return Result{Tier: TierLikedTitle, Movies: narrow(page.Results, genres)}, true
}

func (b *Builder) popular(ctx context.Context) (Result, error) {
	page, err := b.source.PopularMovies(ctx, 0)
	if err != nil {
		return Result{Tier: TierPopular}, fmt.Errorf("fetching popular movies: %w", err)
	}
	return Result{Tier: TierPopular, Movies: page.Results}, nil
}

func (b *Builder) trending(ctx context.Context) (Result, error) {
	page, err := b.source.Trending(ctx, tmdb.Week)
	if err != nil {
		return Result{Tier: TierTrending}, fmt.Errorf("fetching trending movies: %w", err)
	}
	return Result{Tier: TierTrending, Movies: page.Results}, nil
}

// narrow keeps the movies whose genres intersect genres. When genres is empty
// or nothing intersects, the input is returned unchanged so a non-empty
// superset never collapses to zero results.
func narrow(results []movies.Movie, genres []int) []movies.Movie {
	if len(genres) == 0 {
		return results
	}
	set := genreSet(genres)
	var kept []movies.Movie
	for _, m := range results {
		if m.HasGenre(set) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return results
	}
	return kept
}
