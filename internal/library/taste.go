package library

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/Ehm-Ehs/project-nexus/internal/clustering"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// DefaultConcurrency is the number of concurrent detail lookups.
const DefaultConcurrency = 5

// topCount is how many genres and countries a taste profile ranks.
const topCount = 5

// Taste groups hold at least minGroupSize movies; at most maxGroups are formed.
const (
	minGroupSize = 2
	maxGroups    = 3
)

// Count is a ranked genre or country.
type Count struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// TasteProfile summarizes a user's preferences and liked movies.
type TasteProfile struct {
	Liked               []movies.Movie `json:"liked"`
	TopGenres           []Count        `json:"topGenres"`
	TopCountries        []Count        `json:"topCountries"`
	Moods               []string       `json:"moods"`
	Languages           []string       `json:"languages"`
	ContentRestrictions []string       `json:"contentRestrictions"`
	// Groups clusters the liked movies by genre.
	Groups []clustering.Group `json:"groups"`
	// Unresolved counts liked references whose details could not be fetched.
	Unresolved int `json:"unresolved"`
}

// ProfileBuilder fetches liked movies and ranks their genres and countries.
type ProfileBuilder struct {
	details     DetailsFetcher
	concurrency int
	logger      *slog.Logger
}

// ProfileOption configures a ProfileBuilder.
type ProfileOption func(*ProfileBuilder)

// WithConcurrency sets the number of concurrent detail lookups.
func WithConcurrency(n int) ProfileOption {
	return func(b *ProfileBuilder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProfileOption {
	return func(b *ProfileBuilder) {
		b.logger = l
	}
}

// NewProfileBuilder creates a ProfileBuilder.
func NewProfileBuilder(details DetailsFetcher, opts ...ProfileOption) *ProfileBuilder {
	b := &ProfileBuilder{
		details:     details,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches every liked movie and ranks the top genres and countries.
// Lookups that fail are counted in Unresolved rather than failing the build.
// References that are not TMDB ids cannot be looked up and are also counted.
func (b *ProfileBuilder) Build(ctx context.Context, prefs movies.UserPreferences) (TasteProfile, error) {
	prefs = prefs.Normalize()
	profile := TasteProfile{
		Liked:               []movies.Movie{},
		Moods:               prefs.Moods,
		Languages:           prefs.Languages,
		ContentRestrictions: prefs.ContentRestrictions,
	}

	liked, err := b.fetchAll(ctx, prefs.LikedMovies)
	for _, m := range liked {
		if m == nil {
			profile.Unresolved++
			continue
		}
		profile.Liked = append(profile.Liked, *m)
	}
	if err != nil {
		return profile, err
	}

	profile.TopGenres = rank(profile.Liked, func(m movies.Movie) []string { return m.Genres })
	profile.TopCountries = rank(profile.Liked, func(m movies.Movie) []string { return m.Countries })
	profile.Groups = b.group(profile.Liked)
	return profile, nil
}

// group clusters liked movies into taste groups, using fewer groups for
// short histories.
func (b *ProfileBuilder) group(liked []movies.Movie) []clustering.Group {
	k := min(maxGroups, len(liked)/minGroupSize)
	if k < 1 {
		return []clustering.Group{}
	}
	groups, _, err := clustering.GroupByGenre(liked, clustering.Config{
		NumClusters:    k,
		MinClusterSize: minGroupSize,
	})
	if err != nil {
		b.logger.Warn("grouping liked movies", "error", err)
	}
	if groups == nil {
		return []clustering.Group{}
	}
	return groups
}

// fetchAll looks up refs with a bounded worker pool. Results keep the order
// of refs; a nil entry is a failed or impossible lookup.
func (b *ProfileBuilder) fetchAll(ctx context.Context, refs []string) ([]*movies.Movie, error) {
	results := make([]*movies.Movie, len(refs))
	if len(refs) == 0 {
		return results, nil
	}

	type workItem struct {
		index int
		id    int
	}
	workCh := make(chan workItem, len(refs))
	for i, ref := range refs {
		id, ok := movies.ParseTMDBID(ref)
		if !ok {
			continue
		}
		workCh <- workItem{index: i, id: id}
	}
	close(workCh)

	var wg sync.WaitGroup
	for range b.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workCh {
				if ctx.Err() != nil {
					continue
				}
				m, err := b.details.MovieDetails(ctx, work.id)
				if err != nil {
					b.logger.Warn("fetching liked movie", "id", work.id, "error", err)
					continue
				}
				results[work.index] = m
			}
		}()
	}
	wg.Wait()

	return results, ctx.Err()
}

// rank counts names across ms and returns the topCount most frequent, ties
// broken alphabetically. Percent is relative to the number of movies.
func rank(ms []movies.Movie, names func(movies.Movie) []string) []Count {
	counts := make(map[string]int)
	for _, m := range ms {
		for _, n := range names(m) {
			counts[n]++
		}
	}

	ranked := make([]Count, 0, len(counts))
	for name, n := range counts {
		ranked = append(ranked, Count{
			Name:    name,
			Count:   n,
			Percent: float64(n) / float64(len(ms)) * 100,
		})
	}
	slices.SortFunc(ranked, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(ranked) > topCount {
		ranked = ranked[:topCount]
	}
	return ranked
}
