// Package clustering groups movies by genre similarity using k-means.
package clustering

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

// Config holds clustering parameters.
type Config struct {
	NumClusters    int // Number of groups to create (default: 3)
	MinClusterSize int // Smaller groups become outliers (default: 2)
	MaxGenres      int // Vocabulary size of the genre vectors (default: 20)
}

// DefaultConfig returns the recommended default configuration.
func DefaultConfig() Config {
	return Config{
		NumClusters:    3,
		MinClusterSize: 2,
		MaxGenres:      20,
	}
}

// Group is a set of movies with similar genres.
type Group struct {
	Name      string         `json:"name"` // "Crime & Drama"
	TopGenres []string       `json:"topGenres"`
	Movies    []movies.Movie `json:"movies"`
}

// ErrPartition is returned when k-means fails on otherwise valid input.
var ErrPartition = errors.New("k-means partition failed")

// movieObservation wraps a movie to implement clusters.Observation.
type movieObservation struct {
	movie  movies.Movie
	coords clusters.Coordinates
}

func (o movieObservation) Coordinates() clusters.Coordinates {
	return o.coords
}

func (o movieObservation) Distance(point clusters.Coordinates) float64 {
	return o.coords.Distance(point)
}

// GroupByGenre partitions ms into groups of similar genres. Movies without
// genres and members of groups smaller than MinClusterSize are returned as
// outliers. When there are fewer movies with genres than clusters, every
// movie is an outlier. Groups are ordered largest first.
func GroupByGenre(ms []movies.Movie, cfg Config) ([]Group, []movies.Movie, error) {
	if len(ms) == 0 {
		return nil, nil, nil
	}

	def := DefaultConfig()
	if cfg.NumClusters <= 0 {
		cfg.NumClusters = def.NumClusters
	}
	if cfg.MaxGenres <= 0 {
		cfg.MaxGenres = def.MaxGenres
	}

	var valid, outliers []movies.Movie
	for _, m := range ms {
		if len(m.Genres) > 0 {
			valid = append(valid, m)
		} else {
			outliers = append(outliers, m)
		}
	}
	if len(valid) < cfg.NumClusters {
		return nil, append(valid, outliers...), nil
	}

	vocabulary := buildVocabulary(valid, cfg.MaxGenres)

	obs := make(clusters.Observations, len(valid))
	for i, m := range valid {
		obs[i] = movieObservation{movie: m, coords: buildVector(m, vocabulary)}
	}

	result, err := kmeans.New().Partition(obs, cfg.NumClusters)
	if err != nil {
		return nil, ms, errors.Join(ErrPartition, err)
	}

	var groups []Group
	for _, cluster := range result {
		var members []movies.Movie
		for _, o := range cluster.Observations {
			if mo, ok := o.(movieObservation); ok {
				members = append(members, mo.movie)
			}
		}
		if len(members) == 0 {
			continue
		}
		if len(members) < cfg.MinClusterSize {
			outliers = append(outliers, members...)
			continue
		}

		top := topGenres(cluster.Center, vocabulary, 2)
		groups = append(groups, Group{
			Name:      groupName(top),
			TopGenres: top,
			Movies:    members,
		})
	}

	slices.SortStableFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(len(b.Movies), len(a.Movies)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return groups, outliers, nil
}

type genreCount struct {
	name  string
	count int
}

// buildVocabulary returns the maxGenres most common genres, ties broken by name.
func buildVocabulary(ms []movies.Movie, maxGenres int) []string {
	counts := make(map[string]int)
	for _, m := range ms {
		for _, g := range m.Genres {
			counts[g]++
		}
	}

	gc := make([]genreCount, 0, len(counts))
	for name, n := range counts {
		gc = append(gc, genreCount{name: name, count: n})
	}
	slices.SortFunc(gc, func(a, b genreCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})

	n := min(maxGenres, len(gc))
	vocabulary := make([]string, n)
	for i := range n {
		vocabulary[i] = gc[i].name
	}
	return vocabulary
}

// buildVector spreads a weight of 1 evenly across the movie's known genres.
func buildVector(m movies.Movie, vocabulary []string) clusters.Coordinates {
	index := make(map[string]int, len(vocabulary))
	for i, g := range vocabulary {
		index[g] = i
	}

	vector := make(clusters.Coordinates, len(vocabulary))
	var known []int
	for _, g := range m.Genres {
		if i, ok := index[g]; ok {
			known = append(known, i)
		}
	}
	for _, i := range known {
		vector[i] = 1 / float64(len(known))
	}
	return vector
}

// topGenres returns up to n genres with the highest positive centroid weight.
func topGenres(centroid clusters.Coordinates, vocabulary []string, n int) []string {
	type weighted struct {
		name   string
		weight float64
	}
	ws := make([]weighted, 0, len(vocabulary))
	for i, name := range vocabulary {
		if i < len(centroid) && centroid[i] > 0 {
			ws = append(ws, weighted{name: name, weight: centroid[i]})
		}
	}
	slices.SortStableFunc(ws, func(a, b weighted) int {
		return cmp.Compare(b.weight, a.weight)
	})

	top := make([]string, 0, n)
	for i := 0; i < len(ws) && i < n; i++ {
		top = append(top, ws[i].name)
	}
	return top
}

func groupName(top []string) string {
	if len(top) == 0 {
		return "Mixed"
	}
	return strings.Join(top, " & ")
}
