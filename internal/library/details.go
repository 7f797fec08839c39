package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
	"github.com/Ehm-Ehs/project-nexus/internal/movies"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
)

// CacheTTL is how long fetched movie details are kept.
const CacheTTL = 30 * 24 * time.Hour // 30 days

const detailsKeyPrefix = "movieflix:details:"

// DetailsFetcher looks up a movie by TMDB id.
type DetailsFetcher interface {
	MovieDetails(ctx context.Context, id int) (*movies.Movie, error)
}

var _ DetailsFetcher = (*tmdb.Client)(nil)

// CachedDetails implements DetailsFetcher with a shared key-value cache in
// front of the metadata provider. Entries expire after CacheTTL.
type CachedDetails struct {
	kv      localstore.KV
	fetcher DetailsFetcher
	logger  *slog.Logger
}

// NewCachedDetails wraps fetcher with a cache stored in kv.
func NewCachedDetails(kv localstore.KV, fetcher DetailsFetcher, logger *slog.Logger) *CachedDetails {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDetails{kv: kv, fetcher: fetcher, logger: logger}
}

func detailsKey(id int) string {
	return detailsKeyPrefix + strconv.Itoa(id)
}

// MovieDetails returns the cached record for id, fetching and caching it on a
// miss. Cache failures are logged and never fail the lookup.
func (c *CachedDetails) MovieDetails(ctx context.Context, id int) (*movies.Movie, error) {
	key := detailsKey(id)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var m movies.Movie
		if err := json.Unmarshal(raw, &m); err == nil {
			return &m, nil
		}
		c.logger.Warn("discarding malformed cached details", "id", id)
	case !errors.Is(err, localstore.ErrNotFound):
		c.logger.Warn("reading details cache", "id", id, "error", err)
	}

	m, err := c.fetcher.MovieDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching details for %d: %w", id, err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return m, nil
	}
	if err := c.kv.Set(ctx, key, data, CacheTTL); err != nil {
		c.logger.Warn("writing details cache", "id", id, "error", err)
	}
	return m, nil
}
