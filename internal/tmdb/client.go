// Package tmdb provides a client for The Movie Database (TMDB) v3 REST API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Ehm-Ehs/project-nexus/internal/movies"
)

const (
	// DefaultBaseURL is the TMDB v3 API root.
	DefaultBaseURL = "https://api.themoviedb.org/3"
	userAgent      = "movieflix/1.0"
)

// Sentinel errors.
var (
	// ErrNotConfigured is returned when the client has no read access token.
	ErrNotConfigured = errors.New("tmdb read access token not configured")

	// ErrUnauthorized is returned when TMDB rejects the bearer token.
	ErrUnauthorized = errors.New("tmdb rejected credentials")

	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("tmdb resource not found")

	// ErrRateLimited is returned when the API rate limit is exceeded after retries.
	ErrRateLimited = errors.New("tmdb rate limit exceeded")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("tmdb temporarily unavailable")
)

// TimeWindow selects the trending aggregation period.
type TimeWindow string

// Trending windows.
const (
	Day  TimeWindow = "day"
	Week TimeWindow = "week"
)

// Page is one page of movie results.
type Page struct {
	Page         int            `json:"page"`
	TotalPages   int            `json:"totalPages"`
	TotalResults int            `json:"totalResults"`
	Results      []movies.Movie `json:"results"`
}

// TVShow is a TV series from the popular TV endpoint.
type TVShow struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"firstAirDate"`
	PosterURL    string  `json:"posterUrl,omitempty"`
	Rating       float64 `json:"rating"`
	VoteCount    int     `json:"voteCount"`
}

// DiscoverParams are the filters of /discover/movie.
type DiscoverParams struct {
	GenreIDs       []int  // OR-combined
	SortBy         string // e.g. "vote_average.desc"
	VoteCountGTE   int
	ReleaseDateGTE string // YYYY-MM-DD
	IncludeAdult   bool
	Page           int
}

func (p DiscoverParams) values() url.Values {
	v := url.Values{}
	if len(p.GenreIDs) > 0 {
		ids := make([]string, len(p.GenreIDs))
		for i, id := range p.GenreIDs {
			ids[i] = strconv.Itoa(id)
		}
		v.Set("with_genres", strings.Join(ids, "|"))
	}
	if p.SortBy != "" {
		v.Set("sort_by", p.SortBy)
	}
	if p.VoteCountGTE > 0 {
		v.Set("vote_count.gte", strconv.Itoa(p.VoteCountGTE))
	}
	if p.ReleaseDateGTE != "" {
		v.Set("primary_release_date.gte", p.ReleaseDateGTE)
	}
	v.Set("include_adult", strconv.FormatBool(p.IncludeAdult))
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	return v
}

// Client is a TMDB API client with rate limiting, retries and a circuit breaker.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	delays     []time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelays sets the backoff used when TMDB answers 429.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) {
		c.delays = delays
	}
}

// WithRateLimit sets the client-side request rate.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a TMDB client authenticating with a v4 read access token.
// An empty baseURL selects DefaultBaseURL.
func NewClient(token, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(40), 20),
		delays:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client-side mistakes say nothing about TMDB's health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrUnauthorized) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Configured reports whether the client has a token.
func (c *Client) Configured() bool {
	return c.token != ""
}

// PopularMovies fetches /movie/popular.
func (c *Client) PopularMovies(ctx context.Context, page int) (*Page, error) {
	return c.moviePage(ctx, "/movie/popular", pageValues(page))
}

// SearchMovies fetches /search/movie for a free-text query.
func (c *Client) SearchMovies(ctx context.Context, query string, page int) (*Page, error) {
	v := pageValues(page)
	v.Set("query", query)
	return c.moviePage(ctx, "/search/movie", v)
}

// Recommendations fetches /movie/{id}/recommendations.
func (c *Client) Recommendations(ctx context.Context, id int) (*Page, error) {
	return c.moviePage(ctx, fmt.Sprintf("/movie/%d/recommendations", id), nil)
}

// Discover fetches /discover/movie with the given filters.
func (c *Client) Discover(ctx context.Context, p DiscoverParams) (*Page, error) {
	return c.moviePage(ctx, "/discover/movie", p.values())
}

// Trending fetches /trending/movie/{window}.
func (c *Client) Trending(ctx context.Context, window TimeWindow) (*Page, error) {
	if window != Day {
		window = Week
	}
	return c.moviePage(ctx, "/trending/movie/"+string(window), nil)
}

// MovieDetails fetches /movie/{id}.
func (c *Client) MovieDetails(ctx context.Context, id int) (*movies.Movie, error) {
	body, err := c.get(ctx, fmt.Sprintf("/movie/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching movie %d: %w", id, err)
	}

	var d movieDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("parsing movie %d: %w", id, err)
	}
	m := toMovieDetail(d)
	return &m, nil
}

// PopularTV fetches /tv/popular.
func (c *Client) PopularTV(ctx context.Context, page int) ([]TVShow, error) {
	body, err := c.get(ctx, "/tv/popular", pageValues(page))
	if err != nil {
		return nil, fmt.Errorf("fetching popular tv: %w", err)
	}

	var resp pagedResponse[tvResult]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing popular tv: %w", err)
	}
	shows := make([]TVShow, len(resp.Results))
	for i, r := range resp.Results {
		shows[i] = toTVShow(r)
	}
	return shows, nil
}

// Genres fetches the movie genre list.
func (c *Client) Genres(ctx context.Context) ([]Genre, error) {
	body, err := c.get(ctx, "/genre/movie/list", nil)
	if err != nil {
		return nil, fmt.Errorf("fetching genres: %w", err)
	}

	var resp genreListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing genres: %w", err)
	}
	return resp.Genres, nil
}

func (c *Client) moviePage(ctx context.Context, path string, params url.Values) (*Page, error) {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}

	var resp pagedResponse[movieResult]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &Page{
		Page:         resp.Page,
		TotalPages:   resp.TotalPages,
		TotalResults: resp.TotalResults,
		Results:      toMovies(resp.Results),
	}, nil
}

// get performs a GET through the circuit breaker, retrying on rate limit.
// Retries use the configured delays (1s, 2s, 4s by default).
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, reqURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return body, err
}

func (c *Client) doWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= len(c.delays); attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delays[attempt-1]):
			}
		}

		body, err := c.doSingleRequest(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("tmdb request", "url", req.URL.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	}

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.StatusMessage != "" {
		return nil, fmt.Errorf("API error %d (status %d): %s", apiErr.StatusCode, resp.StatusCode, apiErr.StatusMessage)
	}
	return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func pageValues(page int) url.Values {
	v := url.Values{}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	return v
}
