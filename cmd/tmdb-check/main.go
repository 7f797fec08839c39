// Command tmdb-check verifies the TMDB credentials and prints a sample of
// what the metadata provider returns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/config"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
)

func main() {
	query := flag.String("q", "", "also search for this title")
	flag.Parse()

	if err := run(*query); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(query string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := tmdb.NewClient(cfg.TMDB.ReadAccessToken, cfg.TMDB.BaseURL)

	genres, err := client.Genres(ctx)
	if err != nil {
		return fmt.Errorf("fetching genres: %w", err)
	}
	fmt.Printf("%d movie genres\n", len(genres))

	popular, err := client.PopularMovies(ctx, 1)
	if err != nil {
		return fmt.Errorf("fetching popular movies: %w", err)
	}
	fmt.Printf("\nPopular movies (%d total):\n", popular.TotalResults)
	for i, m := range popular.Results {
		if i == 5 {
			break
		}
		fmt.Printf("  %d. %s (%s) ★ %.1f\n", i+1, m.Title, m.Year, m.Rating)
	}

	trending, err := client.Trending(ctx, tmdb.Week)
	if err != nil {
		return fmt.Errorf("fetching trending movies: %w", err)
	}
	fmt.Printf("\nTrending this week: %d movies\n", len(trending.Results))

	shows, err := client.PopularTV(ctx, 1)
	if err != nil {
		return fmt.Errorf("fetching popular tv: %w", err)
	}
	fmt.Printf("Popular TV: %d shows\n", len(shows))

	if query != "" {
		results, err := client.SearchMovies(ctx, query, 1)
		if err != nil {
			return fmt.Errorf("searching %q: %w", query, err)
		}
		fmt.Printf("\nSearch %q:\n", query)
		for _, m := range results.Results {
			fmt.Printf("  %d  %s (%s)\n", m.TMDBID, m.Title, m.Year)
		}
	}

	return nil
}
