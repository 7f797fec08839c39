// Command movieflix runs the MovieFlix web application.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/Ehm-Ehs/project-nexus/internal/auth"
	"github.com/Ehm-Ehs/project-nexus/internal/config"
	"github.com/Ehm-Ehs/project-nexus/internal/db"
	"github.com/Ehm-Ehs/project-nexus/internal/library"
	"github.com/Ehm-Ehs/project-nexus/internal/localstore"
	"github.com/Ehm-Ehs/project-nexus/internal/persist"
	"github.com/Ehm-Ehs/project-nexus/internal/recommend"
	"github.com/Ehm-Ehs/project-nexus/internal/tmdb"
	"github.com/Ehm-Ehs/project-nexus/internal/web"
	webfs "github.com/Ehm-Ehs/project-nexus/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Accounts and remote documents live in Postgres. Without a database
	// everything is kept in memory for the life of the process.
	var (
		accounts auth.AccountStore = auth.NewMemoryAccounts()
		remote   persist.Remote    = persist.NewMemoryRemote()
	)
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		dbAccounts := auth.NewDBAccounts(database)
		accounts = dbAccounts
		remote = database.Documents()

		pruneCtx, stopPruning := context.WithCancel(context.Background())
		defer stopPruning()
		go pruneSessions(pruneCtx, dbAccounts, logger)
	} else {
		logger.Warn("DATABASE_URL not set, accounts and profiles are kept in memory")
	}

	// Per-device storage and the details cache live in Redis when configured.
	var kv localstore.KV = localstore.NewMemoryKV()
	if cfg.Redis.Addr != "" {
		client, err := localstore.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		kv = localstore.NewRedisKV(client)
	} else {
		logger.Warn("REDIS_ADDR not set, device storage is kept in memory")
	}

	catalog := tmdb.NewClient(cfg.TMDB.ReadAccessToken, cfg.TMDB.BaseURL, tmdb.WithLogger(logger))
	recs := recommend.NewBuilder(catalog, recommend.WithLogger(logger))
	details := library.NewCachedDetails(kv, catalog, logger)

	providers := auth.NewProviders(cfg)
	if len(providers) == 0 {
		logger.Warn("no OAuth providers configured, only email sign-in is available")
	}

	// Create sub-filesystems for templates and static files
	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return fmt.Errorf("creating templates filesystem: %w", err)
	}
	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static filesystem: %w", err)
	}

	clients := web.NewClientRegistry(web.ClientDeps{
		Accounts:    accounts,
		KV:          kv,
		Remote:      remote,
		Recommender: recs,
		Logger:      logger,
	}, cfg.ClientTTL)

	server, err := web.NewServer(web.ServerConfig{
		Addr:        cfg.Addr,
		TemplatesFS: templates,
		StaticFS:    static,
		Clients:     clients,
		Providers:   providers,
		Catalog:     catalog,
		Details:     details,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run()
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

const pruneInterval = time.Hour

// pruneSessions deletes expired sessions until ctx is cancelled.
func pruneSessions(ctx context.Context, accounts *auth.DBAccounts, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := accounts.PruneSessions(ctx)
			if err != nil {
				logger.Warn("pruning sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned expired sessions", "count", n)
			}
		}
	}
}
