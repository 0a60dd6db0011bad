// Package bootstrap provides dependency initialization for the media generation API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/config"
	"github.com/maauso/mediagen-api/internal/generation"
	"github.com/maauso/mediagen-api/internal/job"
	"github.com/maauso/mediagen-api/internal/media"
	"github.com/maauso/mediagen-api/internal/provider"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/transport"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	JobService *job.Service

	closers []func()
}

// Close releases resources such as the catalog connection pool.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize provider router
	router, err := initRouter(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize vendor transport and generation engine
	client := transport.NewClient(cfg.Credentials(),
		transport.WithTimeout(cfg.HTTPTimeout),
		transport.WithLogger(logger),
	)
	engine := generation.NewEngine(router, client, generation.WithLogger(logger))

	// Initialize media catalog
	cat, err := initCatalog(ctx, cfg, logger, deps)
	if err != nil {
		deps.Close()
		return nil, err
	}

	opts := []job.ServiceOption{
		job.WithLogger(logger),
		job.WithCatalog(cat),
	}

	if cfg.ArchiveMedia {
		store, err := initStorage(cfg, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		opts = append(opts, job.WithArchive(job.Archive{
			Storage:    store,
			Downloader: client,
			Prober:     media.NewFFprobe(cfg.FFprobePath),
		}))
	}

	// Initialize job repository and service
	repo := job.NewMemoryRepository()
	deps.JobService = job.NewService(repo, engine, router, opts...)

	return deps, nil
}

// initRouter registers the built-in profiles followed by those from the
// optional providers file, which replace built-ins with the same id.
func initRouter(cfg *config.Config, logger *slog.Logger) (*provider.Router, error) {
	router, err := provider.NewRouter(provider.Builtin(cfg.BuiltinConfig())...)
	if err != nil {
		return nil, fmt.Errorf("create provider router: %w", err)
	}

	if cfg.ProvidersFile != "" {
		profiles, err := provider.LoadFile(cfg.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("load providers file: %w", err)
		}
		for _, p := range profiles {
			if err := router.Register(p); err != nil {
				return nil, fmt.Errorf("register profile %q: %w", p.ID, err)
			}
		}
		logger.Info("provider profiles loaded",
			slog.String("file", cfg.ProvidersFile),
			slog.Int("count", len(profiles)),
		)
	}

	logger.Info("provider router configured",
		slog.Any("models", router.Models()),
	)
	return router, nil
}

// initCatalog creates the PostgreSQL catalog when DATABASE_URL is set and
// the in-memory catalog otherwise.
func initCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) (catalog.Repository, error) {
	if !cfg.PostgresEnabled() {
		logger.Info("in-memory media catalog configured",
			slog.Int("image_cap", cfg.CatalogImageCap),
			slog.Int("video_cap", cfg.CatalogVideoCap),
		)
		return catalog.NewMemoryRepository(cfg.CatalogCaps()), nil
	}

	pool, err := catalog.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}
	deps.closers = append(deps.closers, pool.Close)

	repo := catalog.NewPostgresRepository(pool, cfg.CatalogCaps())
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	logger.Info("PostgreSQL media catalog configured",
		slog.Int("image_cap", cfg.CatalogImageCap),
		slog.Int("video_cap", cfg.CatalogVideoCap),
	)
	return repo, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Storage(cfg.TempDir, cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("media_dir", filepath.Join(cfg.TempDir, "media")),
	)
	return localStore, nil
}
