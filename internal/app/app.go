// Package app wires configuration, database, media storage and the import
// pipeline together for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/relannis/internal/config"
	"github.com/OFFIS-RIT/relannis/internal/database"
	"github.com/OFFIS-RIT/relannis/internal/storage"
	"github.com/OFFIS-RIT/relannis/pkg/extdata"
	"github.com/OFFIS-RIT/relannis/pkg/importer"
	"github.com/OFFIS-RIT/relannis/pkg/leaselock"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
	"github.com/OFFIS-RIT/relannis/pkg/logger/console"
	"github.com/OFFIS-RIT/relannis/pkg/store"
)

type App struct {
	Config   *config.Config
	Pool     *store.Pool
	Media    extdata.Store
	Pipeline *importer.Pipeline
}

func InitLogger(c *config.Config, prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  c.Debug,
		JSON:   c.LogFormat == "json",
		Prefix: prefix,
	}))
}

// NewMediaStore opens the configured media backend.
func NewMediaStore(ctx context.Context, c config.Media) (extdata.Store, error) {
	switch c.Backend {
	case config.MediaBackendS3:
		client, err := storage.NewS3Client(ctx, c.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, c.S3.Bucket, c.S3.Prefix), nil
	case config.MediaBackendLocal:
		s, err := storage.NewLocalStore(c.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", c.Backend)
	}
}

// PipelineOptions translates the import settings.
func PipelineOptions(c config.Import) (importer.Options, error) {
	eq, err := importer.ParseExampleQueries(c.ExampleQueries)
	if err != nil {
		return importer.Options{}, err
	}
	return importer.Options{
		TemporaryStaging:      c.TemporaryStaging,
		StatisticsTarget:      c.StatisticsTarget,
		DistinctTokenOverride: c.DistinctTokenHack,
		ExampleQueries:        eq,
		Lock: leaselock.Options{
			TTL:  c.LockTTL,
			Wait: c.LockWait,
		},
	}, nil
}

func Open(ctx context.Context, c *config.Config) (*App, error) {
	opts, err := PipelineOptions(c.Import)
	if err != nil {
		return nil, err
	}

	media, err := NewMediaStore(ctx, c.Media)
	if err != nil {
		return nil, fmt.Errorf("failed to open media store: %w", err)
	}

	pool, err := database.Connect(ctx, c.DatabaseURL)
	if err != nil {
		return nil, err
	}

	im := &extdata.Importer{
		Store:       media,
		Mime:        extdata.Merge(c.MimeTypes),
		HashWorkers: c.Import.HashWorkers,
	}
	return &App{
		Config:   c,
		Pool:     pool,
		Media:    media,
		Pipeline: importer.New(pool, leaselock.New(pool), im, opts),
	}, nil
}

func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
