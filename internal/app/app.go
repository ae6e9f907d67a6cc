// Package app assembles the per-bucket file managers from configuration. Every
// binary goes through it so they agree on stores, tables and policies.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/filealloc/internal/alloc"
	"github.com/dharsanguruparan/filealloc/internal/config"
	"github.com/dharsanguruparan/filealloc/internal/database"
	"github.com/dharsanguruparan/filealloc/internal/files"
	"github.com/dharsanguruparan/filealloc/internal/filestore"
	pdfutil "github.com/dharsanguruparan/filealloc/internal/pdf"
	"github.com/dharsanguruparan/filealloc/internal/signing"
)

// textBucketSuffix names the bucket receiving text extracted by the pdf
// policy.
const textBucketSuffix = "-text"

// App holds the managers of every configured bucket and the resources they
// share.
type App struct {
	Config   *config.Config
	Managers files.Managers
	// Blobs is set for the memory backend only.
	Blobs  *filestore.MemoryBackend
	Logger zerolog.Logger

	closers []func()
}

// NewLogger builds the root logger from the configured level and format.
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Build connects the configured backend and constructs one manager per bucket.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	var err error
	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.buildMemory()
	case config.BackendMinio:
		err = a.buildMinio(ctx)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info().Str("backend", cfg.StoreBackend).Strs("buckets", a.Managers.Buckets()).Msg("file managers ready")
	return a, nil
}

func (a *App) buildMemory() {
	cfg := a.Config
	db := alloc.NewMemoryDB()
	a.Blobs = filestore.NewMemoryBackend(cfg.PublicURL, signing.NewSigner(cfg.SigningSecret), cfg.URLTTL)
	var ms []*files.Manager
	for _, bucket := range cfg.Buckets {
		var texts filestore.FileStore
		if cfg.Policy == "pdf" {
			texts = a.Blobs.Bucket(bucket + textBucketSuffix)
		}
		ms = append(ms, files.NewManager(bucket, db.Table(bucket), a.Blobs.Bucket(bucket),
			files.WithPolicy(a.policy(bucket, texts)), files.WithLogger(a.Logger)))
	}
	a.Managers = files.NewManagers(ms...)
}

func (a *App) buildMinio(ctx context.Context) error {
	cfg := a.Config
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := database.Migrate(ctx, pool, cfg.DatabaseURL, cfg.DBSchema, a.Logger); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	client, err := filestore.NewMinioClient(cfg)
	if err != nil {
		return fmt.Errorf("init minio client: %w", err)
	}
	newStore := func(bucket string) (*filestore.MinioStore, error) {
		store := filestore.NewMinioStore(client, bucket, cfg.S3Region, cfg.URLTTL)
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", bucket, err)
		}
		return store, nil
	}

	var ms []*files.Manager
	for _, bucket := range cfg.Buckets {
		store, err := newStore(bucket)
		if err != nil {
			return err
		}
		var texts filestore.FileStore
		if cfg.Policy == "pdf" {
			if texts, err = newStore(bucket + textBucketSuffix); err != nil {
				return err
			}
		}
		ms = append(ms, files.NewManager(bucket, alloc.NewPgTable(pool, cfg.DBSchema, bucket), store,
			files.WithPolicy(a.policy(bucket, texts)), files.WithLogger(a.Logger)))
	}
	a.Managers = files.NewManagers(ms...)
	return nil
}

func (a *App) policy(bucket string, texts filestore.FileStore) files.Policy {
	if a.Config.Policy != "pdf" {
		return files.DefaultPolicy{}
	}
	return &pdfutil.Policy{
		MaxPages:  a.Config.PDFMaxPages,
		TextStore: texts,
		Logger:    a.Logger.With().Str("component", "pdf-policy").Str("bucket", bucket).Logger(),
	}
}

// Close releases connections opened by Build.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
