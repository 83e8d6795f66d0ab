package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flexiant/camanager/config"
	"github.com/flexiant/camanager/ledger"
	"github.com/flexiant/camanager/model"
	"github.com/flexiant/camanager/registry"
	"github.com/flexiant/camanager/storage"
	bboltstorage "github.com/flexiant/camanager/storage/bbolt"
	"github.com/flexiant/camanager/storage/memory"
	"github.com/flexiant/camanager/storage/postgres"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "camanager",
	Short: "camanager issues and revokes certificates for a set of CAs",
	Long: `A certificate authority service that issues, renews and revokes X.509
certificates for root and subordinate CAs and publishes their CRLs.

Settings are read from CAMANAGER_* environment variables (and a .env file);
flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	var err error
	if cfg, err = config.Load(config.Prefix); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for persistent data")
	pf.StringVar(&cfg.Storage, "storage", cfg.Storage, "Storage backend: bbolt, postgres or memory")
	pf.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
}

// backend bundles an opened repository with the registry built on it.
type backend struct {
	repo     storage.Repository
	registry *registry.Registry
	logger   *slog.Logger
	close    func()
}

// openBackend opens the configured document store.
func openBackend(ctx context.Context) (*backend, error) {
	logger := cfg.NewLogger(os.Stderr)

	var (
		repo    storage.Repository
		closeFn = func() {}
	)
	switch cfg.Storage {
	case config.StorageMemory:
		repo = memory.NewRepository()
	case config.StoragePostgres:
		pg, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		repo, closeFn = pg, pg.Close
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "camanager.db"), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		repo, closeFn = db, func() { _ = db.Close() }
	}

	l := ledger.New(repo)
	reg := registry.New(model.NewStore(repo, l), l, registry.WithLogger(logger))
	return &backend{repo: repo, registry: reg, logger: logger, close: closeFn}, nil
}
