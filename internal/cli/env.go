package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ppiankov/mandate/internal/authority"
	"github.com/ppiankov/mandate/internal/config"
	"github.com/ppiankov/mandate/internal/ledger"
	"github.com/ppiankov/mandate/internal/ledger/sqlstore"
	"github.com/ppiankov/mandate/internal/logging"
	"github.com/ppiankov/mandate/internal/metrics"
	"github.com/ppiankov/mandate/internal/monitor"
)

// env is what a local command needs: configuration, a store and the service over it.
type env struct {
	cfg    *config.Config
	store  ledger.Store
	svc    *authority.Service
	logger *slog.Logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer, quiet bool) (*slog.Logger, error) {
	level := cfg.Log.Level
	if quiet && !verbose {
		level = "warn"
	}
	return logging.New(w, level, cfg.Log.Format)
}

// openStore opens the configured ledger backend, creating the SQLite directory if needed.
func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return ledger.NewMemoryStore(), nil
	case config.DriverSQLite:
		path := cfg.SQLitePath()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("cannot create data directory: %w", err)
			}
		}
		return sqlstore.OpenSQLite(path)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func newService(cfg *config.Config, store ledger.Store, m *metrics.Metrics, logger *slog.Logger) *authority.Service {
	return authority.New(authority.Options{
		Store:      store,
		Locks:      authority.NewLocks(),
		MaxRetries: cfg.Authority.MaxRetries,
		TxTimeout:  cfg.Authority.TxTimeout,
		Metrics:    m,
		Logger:     logger,
	})
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, os.Stderr, true)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: store, svc: newService(cfg, store, nil, logger), logger: logger}, nil
}

func (e *env) monitor() *monitor.Monitor {
	return monitor.New(e.cfg.MonitorSettings(), e.store, nil, e.logger)
}

func (e *env) Close() error {
	return e.store.Close()
}
