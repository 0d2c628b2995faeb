package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nathoo/lorekeep/config"
	"github.com/nathoo/lorekeep/engine"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/storage/jsonfile"
	"github.com/nathoo/lorekeep/storage/memory"
	"github.com/nathoo/lorekeep/storage/sqlite"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	driver     string
	dbPath     string
	logLevel   string

	cfg    *config.Config
	log    *slog.Logger
	store  storage.Store
	engine *engine.Engine
}

// setup loads configuration, applies flag overrides and opens the store.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Storage.Driver = a.driver
	}
	if a.dbPath != "" {
		cfg.Storage.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.Log.Logger(cmd.ErrOrStderr())
	slog.SetDefault(a.log)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	a.store = store
	a.engine = engine.New(store, engine.Options{Logger: a.log, AsyncReindex: cfg.Reindex.Async})
	a.log.Debug("store opened", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)
	return nil
}

// teardown drains background reindexing and closes the store.
func (a *app) teardown() error {
	if a.engine != nil {
		a.engine.Wait()
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func openStore(cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverJSON:
		return jsonfile.Open(cfg.Path)
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return sqlite.Open(cfg.Path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
