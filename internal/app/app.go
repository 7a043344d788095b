// Package app opens a workspace: config, logger, database, record store
// and engine, wired the same way for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/config"
	"github.com/jconstantine618/ai-consulting-crm/internal/db"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
	"github.com/jconstantine618/ai-consulting-crm/internal/logging"
	"github.com/jconstantine618/ai-consulting-crm/internal/migrate"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
)

// DefaultUserID owns the records created from the CLI when no user is given.
const DefaultUserID = "local-user"

type Options struct {
	Workspace string
	// Log overrides the logger built from config.
	Log *zap.Logger
	// RequireConfig fails when crm.yml is missing instead of using defaults.
	RequireConfig bool
	// Notify enables the configured cross-process notifier.
	Notify bool
}

type App struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
	DB        *sql.DB
	Store     *recordstore.Store
	Engine    engine.Engine

	notifier recordstore.Notifier
}

// Open loads config, migrates the database and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.RequireConfig {
		cfg, err = config.Load(opts.Workspace)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		if log, err = logging.New(cfg.Log.Mode, cfg.Log.Level); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Log: log, DB: conn}

	storeOpts := []recordstore.Option{recordstore.WithLogger(log.Named("store"))}
	if opts.Notify && strings.EqualFold(cfg.Notifier.Kind, "redis") {
		rdb, err := recordstore.DialRedis(ctx, cfg.Notifier.RedisAddr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.notifier = recordstore.NewRedisNotifier(rdb,
			recordstore.WithChannel(cfg.Notifier.Channel),
			recordstore.WithRedisLogger(log))
		storeOpts = append(storeOpts, recordstore.WithNotifier(a.notifier))
	}
	a.Store = recordstore.New(conn, storeOpts...)
	a.Engine = engine.New(a.Store, cfg)
	a.Engine.Log = log.Named("engine")
	return a, nil
}

// Start attaches the store to the notifier until ctx is done.
func (a *App) Start(ctx context.Context) error {
	return a.Store.Start(ctx)
}

// Close releases the notifier and database.
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	errs = append(errs, a.DB.Close())
	_ = a.Log.Sync()
	return errors.Join(errs...)
}

// UserID returns id, or DefaultUserID when it is blank.
func UserID(id string) string {
	if strings.TrimSpace(id) == "" {
		return DefaultUserID
	}
	return strings.TrimSpace(id)
}
