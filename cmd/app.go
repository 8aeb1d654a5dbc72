package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/activity"
	"github.com/msalah0e/valence/internal/config"
	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/hooks"
	"github.com/msalah0e/valence/internal/logging"
	"github.com/msalah0e/valence/internal/session"
	"github.com/msalah0e/valence/internal/storage"
	"github.com/msalah0e/valence/internal/ui"
)

// commandTimeout bounds the load and save of a one-shot command.
const commandTimeout = 30 * time.Second

// app is one user's session, loaded from the configured backend with saving,
// hooks and the activity log attached.
type app struct {
	cfg      *config.Config
	user     string
	logger   *zap.Logger
	backend  storage.Backend
	store    *graph.Store
	restorer *session.Restorer
	saver    *session.Saver
	hooks    *hooks.Runner
	log      *activity.Log

	stops []func()
}

func newLogger(quiet bool) *zap.Logger {
	return logging.Must(logging.Options{
		Verbose: verboseFlag,
		JSON:    jsonLogs,
		Quiet:   quiet && !verboseFlag,
		Color:   loadConfig().UI.Color,
	})
}

// openBackend opens the named backend kind with the rest of the settings
// taken from config. An empty kind uses the configured one.
func openBackend(cfg *config.Config, kind string, logger *zap.Logger) (storage.Backend, error) {
	if kind == "" {
		kind = cfg.Storage.Backend
	}
	return storage.Open(storage.Options{
		Kind:        kind,
		Dir:         cfg.Storage.Dir,
		Encrypt:     cfg.Storage.Encrypt,
		SQLitePath:  cfg.Storage.SQLitePath,
		SupabaseURL: cfg.Supabase.URL,
		SupabaseKey: cfg.Supabase.Key,
		Logger:      logger,
	})
}

// openApp loads the session or exits. quiet keeps info logs off the terminal
// for one-shot commands.
func openApp(quiet bool) *app {
	cfg := loadConfig()
	logger := newLogger(quiet)

	user := cfg.Storage.User
	if err := storage.ValidUser(user); err != nil {
		ui.Bad.Printf("  %v\n", err)
		os.Exit(1)
	}

	backend, err := openBackend(cfg, "", logger)
	if err != nil {
		ui.Bad.Printf("  Failed to open %s storage: %v\n", cfg.Storage.Backend, err)
		os.Exit(1)
	}

	a := &app{
		cfg:     cfg,
		user:    user,
		logger:  logger.With(zap.String("user", user)),
		backend: backend,
		store:   graph.New(),
		hooks:   hooks.New(cfg.Hooks),
	}
	a.restorer = session.NewRestorer(backend, a.store, user, a.logger)
	a.saver = session.NewSaver(backend, user, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := a.restore(ctx); err != nil {
		ui.Bad.Printf("  Failed to load session: %v\n", err)
		os.Exit(1)
	}

	a.stops = append(a.stops, a.saver.Watch(a.store))
	session.AttachHooks(a.hooks, a.saver, nil, a.logger)
	if cfg.Activity.Enabled {
		a.log = activity.Open(activity.DefaultPath())
		a.stops = append(a.stops, a.log.Record(a.store, user, func(err error) {
			a.logger.Debug("activity log write failed", zap.Error(err))
		}))
	}
	return a
}

// restore loads the saved session. A missing session starts fresh. Any other
// failure is fatal so an unreachable backend is never overwritten with an
// empty map.
func (a *app) restore(ctx context.Context) error {
	_, err := a.restorer.Restore(ctx)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// commit saves pending changes or exits.
func (a *app) commit() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := a.saver.Flush(ctx); err != nil {
		ui.Bad.Printf("  Failed to save session: %v\n", err)
		ui.Subtle.Println("  Your change was not persisted.")
		a.close()
		os.Exit(1)
	}
	a.close()
}

func (a *app) close() {
	for _, stop := range a.stops {
		stop()
	}
	a.stops = nil
	if c, ok := a.backend.(io.Closer); ok {
		_ = c.Close()
	}
	_ = a.logger.Sync()
}

// fail prints err and exits.
func (a *app) fail(format string, args ...any) {
	ui.Bad.Printf("  "+format+"\n", args...)
	a.close()
	os.Exit(1)
}
