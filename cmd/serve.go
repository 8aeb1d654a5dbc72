package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msalah0e/valence/internal/interact"
	"github.com/msalah0e/valence/internal/layout"
	"github.com/msalah0e/valence/internal/server"
	"github.com/msalah0e/valence/internal/session"
	"github.com/msalah0e/valence/internal/storage"
	"github.com/msalah0e/valence/internal/ui"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the live relationship map in the browser",
		Long: `Serve the interactive map. The layout runs on the server and is streamed
to every open page over a websocket; drags and clicks are sent back.

  valence serve
  valence serve --addr 127.0.0.1:8080`,
		Run: func(cmd *cobra.Command, args []string) {
			a := openApp(false)
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, a, addr); err != nil {
				a.fail("%v", err)
			}
			a.close()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// serve runs the layout, websocket hub, saver, file watcher and HTTP server
// until ctx is cancelled or one of them fails.
func serve(ctx context.Context, a *app, addr string) error {
	cfg := a.cfg
	logger := a.logger

	sim := layout.New(cfg.Layout)
	unfollow := layout.Follow(sim, a.store)
	defer unfollow()

	interval := time.Duration(cfg.Server.FrameMillis) * time.Millisecond
	runner := layout.NewRunner(sim, interval, logger.Named("layout"))
	layout.Persist(runner, a.store)

	ctrl := interact.New(a.store, sim)
	ctrl.SetThreshold(cfg.Server.DragThreshold)

	metrics := server.NewMetrics()
	a.saver.OnSaved(metrics.ObserveSave)
	session.AttachHooks(a.hooks, nil, a.restorer, logger)

	srv := server.New(server.Deps{
		Store:      a.store,
		Sim:        sim,
		Controller: ctrl,
		Restorer:   a.restorer,
		Metrics:    metrics,
		Logger:     logger.Named("http"),
		User:       a.user,
	})
	runner.OnFrame(srv.BroadcastFrame)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return a.saver.Run(gctx) })

	if fb, ok := a.backend.(*storage.FileBackend); ok && cfg.Server.Watch {
		watcher := storage.NewWatcher(fb, a.user, func() {
			if _, err := a.restorer.Restore(gctx); err != nil && !errors.Is(err, session.ErrSuperseded) {
				logger.Warn("reload after external change failed", zap.Error(err))
			}
		}, logger.Named("watch"))
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("serving", zap.String("addr", addr), zap.String("backend", a.backend.Name()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	ui.Banner("serve")
	fmt.Printf("  Map:      %s\n", ui.Brand.Sprint("http://"+addr))
	fmt.Printf("  Metrics:  %s\n", ui.Subtle.Sprint("http://"+addr+"/metrics"))
	fmt.Printf("  %s\n\n", ui.Subtle.Sprint("Ctrl-C to stop"))

	return g.Wait()
}
