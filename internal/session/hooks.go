package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/hooks"
)

// hookTimeout bounds a single hook script.
const hookTimeout = 30 * time.Second

// AttachHooks runs post_save after each successful save and post_load after
// each applied restore. Either of saver and restorer may be nil. Hook
// failures are logged and otherwise ignored.
func AttachHooks(runner *hooks.Runner, saver *Saver, restorer *Restorer, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	run := func(phase, user, backend string, snap graph.Snapshot) {
		if !runner.Configured(phase) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		err := runner.Run(ctx, hooks.Event{
			Phase:   phase,
			User:    user,
			Backend: backend,
			Nodes:   len(snap.Nodes),
			Links:   len(snap.Links),
		})
		if err != nil {
			logger.Warn("hook failed", zap.String("phase", phase), zap.Error(err))
		}
	}

	if saver != nil {
		saver.OnSaved(func(res SaveResult) {
			if res.Err == nil {
				run(hooks.PostSave, saver.user, saver.backend.Name(), res.Snapshot)
			}
		})
	}
	if restorer != nil {
		restorer.OnLoad(func(snap graph.Snapshot) {
			run(hooks.PostLoad, restorer.user, restorer.backend.Name(), snap)
		})
	}
}
