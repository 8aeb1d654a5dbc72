package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/storage"
)

// PushResult holds the outcome of writing a snapshot to one backend.
type PushResult struct {
	Backend string
	Err     error
	Elapsed time.Duration
}

// OK reports whether the push succeeded.
func (r PushResult) OK() bool { return r.Err == nil }

// Push writes snap to every backend concurrently, at most concurrency at a
// time. Results are returned in backend order; one failure does not stop the
// others.
func Push(ctx context.Context, user string, snap graph.Snapshot, backends []storage.Backend, concurrency int) []PushResult {
	if concurrency < 1 {
		concurrency = 4
	}
	results := make([]PushResult, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			start := time.Now()
			err := b.Save(gctx, user, snap)
			results[i] = PushResult{Backend: b.Name(), Err: err, Elapsed: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
