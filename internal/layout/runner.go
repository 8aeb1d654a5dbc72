package layout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
)

// DefaultInterval is one tick per display refresh at 60Hz.
const DefaultInterval = time.Second / 60

// Emitter receives a frame after each tick. Emitters run on the runner
// goroutine before the next tick starts and must not block.
type Emitter func(Frame)

// Runner drives a Simulation on a ticker. While the simulation is settled or
// cold the runner sleeps until it is woken by a re-seed, reheat or drag.
type Runner struct {
	sim      *Simulation
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	onFrame  []Emitter
	onSettle []Emitter
}

// NewRunner creates a runner for sim. A zero interval uses DefaultInterval.
func NewRunner(sim *Simulation, interval time.Duration, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sim: sim, interval: interval, logger: logger}
}

// OnFrame registers fn for every frame.
func (r *Runner) OnFrame(fn Emitter) {
	r.mu.Lock()
	r.onFrame = append(r.onFrame, fn)
	r.mu.Unlock()
}

// OnSettle registers fn for the final frame of each run.
func (r *Runner) OnSettle(fn Emitter) {
	r.mu.Lock()
	r.onSettle = append(r.onSettle, fn)
	r.mu.Unlock()
}

// Run ticks until ctx is cancelled. No tick starts after cancellation is
// observed, and no emitter is called after Run returns.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	started := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, ok := r.sim.Tick()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-r.sim.Wake():
				continue
			}
		}
		if started.IsZero() {
			started = time.Now()
			r.logger.Debug("layout running", zap.Int("nodes", len(frame.Nodes)), zap.Float64("alpha", frame.Alpha))
		}

		r.mu.Lock()
		onFrame, onSettle := r.onFrame, r.onSettle
		r.mu.Unlock()

		for _, fn := range onFrame {
			fn(frame)
		}
		if frame.Settled {
			r.logger.Debug("layout settled",
				zap.Uint64("tick", frame.Tick),
				zap.Duration("elapsed", time.Since(started)))
			started = time.Time{}
			for _, fn := range onSettle {
				fn(frame)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Follow seeds sim from store and keeps it in step with structural changes.
// A session load or clear resets the simulation; other shape changes re-seed
// it, preserving surviving nodes. The returned function stops following.
func Follow(sim *Simulation, store *graph.Store) func() {
	var (
		mu      sync.Mutex
		lastSeq uint64
	)
	unsubscribe := store.Subscribe(func(ev graph.Event) {
		if !ev.ShapeChanged() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if ev.Seq <= lastSeq {
			return
		}
		lastSeq = ev.Seq
		switch ev.Kind {
		case graph.SessionLoaded, graph.SessionCleared:
			sim.Reset(ev.Snapshot.Nodes, ev.Snapshot.Links)
		default:
			sim.Reseed(ev.Snapshot.Nodes, ev.Snapshot.Links)
		}
	})
	sim.Reseed(store.Nodes(), store.Links())
	return unsubscribe
}

// Persist writes the settled layout back to store so it is saved with the
// session.
func Persist(r *Runner, store *graph.Store) {
	r.OnSettle(func(f Frame) {
		store.SetPositions(f.Positions())
	})
}
