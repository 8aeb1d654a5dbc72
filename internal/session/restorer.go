package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/storage"
)

// ErrSuperseded is returned by a restore whose result was discarded because
// a later restore or clear was requested while it was loading.
var ErrSuperseded = errors.New("restore superseded by a later request")

// Restorer loads a user's session into the store. Every Restore, Load or
// Clear takes a generation number; a restore only applies if no later request
// has been made by the time its load completes.
type Restorer struct {
	backend storage.Backend
	store   *graph.Store
	user    string
	logger  *zap.Logger

	gen    atomic.Uint64
	mu     sync.Mutex
	onLoad []func(graph.Snapshot)
}

// NewRestorer creates a restorer for user's session.
func NewRestorer(backend storage.Backend, store *graph.Store, user string, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restorer{backend: backend, store: store, user: user, logger: logger}
}

// OnLoad registers fn for every applied restore.
func (r *Restorer) OnLoad(fn func(graph.Snapshot)) {
	r.mu.Lock()
	r.onLoad = append(r.onLoad, fn)
	r.mu.Unlock()
}

// Restore fetches the saved session and replaces the store contents with it.
// storage.ErrNotFound leaves the store as it is.
func (r *Restorer) Restore(ctx context.Context) (*graph.Snapshot, error) {
	gen := r.gen.Add(1)

	snap, err := r.backend.Load(ctx, r.user)
	if err != nil {
		if r.gen.Load() != gen {
			return nil, ErrSuperseded
		}
		return nil, err
	}

	r.mu.Lock()
	if r.gen.Load() != gen {
		r.mu.Unlock()
		r.logger.Debug("discarding stale restore", zap.Uint64("generation", gen))
		return nil, ErrSuperseded
	}
	if err := r.store.LoadSession(*snap); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	onLoad := r.onLoad
	r.mu.Unlock()

	r.logger.Info("session restored",
		zap.String("backend", r.backend.Name()),
		zap.String("user", r.user),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("links", len(snap.Links)))
	for _, fn := range onLoad {
		fn(*snap)
	}
	return snap, nil
}

// Load replaces the store contents with snap, as an import does. Restores
// still loading are discarded. An invalid snapshot changes nothing.
func (r *Restorer) Load(snap graph.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.LoadSession(snap); err != nil {
		return err
	}
	r.gen.Add(1)
	return nil
}

// Clear resets the store and discards any restore still in flight.
func (r *Restorer) Clear() {
	r.mu.Lock()
	r.gen.Add(1)
	r.store.ClearSession()
	r.mu.Unlock()
}
