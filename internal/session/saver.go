// Package session coordinates the in-memory store with a storage backend:
// mutations are saved in the background, restores are ordered so the most
// recent request wins, and snapshots can be replicated across backends.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/storage"
)

// DefaultSaveTimeout bounds a single backend save.
const DefaultSaveTimeout = 10 * time.Second

// SaveResult reports the outcome of one background save.
type SaveResult struct {
	Seq      uint64
	Snapshot graph.Snapshot
	Err      error
	Elapsed  time.Duration
}

// Saver persists store snapshots on a single background goroutine. Requests
// that arrive while a save is in flight are coalesced so only the newest
// snapshot is written next. A failed save leaves the store untouched; the
// snapshot is retried with the next request or on Flush.
type Saver struct {
	backend storage.Backend
	user    string
	logger  *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	pending    *graph.Snapshot
	pendingSeq uint64
	savedSeq   uint64
	observers  []func(SaveResult)

	saveMu sync.Mutex
	notify chan struct{}
}

// NewSaver creates a saver writing user's session to backend.
func NewSaver(backend storage.Backend, user string, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		backend: backend,
		user:    user,
		logger:  logger,
		timeout: DefaultSaveTimeout,
		notify:  make(chan struct{}, 1),
	}
}

// OnSaved registers fn for every save attempt, successful or not.
func (s *Saver) OnSaved(fn func(SaveResult)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Watch queues a save for every persistent store mutation.
func (s *Saver) Watch(store *graph.Store) func() {
	return store.Subscribe(func(ev graph.Event) {
		if ev.Persistent() {
			s.Enqueue(ev.Seq, ev.Snapshot)
		}
	})
}

// Enqueue requests a save of snap. Requests older than one already queued or
// saved are dropped.
func (s *Saver) Enqueue(seq uint64, snap graph.Snapshot) {
	s.mu.Lock()
	if seq <= s.pendingSeq || seq <= s.savedSeq {
		s.mu.Unlock()
		return
	}
	s.pending = &snap
	s.pendingSeq = seq
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending reports whether a snapshot is waiting to be saved.
func (s *Saver) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Run processes save requests until ctx is cancelled, then flushes anything
// still pending.
func (s *Saver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Warn("final session save failed", zap.Error(err))
			}
			return nil
		case <-s.notify:
			_ = s.saveOnce(ctx)
		}
	}
}

// Flush synchronously saves the pending snapshot, if any.
func (s *Saver) Flush(ctx context.Context) error {
	return s.saveOnce(ctx)
}

func (s *Saver) saveOnce(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snap, seq := s.pending, s.pendingSeq
	s.pending = nil
	s.mu.Unlock()
	if snap == nil {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := s.backend.Save(saveCtx, s.user, *snap)
	res := SaveResult{Seq: seq, Snapshot: *snap, Err: err, Elapsed: time.Since(start)}

	s.mu.Lock()
	if err != nil {
		if s.pending == nil {
			s.pending = snap
		}
	} else if seq > s.savedSeq {
		s.savedSeq = seq
	}
	observers := s.observers
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("session save failed",
			zap.String("backend", s.backend.Name()),
			zap.String("user", s.user),
			zap.Error(err))
	} else {
		s.logger.Debug("session saved",
			zap.String("backend", s.backend.Name()),
			zap.Uint64("seq", seq),
			zap.Duration("elapsed", res.Elapsed))
	}
	for _, fn := range observers {
		fn(res)
	}
	return err
}
