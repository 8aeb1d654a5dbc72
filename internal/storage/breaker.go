package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
)

// BreakerSettings tunes the circuit breaker. Zero values use defaults.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	Logger      *zap.Logger
}

// Breaker fails fast with ErrUnavailable after consecutive backend failures,
// then lets a single trial request through once the open timeout passes.
type Breaker struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
}

// NewBreaker wraps b.
func NewBreaker(b Backend, s BreakerSettings) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 3
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.Name(),
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, graph.ErrInvalidSnapshot) || errors.Is(err, ErrInvalidUser)
		},
	})
	return &Breaker{backend: b, cb: cb}
}

func (b *Breaker) Name() string { return b.backend.Name() }

// State returns the breaker state name.
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Load(ctx context.Context, userID string) (*graph.Snapshot, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.backend.Load(ctx, userID)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return res.(*graph.Snapshot), nil
}

func (b *Breaker) Save(ctx context.Context, userID string, snap graph.Snapshot) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.backend.Save(ctx, userID, snap)
	})
	return unavailable(err)
}

func unavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
