package cache

import (
	"context"
	"log/slog"

	"alma/internal/portfolio"
	"alma/pkg/domain"
	"alma/pkg/platform/circuit"
)

type signalStore interface {
	Get(ctx context.Context, id domain.InterventionID, version int64) (*portfolio.Signals, error)
	Set(ctx context.Context, s portfolio.Signals) error
}

// Guarded skips a failing cache while its breaker is open. Skipped reads are
// misses and skipped writes are dropped.
type Guarded struct {
	next    signalStore
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next signalStore, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) Get(ctx context.Context, id domain.InterventionID, version int64) (*portfolio.Signals, error) {
	if !g.breaker.Allow() {
		return nil, nil
	}
	s, err := g.next.Get(ctx, id, version)
	g.record(ctx, err)
	return s, err
}

func (g *Guarded) Set(ctx context.Context, s portfolio.Signals) error {
	if !g.breaker.Allow() {
		return nil
	}
	err := g.next.Set(ctx, s)
	g.record(ctx, err)
	return err
}

func (g *Guarded) record(ctx context.Context, err error) {
	if err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "signal cache circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "signal cache circuit closed", "breaker", g.breaker.Name())
	}
}
