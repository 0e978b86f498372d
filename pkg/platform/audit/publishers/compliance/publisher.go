// Package compliance provides a fail-closed audit publisher for governance events.
//
// Emit is synchronous: the caller blocks until the store write succeeds. When it
// fails an error is returned and the calling operation MUST fail. Inside a
// storage transaction the Postgres store joins the caller's transaction, so the
// audit row commits or rolls back together with the governance change.
//
// Use for: entity_created, review_status_changed, consent_*
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "alma/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
// Returns error if persistence fails - the caller MUST fail its operation.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Entity == "" {
		return fmt.Errorf("compliance event requires Entity")
	}
	if event.Action.Category() != audit.CategoryCompliance {
		return fmt.Errorf("%s is not a compliance event", event.Action)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	if err := p.store.Append(ctx, event.ToEvent()); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"entity", event.Entity,
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}
	return nil
}
