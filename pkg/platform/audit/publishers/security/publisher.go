// Package security provides a non-blocking audit publisher for security events
// such as denied access attempts. Events are buffered in memory and flushed to
// the audit store by a background loop; under pressure the oldest are dropped.
package security

import (
	"context"
	"log/slog"
	"time"

	audit "alma/pkg/platform/audit"
)

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
)

// Publisher buffers security events and persists them asynchronously.
type Publisher struct {
	store         audit.Store
	buf           *ringBuffer
	logger        *slog.Logger
	flushInterval time.Duration
}

// New creates a security publisher with the given buffer capacity.
func New(store audit.Store, capacity int, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:         store,
		buf:           newRingBuffer(capacity),
		logger:        logger,
		flushInterval: defaultFlushInterval,
	}
}

// Emit enqueues event without blocking. A nil publisher discards events.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}
	p.buf.push(event)
}

// Run flushes buffered events until ctx is done, then drains what is left.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush persists everything currently buffered. Store errors are logged and
// the failing batch is dropped.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buf.popBatch(defaultBatchSize)
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			if err := p.store.Append(ctx, e.ToEvent()); err != nil {
				if p.logger != nil {
					p.logger.WarnContext(ctx, "security audit write failed",
						"action", e.Action,
						"error", err,
					)
				}
				break
			}
		}
	}
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int { return p.buf.len() }

// Dropped returns how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 { return p.buf.droppedCount() }
