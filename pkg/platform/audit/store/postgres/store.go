package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"alma/pkg/domain"
	audit "alma/pkg/platform/audit"
	txcontext "alma/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. Writes join the
// transaction carried in ctx so compliance rows commit with the change they record.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts an audit event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	var actor *uuid.UUID
	if !event.ActorID.IsNil() {
		a := uuid.UUID(event.ActorID)
		actor = &a
	}

	const query = `
		INSERT INTO audit_events (id, category, occurred_at, actor_id, entity, action, decision, reason, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := txcontext.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		string(category),
		event.Timestamp,
		actor,
		event.Entity,
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByEntity returns the events recorded against entity, oldest first.
func (s *Store) ListByEntity(ctx context.Context, entity string) ([]audit.Event, error) {
	const query = `
		SELECT category, occurred_at, actor_id, entity, action, decision, reason, request_id
		FROM audit_events
		WHERE entity = $1
		ORDER BY occurred_at, id
	`
	rows, err := txcontext.QuerierFrom(ctx, s.db).QueryContext(ctx, query, entity)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			category string
			actor    uuid.NullUUID
		)
		if err := rows.Scan(&category, &e.Timestamp, &actor, &e.Entity, &e.Action, &e.Decision, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		if actor.Valid {
			e.ActorID = domain.ActorID(actor.UUID)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
