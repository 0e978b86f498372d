package audit

import (
	"context"
	"time"

	"alma/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers governance changes a community may need to
	// reconstruct later: consent grants and revocations, review decisions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denied access attempts and similar signals.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is the persisted, transport-agnostic audit record.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	ActorID   domain.ActorID
	// Entity is the encoded entity ref the action touched.
	Entity    string
	Action    string
	Decision  string
	Reason    string
	RequestID string
}

type AuditEvent string

const (
	EventEntityCreated       AuditEvent = "entity_created"
	EventReviewStatusChanged AuditEvent = "review_status_changed"
	EventConsentGranted      AuditEvent = "consent_granted"
	EventConsentRevoked      AuditEvent = "consent_revoked"

	EventAccessDenied        AuditEvent = "access_denied"
	EventGovernanceViolation AuditEvent = "governance_violation"

	EventEthicsCheckFlagged AuditEvent = "ethics_check_flagged"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventEntityCreated:       CategoryCompliance,
	EventReviewStatusChanged: CategoryCompliance,
	EventConsentGranted:      CategoryCompliance,
	EventConsentRevoked:      CategoryCompliance,

	EventAccessDenied:        CategorySecurity,
	EventGovernanceViolation: CategorySecurity,

	EventEthicsCheckFlagged: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entity string) ([]Event, error)
}

// ComplianceEvent captures governance changes requiring guaranteed persistence.
// Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time
	ActorID   domain.ActorID
	Entity    string
	Action    AuditEvent
	Decision  string
	Reason    string
	RequestID string
}

// ToEvent converts to the persisted form.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Entity:    e.Entity,
		Action:    string(e.Action),
		Decision:  e.Decision,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}

// SecurityEvent captures security-relevant actions. Emission never blocks the caller.
type SecurityEvent struct {
	Timestamp time.Time
	ActorID   domain.ActorID
	Entity    string
	Action    AuditEvent
	Reason    string
	IP        string
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ToEvent converts to the persisted form. The category follows the action, so
// best-effort operational signals share the non-blocking path.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  e.Action.Category(),
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		Entity:    e.Entity,
		Action:    string(e.Action),
		Decision:  string(e.Severity),
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}
