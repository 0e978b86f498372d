package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"alma/internal/access"
	consentmodels "alma/internal/consent/models"
	"alma/internal/platform/metrics"
	"alma/internal/registry/models"
	"alma/internal/storage"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/sentinel"
	"alma/pkg/requestcontext"
)

// UsageLogger records permitted reads. Implementations never fail the caller.
type UsageLogger interface {
	LogUsage(ctx context.Context, ref domain.EntityRef, actor domain.Actor, action domain.ConsentUse, consent consentmodels.LedgerEntry, revenue *int64)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Service is the entity store: create, update, read and link the governed kinds.
type Service struct {
	store   storage.Stores
	tx      storage.TxRunner
	gate    *access.Gate
	usage   UsageLogger
	auditor ComplianceAuditor
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithUsageLogger(u UsageLogger) Option {
	return func(s *Service) { s.usage = u }
}

func WithAuditor(a ComplianceAuditor) Option {
	return func(s *Service) { s.auditor = a }
}

func New(store storage.Stores, tx storage.TxRunner, gate *access.Gate, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries a new record plus the terms of its initial consent when
// it is created above strictly_private.
type CreateInput struct {
	Entity              models.Entity
	PermittedUses       []domain.ConsentUse
	ExpiresAt           *time.Time
	RevenueShareEnabled bool
}

// Create persists a new draft record. When the requested consent level is
// elevated, the initial ledger entry is appended in the same transaction.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (models.Entity, error) {
	if !actor.IsAuthenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	e := in.Entity
	if e == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity is required")
	}
	now := requestcontext.Now(ctx)
	models.AssignID(e, uuid.New())
	g := e.Gov()

	// Rule 1: records start in draft
	if g.ReviewStatus == "" {
		g.ReviewStatus = domain.ReviewDraft
	}
	if g.ReviewStatus != domain.ReviewDraft {
		return nil, dErrors.New(dErrors.CodeInvalidState, "records are created in draft")
	}
	if g.ConsentLevel == "" {
		g.ConsentLevel = domain.ConsentStrictlyPrivate
	}

	// Rule 2: the creator must steward the record
	if g.OwnerOrg == nil && len(actor.Orgs) > 0 {
		owner := actor.Orgs[0]
		g.OwnerOrg = &owner
	}
	if owning := g.OwningOrg(); owning != nil && !actor.MemberOf(*owning) && !actor.Admin {
		return nil, dErrors.New(dErrors.CodeAccessDenied, "creator must belong to the owning organization")
	}

	// Rule 3: structural invariants
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateGovernance(e.Ref().Kind, g); err != nil {
		s.gate.ReportViolation(ctx, actor, e.Ref(), err)
		return nil, err
	}

	var initial *consentmodels.LedgerEntry
	if g.ConsentLevel.IsElevated() {
		req := consentmodels.GrantRequest{
			Entity:              e.Ref(),
			ConsentLevel:        g.ConsentLevel,
			PermittedUses:       in.PermittedUses,
			ExpiresAt:           in.ExpiresAt,
			RevenueShareEnabled: in.RevenueShareEnabled,
		}
		if err := req.Validate(now); err != nil {
			return nil, err
		}
		initial = &consentmodels.LedgerEntry{
			ID:                  domain.ConsentEntryID(uuid.New()),
			Entity:              e.Ref(),
			ConsentLevel:        g.ConsentLevel,
			PermittedUses:       consentmodels.NormalizeUses(in.PermittedUses),
			GrantedBy:           actor.ID,
			GrantedAt:           now,
			ExpiresAt:           in.ExpiresAt,
			RevenueShareEnabled: in.RevenueShareEnabled,
			Reason:              "initial consent",
		}
	}

	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now

	err := s.tx.RunInTx(ctx, e.Ref(), func(ctx context.Context, tx storage.Stores) error {
		if err := tx.InsertEntity(ctx, e); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				return dErrors.New(dErrors.CodeConflict, "entity already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create entity")
		}
		if initial != nil {
			if err := tx.AppendConsent(ctx, *initial); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append initial consent")
			}
		}
		return s.emit(ctx, actor, e.Ref(), audit.EventEntityCreated, string(g.ConsentLevel), "")
	})
	if err != nil {
		return nil, err
	}
	if initial != nil {
		s.metrics.IncrementConsentAppend(string(initial.ConsentLevel))
	}
	s.logger.InfoContext(ctx, "entity created",
		"entity", e.Ref().String(),
		"consent_level", g.ConsentLevel,
		"actor_id", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return e, nil
}

// Update applies mutate to the stored record inside its transaction and
// enforces the governance rules on the result. Consent changes go through the
// ledger, never through Update.
func (s *Service) Update(ctx context.Context, actor domain.Actor, ref domain.EntityRef, mutate func(models.Entity) error) (models.Entity, error) {
	if !actor.IsAuthenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	var updated models.Entity
	err := s.tx.RunInTx(ctx, ref, func(ctx context.Context, tx storage.Stores) error {
		now := requestcontext.Now(ctx)
		e, consent, err := access.Resolve(ctx, tx, ref, now)
		if err != nil {
			return err
		}
		if err := s.gate.AuthorizeManage(ctx, actor, e, consent); err != nil {
			return err
		}

		before := e.Clone()
		if err := mutate(e); err != nil {
			return err
		}
		if e.Ref() != ref {
			return dErrors.New(dErrors.CodeInvalidInput, "id cannot be changed")
		}
		if err := checkTransition(before.Gov(), e.Gov(), consent); err != nil {
			return err
		}

		g := e.Gov()
		g.Version = before.Gov().Version + 1
		g.CreatedAt = before.Gov().CreatedAt
		g.UpdatedAt = now
		if err := e.Validate(); err != nil {
			return err
		}
		if err := models.ValidateGovernance(ref.Kind, g); err != nil {
			return err
		}
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update entity")
		}
		if prev := before.Gov().ReviewStatus; prev != g.ReviewStatus {
			if err := s.emit(ctx, actor, ref, audit.EventReviewStatusChanged, string(g.ReviewStatus), string(prev)); err != nil {
				return err
			}
		}
		updated = e
		return nil
	})
	if err != nil {
		s.gate.ReportViolation(ctx, actor, ref, err)
		return nil, err
	}
	return updated, nil
}

// checkTransition validates what an update may change.
//  1. consent_level is never lowered by an update
//  2. consent_level is never raised by an update; grants go through the ledger
//  3. review status only moves forward
//  4. moving into published requires elevated effective consent
//  5. stewardship (cultural_authority, owner_org) is fixed while consent is elevated
func checkTransition(before, after *models.Governance, consent consentmodels.LedgerEntry) error {
	if after.ConsentLevel != before.ConsentLevel {
		if after.ConsentLevel.Less(before.ConsentLevel) {
			return dErrors.New(dErrors.CodeGovernanceViolation, "consent cannot be lowered by update; use revoke")
		}
		return dErrors.New(dErrors.CodeInvalidState, "consent cannot be raised by update; use grant")
	}
	if after.ReviewStatus != before.ReviewStatus && !before.ReviewStatus.CanTransitionTo(after.ReviewStatus) {
		return dErrors.New(dErrors.CodeInvalidState,
			"cannot move review status from "+string(before.ReviewStatus)+" to "+string(after.ReviewStatus))
	}
	publishing := after.ReviewStatus == domain.ReviewPublished && before.ReviewStatus != domain.ReviewPublished
	if publishing && !consent.ConsentLevel.IsElevated() {
		return dErrors.New(dErrors.CodeGovernanceViolation, "cannot publish while consent is strictly_private")
	}
	if consent.ConsentLevel.IsElevated() {
		if !sameOrg(before.CulturalAuthority, after.CulturalAuthority) || !sameOrg(before.OwnerOrg, after.OwnerOrg) {
			return dErrors.New(dErrors.CodeInvalidState, "revoke consent before changing cultural_authority or owner_org")
		}
	}
	return nil
}

func sameOrg(a, b *domain.OrgID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Get returns a record the actor may view and logs the read.
func (s *Service) Get(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.Entity, error) {
	res, err := s.gate.Authorize(ctx, ref, actor, domain.UseView)
	if err != nil {
		return nil, err
	}
	s.logRead(ctx, actor, res.Entity, res.Consent)
	return res.Entity, nil
}

// List returns records of kind that match filter and that the actor may view.
// Denied records are silently dropped.
func (s *Service) List(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filter models.Filter) ([]models.Entity, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown entity kind")
	}
	candidates, err := s.store.ListEntities(ctx, kind, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}
	now := requestcontext.Now(ctx)
	limit := filter.EffectiveLimit()
	out := make([]models.Entity, 0, min(limit, len(candidates)))
	for _, e := range candidates {
		if len(out) == limit {
			break
		}
		latest, err := s.store.LatestConsent(ctx, e.Ref())
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
		}
		consent := consentmodels.Effective(e.Ref(), latest, now)
		if !s.gate.Visible(actor, e, consent, domain.UseView) {
			continue
		}
		s.logRead(ctx, actor, e, consent)
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) logRead(ctx context.Context, actor domain.Actor, e models.Entity, consent consentmodels.LedgerEntry) {
	if s.usage == nil {
		return
	}
	s.usage.LogUsage(ctx, e.Ref(), actor, domain.UseView, consent, nil)
}

func (s *Service) emit(ctx context.Context, actor domain.Actor, ref domain.EntityRef, action audit.AuditEvent, decision, reason string) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp: requestcontext.Now(ctx),
		ActorID:   actor.ID,
		Entity:    ref.String(),
		Action:    action,
		Decision:  decision,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
