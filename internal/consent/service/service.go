package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"alma/internal/access"
	"alma/internal/consent/models"
	"alma/internal/platform/metrics"
	regmodels "alma/internal/registry/models"
	"alma/internal/storage"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/sentinel"
	"alma/pkg/requestcontext"
)

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Service owns the consent ledger. Every grant and revocation appends an
// immutable entry and mirrors the tier onto the record in one transaction.
type Service struct {
	store   storage.Stores
	tx      storage.TxRunner
	gate    *access.Gate
	auditor ComplianceAuditor
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditor(a ComplianceAuditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(store storage.Stores, tx storage.TxRunner, gate *access.Gate, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tx:     tx,
		gate:   gate,
		logger: slog.Default(),
		tracer: otel.Tracer("alma/internal/consent/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant appends an elevated consent entry for the record and mirrors its tier
// onto the record. The record must pass the shared governance validation with
// the new tier, so a record without a cultural authority cannot be elevated.
func (s *Service) Grant(ctx context.Context, actor domain.Actor, req models.GrantRequest) (models.LedgerEntry, error) {
	ctx, span := s.tracer.Start(ctx, "consent.grant", trace.WithAttributes(
		attribute.String("consent.entity", req.Entity.String()),
		attribute.String("consent.level", string(req.ConsentLevel)),
	))
	defer span.End()

	if !actor.IsAuthenticated() {
		return models.LedgerEntry{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := req.Validate(requestcontext.Now(ctx)); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return models.LedgerEntry{}, err
	}

	var entry models.LedgerEntry
	err := s.tx.RunInTx(ctx, req.Entity, func(ctx context.Context, tx storage.Stores) error {
		now := requestcontext.Now(ctx)
		e, consent, err := access.Resolve(ctx, tx, req.Entity, now)
		if err != nil {
			return err
		}
		if err := s.gate.AuthorizeManage(ctx, actor, e, consent); err != nil {
			return err
		}
		if req.ConsentLevel.Less(consent.ConsentLevel) {
			return dErrors.New(dErrors.CodeInvalidState, "use revoke to lower consent")
		}

		g := e.Gov()
		g.ConsentLevel = req.ConsentLevel
		if err := regmodels.ValidateGovernance(req.Entity.Kind, g); err != nil {
			return err
		}

		entry = models.LedgerEntry{
			ID:                  domain.ConsentEntryID(uuid.New()),
			Entity:              req.Entity,
			ConsentLevel:        req.ConsentLevel,
			PermittedUses:       models.NormalizeUses(req.PermittedUses),
			GrantedBy:           actor.ID,
			GrantedAt:           now,
			ExpiresAt:           req.ExpiresAt,
			RevenueShareEnabled: req.RevenueShareEnabled,
		}
		if err := s.commit(ctx, tx, e, entry, now); err != nil {
			return err
		}
		return s.emit(ctx, actor, entry, audit.EventConsentGranted)
	})
	if err != nil {
		s.gate.ReportViolation(ctx, actor, req.Entity, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		return models.LedgerEntry{}, err
	}

	s.metrics.IncrementConsentAppend(string(entry.ConsentLevel))
	s.logger.InfoContext(ctx, "consent granted",
		"entity", entry.Entity.String(),
		"consent_level", entry.ConsentLevel,
		"consent_entry_id", entry.ID,
		"actor_id", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	span.SetStatus(codes.Ok, "granted")
	return entry, nil
}

// Revoke appends a strictly_private entry and pulls an approved or published
// record back into community review. The record and its history are kept.
func (s *Service) Revoke(ctx context.Context, actor domain.Actor, ref domain.EntityRef, reason string) (models.LedgerEntry, error) {
	ctx, span := s.tracer.Start(ctx, "consent.revoke", trace.WithAttributes(
		attribute.String("consent.entity", ref.String()),
	))
	defer span.End()

	if !actor.IsAuthenticated() {
		return models.LedgerEntry{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if ref.IsZero() {
		return models.LedgerEntry{}, dErrors.New(dErrors.CodeInvalidInput, "entity is required")
	}

	var entry models.LedgerEntry
	err := s.tx.RunInTx(ctx, ref, func(ctx context.Context, tx storage.Stores) error {
		now := requestcontext.Now(ctx)
		e, consent, err := access.Resolve(ctx, tx, ref, now)
		if err != nil {
			return err
		}
		if err := s.gate.AuthorizeManage(ctx, actor, e, consent); err != nil {
			return err
		}

		g := e.Gov()
		g.ConsentLevel = domain.ConsentStrictlyPrivate
		if g.ReviewStatus.IsPublicFacing() {
			g.ReviewStatus = domain.ReviewCommunityReview
		}
		if err := regmodels.ValidateGovernance(ref.Kind, g); err != nil {
			return err
		}

		entry = models.LedgerEntry{
			ID:            domain.ConsentEntryID(uuid.New()),
			Entity:        ref,
			ConsentLevel:  domain.ConsentStrictlyPrivate,
			PermittedUses: []domain.ConsentUse{},
			GrantedBy:     actor.ID,
			GrantedAt:     now,
			Reason:        reason,
		}
		if err := s.commit(ctx, tx, e, entry, now); err != nil {
			return err
		}
		return s.emit(ctx, actor, entry, audit.EventConsentRevoked)
	})
	if err != nil {
		s.gate.ReportViolation(ctx, actor, ref, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "revoke failed")
		return models.LedgerEntry{}, err
	}

	s.metrics.IncrementConsentAppend(string(entry.ConsentLevel))
	s.logger.InfoContext(ctx, "consent revoked",
		"entity", ref.String(),
		"consent_entry_id", entry.ID,
		"actor_id", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	span.SetStatus(codes.Ok, "revoked")
	return entry, nil
}

func (s *Service) commit(ctx context.Context, tx storage.Stores, e regmodels.Entity, entry models.LedgerEntry, now time.Time) error {
	g := e.Gov()
	g.Version++
	g.UpdatedAt = now
	if err := tx.AppendConsent(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append consent entry")
	}
	if err := tx.UpdateEntity(ctx, e); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mirror consent onto record")
	}
	return nil
}

// Current returns the consent in force for a record the actor may view. An
// expired latest entry surfaces as an implicit strictly_private entry.
func (s *Service) Current(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.LedgerEntry, error) {
	res, err := s.gate.Authorize(ctx, ref, actor, domain.UseView)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return res.Consent, nil
}

// History lists every ledger entry for the record in append order.
func (s *Service) History(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]models.LedgerEntry, error) {
	if _, err := s.gate.Authorize(ctx, ref, actor, domain.UseView); err != nil {
		return nil, err
	}
	history, err := s.store.ConsentHistory(ctx, ref)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent history")
	}
	return history, nil
}

func (s *Service) emit(ctx context.Context, actor domain.Actor, entry models.LedgerEntry, action audit.AuditEvent) error {
	if s.auditor == nil {
		return nil
	}
	err := s.auditor.Emit(ctx, audit.ComplianceEvent{
		Timestamp: entry.GrantedAt,
		ActorID:   actor.ID,
		Entity:    entry.Entity.String(),
		Action:    action,
		Decision:  string(entry.ConsentLevel),
		Reason:    entry.Reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
