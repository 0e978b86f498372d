package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	consentmodels "alma/internal/consent/models"
	regmodels "alma/internal/registry/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	audit "alma/pkg/platform/audit"
	"alma/pkg/platform/sentinel"
	"alma/pkg/requestcontext"
)

// Reader loads the state the evaluator needs. storage.Stores satisfies it, so
// a Gate can evaluate against a transaction's view as well as the live store.
type Reader interface {
	GetEntity(ctx context.Context, ref domain.EntityRef) (regmodels.Entity, error)
	LatestConsent(ctx context.Context, ref domain.EntityRef) (*consentmodels.LedgerEntry, error)
}

type DecisionRecorder interface {
	RecordAccessDecision(rule string, allowed bool)
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

// Resolved is an entity together with its effective consent and the decision
// that admitted the caller.
type Resolved struct {
	Entity   regmodels.Entity
	Consent  consentmodels.LedgerEntry
	Decision Decision
}

// Gate applies the access policy to stored records. Denied reads surface as
// not_found so the existence of private records does not leak.
type Gate struct {
	reader  Reader
	metrics DecisionRecorder
	auditor SecurityAuditor
	logger  *slog.Logger
}

type GateOption func(*Gate)

func WithMetrics(m DecisionRecorder) GateOption { return func(g *Gate) { g.metrics = m } }
func WithAuditor(a SecurityAuditor) GateOption  { return func(g *Gate) { g.auditor = a } }
func WithLogger(l *slog.Logger) GateOption      { return func(g *Gate) { g.logger = l } }

func NewGate(reader Reader, opts ...GateOption) *Gate {
	g := &Gate{reader: reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SubjectOf builds the evaluator input for e under its effective consent.
func SubjectOf(e regmodels.Entity, consent consentmodels.LedgerEntry) Subject {
	g := e.Gov()
	return Subject{
		Ref:          e.Ref(),
		ReviewStatus: g.ReviewStatus,
		Consent:      consent,
		OwnerOrg:     g.OwningOrg(),
	}
}

// Resolve loads ref and its effective consent without evaluating access.
func Resolve(ctx context.Context, r Reader, ref domain.EntityRef, now time.Time) (regmodels.Entity, consentmodels.LedgerEntry, error) {
	e, err := r.GetEntity(ctx, ref)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, consentmodels.LedgerEntry{}, dErrors.New(dErrors.CodeNotFound, string(ref.Kind)+" not found")
		}
		return nil, consentmodels.LedgerEntry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}
	latest, err := r.LatestConsent(ctx, ref)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, consentmodels.LedgerEntry{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	return e, consentmodels.Effective(ref, latest, now), nil
}

// Authorize loads ref and checks actor may perform action on it.
func (g *Gate) Authorize(ctx context.Context, ref domain.EntityRef, actor domain.Actor, action domain.ConsentUse) (Resolved, error) {
	e, consent, err := Resolve(ctx, g.reader, ref, requestcontext.Now(ctx))
	if err != nil {
		return Resolved{}, err
	}
	d := g.Evaluate(ctx, actor, e, consent, action)
	if !d.Allowed {
		return Resolved{}, dErrors.New(dErrors.CodeNotFound, string(ref.Kind)+" not found")
	}
	return Resolved{Entity: e, Consent: consent, Decision: d}, nil
}

// Evaluate runs CanAccess and records the outcome.
func (g *Gate) Evaluate(ctx context.Context, actor domain.Actor, e regmodels.Entity, consent consentmodels.LedgerEntry, action domain.ConsentUse) Decision {
	d := CanAccess(actor, SubjectOf(e, consent), action)
	g.record(ctx, actor, e.Ref(), d, string(action))
	return d
}

// Visible runs CanAccess for listing filters. Only the metric is recorded:
// a list hiding records the caller cannot see is not an access attempt.
func (g *Gate) Visible(actor domain.Actor, e regmodels.Entity, consent consentmodels.LedgerEntry, action domain.ConsentUse) bool {
	d := CanAccess(actor, SubjectOf(e, consent), action)
	if g.metrics != nil {
		g.metrics.RecordAccessDecision(string(d.Rule), d.Allowed)
	}
	return d.Allowed
}

// AuthorizeManage checks actor may modify e. Callers that can see the record
// get access_denied; everyone else gets not_found.
func (g *Gate) AuthorizeManage(ctx context.Context, actor domain.Actor, e regmodels.Entity, consent consentmodels.LedgerEntry) error {
	subject := SubjectOf(e, consent)
	d := CanManage(actor, subject)
	g.record(ctx, actor, e.Ref(), d, "manage")
	if d.Allowed {
		return nil
	}
	if CanAccess(actor, subject, domain.UseView).Allowed {
		return dErrors.New(dErrors.CodeAccessDenied, "only the owning organization or an admin may change this record")
	}
	return dErrors.New(dErrors.CodeNotFound, string(e.Ref().Kind)+" not found")
}

func (g *Gate) record(ctx context.Context, actor domain.Actor, ref domain.EntityRef, d Decision, action string) {
	if g.metrics != nil {
		g.metrics.RecordAccessDecision(string(d.Rule), d.Allowed)
	}
	if d.Allowed {
		return
	}
	if g.logger != nil {
		g.logger.DebugContext(ctx, "access denied",
			"entity", ref.String(),
			"action", action,
			"actor_id", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if g.auditor != nil && actor.IsAuthenticated() {
		g.auditor.Emit(ctx, audit.SecurityEvent{
			ActorID:   actor.ID,
			Entity:    ref.String(),
			Action:    audit.EventAccessDenied,
			Reason:    action,
			IP:        requestcontext.ClientIP(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Severity:  audit.SeverityInfo,
		})
	}
}

// ReportViolation records a rejected governance change on the security trail.
// Errors carrying any other code are ignored.
func (g *Gate) ReportViolation(ctx context.Context, actor domain.Actor, ref domain.EntityRef, err error) {
	de, ok := dErrors.As(err)
	if !ok || de.Code != dErrors.CodeGovernanceViolation || g.auditor == nil {
		return
	}
	g.auditor.Emit(ctx, audit.SecurityEvent{
		ActorID:   actor.ID,
		Entity:    ref.String(),
		Action:    audit.EventGovernanceViolation,
		Reason:    de.Message,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityWarning,
	})
}
