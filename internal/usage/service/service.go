package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"alma/internal/access"
	consentmodels "alma/internal/consent/models"
	"alma/internal/platform/metrics"
	"alma/internal/storage"
	"alma/internal/usage/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/requestcontext"
)

// Publisher forwards attributable usage downstream.
type Publisher interface {
	Publish(ctx context.Context, e models.Entry) error
}

// Service is the usage and attribution log. Logging a use never fails or
// slows down the read that caused it beyond the append itself.
type Service struct {
	store     storage.Usage
	gate      *access.Gate
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func New(store storage.Usage, gate *access.Gate, opts ...Option) *Service {
	s := &Service{store: store, gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogUsage appends a usage entry for an allowed access. Errors are logged and
// counted, never returned.
func (s *Service) LogUsage(ctx context.Context, ref domain.EntityRef, actor domain.Actor, action domain.ConsentUse, consent consentmodels.LedgerEntry, revenue *int64) {
	s.log(ctx, ref, actor, action, consent, revenue)
}

func (s *Service) log(ctx context.Context, ref domain.EntityRef, actor domain.Actor, action domain.ConsentUse, consent consentmodels.LedgerEntry, revenue *int64) models.Entry {
	entry := models.Entry{
		ID:                  domain.UsageEntryID(uuid.New()),
		Entity:              ref,
		ActorID:             actor.ID,
		Action:              action,
		Timestamp:           requestcontext.Now(ctx),
		RevenueGenerated:    revenue,
		ConsentEntryID:      consent.ID,
		ConsentLevel:        consent.ConsentLevel,
		RevenueShareEnabled: consent.RevenueShareEnabled,
		Client:              clientChannel(requestcontext.UserAgent(ctx)),
	}

	if err := s.store.AppendUsage(ctx, entry); err != nil {
		s.metrics.IncrementUsageFailure("store")
		s.logger.ErrorContext(ctx, "failed to append usage entry",
			"entity", ref.String(),
			"action", action,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return entry
	}
	s.metrics.IncrementUsageAppend()

	if entry.Attributable() && s.publisher != nil {
		if err := s.publisher.Publish(ctx, entry); err != nil {
			s.metrics.IncrementUsageFailure("publish")
			s.metrics.RecordAttributionEvent(false)
			s.logger.WarnContext(ctx, "failed to publish attribution event",
				"entity", ref.String(),
				"usage_id", entry.ID,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		} else {
			s.metrics.RecordAttributionEvent(true)
		}
	}
	return entry
}

// Record logs a use the caller reports, such as a licensed republication
// that generated revenue. The action itself must be permitted.
func (s *Service) Record(ctx context.Context, actor domain.Actor, ref domain.EntityRef, action domain.ConsentUse, revenue *int64) (models.Entry, error) {
	if !actor.IsAuthenticated() {
		return models.Entry{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !action.IsValid() {
		return models.Entry{}, dErrors.New(dErrors.CodeInvalidInput, "invalid action")
	}
	if revenue != nil && *revenue < 0 {
		return models.Entry{}, dErrors.New(dErrors.CodeInvalidInput, "revenue_generated cannot be negative")
	}
	res, err := s.gate.Authorize(ctx, ref, actor, action)
	if err != nil {
		return models.Entry{}, err
	}
	return s.log(ctx, ref, actor, action, res.Consent, revenue), nil
}

// List returns usage entries. Admin only.
func (s *Service) List(ctx context.Context, actor domain.Actor, q models.Query) ([]models.Entry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	entries, err := s.store.ListUsage(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list usage")
	}
	return entries, nil
}

// Attribution summarizes revenue-share eligible usage of ref. Admin only.
func (s *Service) Attribution(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (models.Attribution, error) {
	if err := requireAdmin(actor); err != nil {
		return models.Attribution{}, err
	}
	entries, err := s.store.ListUsage(ctx, models.Query{Entity: ref})
	if err != nil {
		return models.Attribution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list usage")
	}
	return models.Summarize(ref, entries), nil
}

func requireAdmin(actor domain.Actor) error {
	if !actor.IsAuthenticated() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Admin {
		return dErrors.New(dErrors.CodeAccessDenied, "admin access required")
	}
	return nil
}

// clientChannel reduces a user agent to the family used for attribution.
func clientChannel(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, _ := ua.Browser()
	if name == "" {
		return "other"
	}
	if ua.Mobile() {
		return name + " mobile"
	}
	return name
}
