package service

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"alma/internal/platform/metrics"
	"alma/internal/portfolio"
	regmodels "alma/internal/registry/models"
	"alma/pkg/domain"
	dErrors "alma/pkg/domain-errors"
	"alma/pkg/requestcontext"
)

const (
	// MaxCandidates bounds a single construction request.
	MaxCandidates = 500
	// scoringParallelism caps concurrent candidate loads.
	scoringParallelism = 8
)

// Registry is the gated read side of the entity store. Every read it serves
// has already passed access control and been logged as usage.
type Registry interface {
	Get(ctx context.Context, actor domain.Actor, ref domain.EntityRef) (regmodels.Entity, error)
	ListLinks(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]regmodels.Link, error)
}

// SignalCache holds computed signals by intervention id and version. A miss
// is (nil, nil).
type SignalCache interface {
	Get(ctx context.Context, id domain.InterventionID, version int64) (*portfolio.Signals, error)
	Set(ctx context.Context, s portfolio.Signals) error
}

type Service struct {
	registry Registry
	cache    SignalCache
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCache enables signal caching. Without it every request recomputes.
func WithCache(c SignalCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(registry Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer("alma/internal/portfolio/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signals computes the five portfolio signals for an intervention the actor
// can view.
func (s *Service) Signals(ctx context.Context, actor domain.Actor, id domain.InterventionID) (portfolio.Signals, error) {
	start := time.Now()
	c, err := s.candidate(ctx, actor, id)
	if err != nil {
		return portfolio.Signals{}, err
	}
	s.metrics.ObserveSignalCalculation(time.Since(start))
	return c.Signals, nil
}

// Construct scores the requested interventions in parallel and builds a
// portfolio under the given constraints. Any candidate the actor cannot view
// fails the request as not found.
func (s *Service) Construct(ctx context.Context, actor domain.Actor, ids []domain.InterventionID, constraints portfolio.Constraints) (portfolio.Result, error) {
	ctx, span := s.tracer.Start(ctx, "portfolio.construct", trace.WithAttributes(
		attribute.Int("portfolio.candidates", len(ids)),
		attribute.Int("portfolio.max_size", constraints.MaxSize),
	))
	defer span.End()

	if len(ids) == 0 {
		return portfolio.Result{}, dErrors.New(dErrors.CodeValidation, "candidate_ids is required")
	}
	if len(ids) > MaxCandidates {
		return portfolio.Result{}, dErrors.New(dErrors.CodeValidation, "too many candidate_ids")
	}
	if err := constraints.Validate(); err != nil {
		return portfolio.Result{}, err
	}

	ids = dedupe(ids)
	start := time.Now()
	candidates := make([]portfolio.Candidate, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringParallelism)
	for i, id := range ids {
		g.Go(func() error {
			c, err := s.candidate(gctx, actor, id)
			if err != nil {
				return err
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return portfolio.Result{}, err
	}
	s.metrics.ObserveSignalCalculation(time.Since(start))

	res := portfolio.Construct(candidates, constraints)
	s.metrics.ObservePortfolioSize(len(res.Selected))

	s.logger.InfoContext(ctx, "portfolio constructed",
		"candidates", len(candidates),
		"selected", len(res.Selected),
		"gaps", len(res.Gaps),
		"actor_id", actor.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	span.SetAttributes(attribute.Int("portfolio.selected", len(res.Selected)))
	span.SetStatus(codes.Ok, "constructed")
	return res, nil
}

func (s *Service) candidate(ctx context.Context, actor domain.Actor, id domain.InterventionID) (portfolio.Candidate, error) {
	e, err := s.registry.Get(ctx, actor, id.Ref())
	if err != nil {
		return portfolio.Candidate{}, err
	}
	in, ok := e.(*regmodels.Intervention)
	if !ok {
		return portfolio.Candidate{}, dErrors.New(dErrors.CodeInternal, "stored record is not an intervention")
	}

	evidence, contexts, err := s.linked(ctx, actor, id.Ref())
	if err != nil {
		return portfolio.Candidate{}, err
	}

	signals := portfolio.Annotate(s.score(ctx, in), evidence, contexts)
	return portfolio.NewCandidate(in, signals), nil
}

// score returns cached signals for in's current version or computes and
// caches them. Cache errors degrade to recomputation.
func (s *Service) score(ctx context.Context, in *regmodels.Intervention) portfolio.Signals {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, in.ID, in.Version)
		if err != nil {
			s.logger.WarnContext(ctx, "signal cache read failed",
				"intervention_id", in.ID,
				"error", err,
			)
		}
		if cached != nil {
			s.metrics.RecordSignalCache(true)
			return *cached
		}
		s.metrics.RecordSignalCache(false)
	}

	signals := portfolio.CalculateSignals(in, nil, nil)
	if s.cache != nil {
		if err := s.cache.Set(ctx, signals); err != nil {
			s.logger.WarnContext(ctx, "signal cache write failed",
				"intervention_id", in.ID,
				"error", err,
			)
		}
	}
	return signals
}

// linked loads the evidence and contexts attached to ref that the actor can
// view. Records that vanish between listing and loading are skipped.
func (s *Service) linked(ctx context.Context, actor domain.Actor, ref domain.EntityRef) ([]*regmodels.Evidence, []*regmodels.CommunityContext, error) {
	links, err := s.registry.ListLinks(ctx, actor, ref)
	if err != nil {
		return nil, nil, err
	}
	var (
		evidence []*regmodels.Evidence
		contexts []*regmodels.CommunityContext
	)
	for _, l := range links {
		other := l.Other(ref)
		if other.Kind != domain.KindEvidence && other.Kind != domain.KindCommunityContext {
			continue
		}
		e, err := s.registry.Get(ctx, actor, other)
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		switch v := e.(type) {
		case *regmodels.Evidence:
			evidence = append(evidence, v)
		case *regmodels.CommunityContext:
			contexts = append(contexts, v)
		}
	}
	return evidence, contexts, nil
}

func dedupe(ids []domain.InterventionID) []domain.InterventionID {
	out := make([]domain.InterventionID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
