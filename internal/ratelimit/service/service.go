// Package service decides whether a request fits its caller's budget.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"alma/internal/ratelimit/models"
	"alma/pkg/domain"
	"alma/pkg/platform/circuit"
)

// BucketStore counts requests in a sliding window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Metrics records limiter outcomes.
type Metrics interface {
	RecordRateLimit(class string, allowed bool)
	RecordRateLimitFallback()
}

// DefaultLimits apply per caller and class unless overridden.
var DefaultLimits = map[models.EndpointClass]models.Limit{
	models.ClassRead:  {Requests: 300, Window: time.Minute},
	models.ClassWrite: {Requests: 60, Window: time.Minute},
}

type Service struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLimits replaces the budget for the given classes.
func WithLimits(limits map[models.EndpointClass]models.Limit) Option {
	return func(s *Service) {
		for class, l := range limits {
			s.limits[class] = l
		}
	}
}

// WithFallback counts in fallback while breaker reports the primary store as
// failing.
func WithFallback(fallback BucketStore, breaker *circuit.Breaker) Option {
	return func(s *Service) {
		s.fallback = fallback
		s.breaker = breaker
	}
}

func New(primary BucketStore, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, errors.New("bucket store is required")
	}
	s := &Service{
		primary: primary,
		limits:  make(map[models.EndpointClass]models.Limit, len(DefaultLimits)),
		logger:  slog.Default(),
	}
	for class, l := range DefaultLimits {
		s.limits[class] = l
	}
	for _, opt := range opts {
		opt(s)
	}
	if (s.fallback == nil) != (s.breaker == nil) {
		return nil, errors.New("fallback store and breaker must be set together")
	}
	return s, nil
}

// Check charges one request to the caller's bucket for class. Authenticated
// callers are keyed by actor, anonymous callers by client IP.
func (s *Service) Check(ctx context.Context, actor domain.Actor, ip string, class models.EndpointClass) (*models.Result, error) {
	limit, ok := s.limits[class]
	if !ok || limit.Requests <= 0 {
		s.logger.WarnContext(ctx, "rate limit not configured", "endpoint_class", class)
		return &models.Result{Allowed: false, ResetAt: time.Now(), RetryAfter: 60}, nil
	}

	key := models.KeyFor(actor, ip, class)
	result, err := s.allow(ctx, key.String(), limit)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimit(string(class), result.Allowed)
	}
	if !result.Allowed {
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"limit_type", key.Prefix,
			"identifier", logIdentifier(key),
			"endpoint_class", class,
			"limit", limit.Requests,
			"window_seconds", int(limit.Window.Seconds()),
		)
	}
	return result, nil
}

func (s *Service) allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	if s.breaker == nil {
		return s.primary.Allow(ctx, key, limit.Requests, limit.Window)
	}
	if s.breaker.Allow() {
		result, err := s.primary.Allow(ctx, key, limit.Requests, limit.Window)
		if err == nil {
			if _, change := s.breaker.RecordSuccess(); change.Closed {
				s.logger.InfoContext(ctx, "rate limit store recovered", "breaker", s.breaker.Name())
			}
			return result, nil
		}
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback",
				"breaker", s.breaker.Name(), "error", err)
		}
		if !s.breaker.IsOpen() {
			return nil, err
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRateLimitFallback()
	}
	return s.fallback.Allow(ctx, key, limit.Requests, limit.Window)
}

// logIdentifier keeps only the network prefix of client IPs in logs.
func logIdentifier(k models.Key) string {
	if k.Prefix != models.KeyPrefixIP {
		return k.Identifier
	}
	return AnonymizeIP(k.Identifier)
}

// AnonymizeIP truncates an IPv4 address to /24 and an IPv6 address to /48.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
