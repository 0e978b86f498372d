package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma/internal/ratelimit/models"
	"alma/internal/ratelimit/store/bucket"
	"alma/pkg/domain"
	"alma/pkg/platform/circuit"
)

type failingStore struct{ calls int }

func (f *failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

type recorder struct {
	decisions map[bool]int
	fallbacks int
}

func (r *recorder) RecordRateLimit(_ string, allowed bool) { r.decisions[allowed]++ }
func (r *recorder) RecordRateLimitFallback()               { r.fallbacks++ }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCheck_KeysByActorOrIP(t *testing.T) {
	ctx := context.Background()
	svc, err := New(bucket.New(),
		WithLogger(discard),
		WithLimits(map[models.EndpointClass]models.Limit{models.ClassWrite: {Requests: 1, Window: time.Minute}}),
	)
	require.NoError(t, err)

	actor := domain.Actor{ID: domain.ActorID(uuid.New())}
	res, err := svc.Check(ctx, actor, "10.0.0.1", models.ClassWrite)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = svc.Check(ctx, actor, "10.0.0.2", models.ClassWrite)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "an actor's budget follows them across addresses")

	res, err = svc.Check(ctx, domain.Anonymous(), "10.0.0.1", models.ClassWrite)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "anonymous callers are counted by address")

	res, err = svc.Check(ctx, actor, "10.0.0.1", models.ClassRead)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "classes have separate budgets")
}

func TestCheck_UnconfiguredClassIsDenied(t *testing.T) {
	svc, err := New(bucket.New(), WithLogger(discard))
	require.NoError(t, err)

	res, err := svc.Check(context.Background(), domain.Anonymous(), "10.0.0.1", models.EndpointClass("bulk"))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_FallsBackWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{}
	rec := &recorder{decisions: map[bool]int{}}
	breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(2), circuit.WithProbeInterval(time.Hour))
	svc, err := New(primary,
		WithLogger(discard),
		WithMetrics(rec),
		WithFallback(bucket.New(), breaker),
	)
	require.NoError(t, err)

	_, err = svc.Check(ctx, domain.Anonymous(), "10.0.0.1", models.ClassRead)
	require.Error(t, err, "a single failure is reported before the circuit opens")

	res, err := svc.Check(ctx, domain.Anonymous(), "10.0.0.1", models.ClassRead)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, breaker.IsOpen())

	res, err = svc.Check(ctx, domain.Anonymous(), "10.0.0.1", models.ClassRead)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, primary.calls, "an open circuit skips the primary store")
	assert.Equal(t, 2, rec.fallbacks)
	assert.Equal(t, 2, rec.decisions[true])
}

func TestNew_RequiresFallbackAndBreakerTogether(t *testing.T) {
	_, err := New(bucket.New(), WithFallback(bucket.New(), nil))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.77", "203.0.113.0/24"},
		{"::ffff:203.0.113.77", "203.0.113.0/24"},
		{"2001:db8:abcd:12::1", "2001:db8:abcd::/48"},
		{"unknown", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.in))
		})
	}
}
