//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"alma/internal/portfolio"
	"alma/internal/portfolio/cache"
	"alma/pkg/domain"
	"alma/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewRedis(s.redis.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestVersionedEntriesAreIndependent() {
	ctx := context.Background()
	id := domain.InterventionID(uuid.New())
	v1 := portfolio.Signals{InterventionID: id, Version: 1, PortfolioScore: 0.42}
	v2 := portfolio.Signals{InterventionID: id, Version: 2, PortfolioScore: 0.81}
	s.Require().NoError(s.cache.Set(ctx, v1))
	s.Require().NoError(s.cache.Set(ctx, v2))

	got, err := s.cache.Get(ctx, id, 1)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.InDelta(0.42, got.PortfolioScore, 1e-9)

	got, err = s.cache.Get(ctx, id, 2)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.InDelta(0.81, got.PortfolioScore, 1e-9)

	got, err = s.cache.Get(ctx, id, 3)
	s.NoError(err)
	s.Nil(got)
}

func (s *RedisCacheSuite) TestEntriesCarryTTL() {
	ctx := context.Background()
	id := domain.InterventionID(uuid.New())
	s.Require().NoError(s.cache.Set(ctx, portfolio.Signals{InterventionID: id, Version: 1}))

	keys, err := s.redis.Client.Keys(ctx, "alma:signals:*").Result()
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	ttl, err := s.redis.Client.TTL(ctx, keys[0]).Result()
	s.Require().NoError(err)
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Minute)
}
