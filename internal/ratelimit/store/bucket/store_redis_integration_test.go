//go:build integration

package bucket_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"alma/internal/platform/config"
	redisplatform "alma/internal/platform/redis"
	"alma/internal/ratelimit/store/bucket"
	"alma/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *redisplatform.Client
	store  *bucket.RedisBucketStore
}

func TestRedisBucketSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	client, err := redisplatform.New(context.Background(), config.RedisConfig{URL: s.redis.URL, PoolSize: 20})
	s.Require().NoError(err)
	s.client = client
	s.store = bucket.NewRedis(client)
}

func (s *RedisBucketSuite) TearDownSuite() {
	_ = s.client.Close()
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketSuite) TestConcurrentCallersShareOneBudget() {
	ctx := context.Background()
	const limit = 25

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(ctx, "rl:actor:shared:write", limit, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(limit), allowed.Load())
}

func (s *RedisBucketSuite) TestBucketKeysExpire() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "rl:ip:192.0.2.1:read", 5, 2*time.Second)
	s.Require().NoError(err)

	keys, err := s.redis.Keys(ctx, "rl:*")
	s.Require().NoError(err)
	s.Equal([]string{"rl:ip:192.0.2.1:read"}, keys)

	ttl, err := s.redis.Client.PTTL(ctx, "rl:ip:192.0.2.1:read").Result()
	s.Require().NoError(err)
	s.Positive(ttl)
	s.LessOrEqual(ttl, 2*time.Second)
}
