//go:build integration

package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"wabridge/internal/domain"
	"wabridge/internal/identity"
	"wabridge/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *identity.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = identity.NewRedisCache(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestResolveUnknown() {
	_, err := s.cache.Resolve(context.Background(), domain.ParseIdentifier("123@lid"))
	s.ErrorIs(err, identity.ErrNotFound)
}

func (s *RedisCacheSuite) TestUpsertResolvesBothForms() {
	ctx := context.Background()
	phone := domain.ParseIdentifier("5511999999999@s.whatsapp.net")
	opaque := domain.ParseIdentifier("123@lid")

	_, err := s.cache.Upsert(ctx, phone, opaque, "Alice")
	s.Require().NoError(err)

	byPhone, err := s.cache.Resolve(ctx, phone)
	s.Require().NoError(err)
	byOpaque, err := s.cache.Resolve(ctx, opaque)
	s.Require().NoError(err)

	s.Equal(byPhone.CanonicalID, byOpaque.CanonicalID)
	s.Equal("Alice", byOpaque.DisplayName)
	s.True(byOpaque.HasAlternate(opaque))
}

func (s *RedisCacheSuite) TestContestedAlternateRebinds() {
	ctx := context.Background()
	first := domain.ParseIdentifier("5511111111111@s.whatsapp.net")
	second := domain.ParseIdentifier("5522222222222@s.whatsapp.net")
	opaque := domain.ParseIdentifier("777@lid")

	_, err := s.cache.Upsert(ctx, first, opaque, "")
	s.Require().NoError(err)
	_, err = s.cache.Upsert(ctx, second, opaque, "")
	s.Require().NoError(err)

	rec, err := s.cache.Resolve(ctx, opaque)
	s.Require().NoError(err)
	s.Equal(second, rec.CanonicalID)

	firstRec, err := s.cache.Resolve(ctx, first)
	s.Require().NoError(err)
	s.False(firstRec.HasAlternate(opaque))
}
