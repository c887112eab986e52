package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"wabridge/internal/domain"
)

type MemoryCacheSuite struct {
	suite.Suite
	cache *MemoryCache
	ctx   context.Context
}

func TestMemoryCacheSuite(t *testing.T) {
	suite.Run(t, new(MemoryCacheSuite))
}

func (s *MemoryCacheSuite) SetupTest() {
	s.cache = NewMemoryCache()
	s.ctx = context.Background()
}

func (s *MemoryCacheSuite) TestResolveUnknown() {
	_, err := s.cache.Resolve(s.ctx, domain.ParseIdentifier("123@lid"))
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryCacheSuite) TestUpsertThenResolveEitherForm() {
	phone := domain.ParseIdentifier("5511999999999@s.whatsapp.net")
	opaque := domain.ParseIdentifier("123@lid")

	_, err := s.cache.Upsert(s.ctx, phone, opaque, "Alice")
	s.Require().NoError(err)

	// Both forms resolve to the same canonical record.
	byPhone, err := s.cache.Resolve(s.ctx, phone)
	s.Require().NoError(err)
	byOpaque, err := s.cache.Resolve(s.ctx, opaque)
	s.Require().NoError(err)

	s.Equal(byPhone.CanonicalID, byOpaque.CanonicalID)
	s.Equal("Alice", byOpaque.DisplayName)
	s.True(byPhone.HasAlternate(opaque))
}

func (s *MemoryCacheSuite) TestUpsertKeepsNameWhenOmitted() {
	phone := domain.ParseIdentifier("5511999999999@s.whatsapp.net")

	_, err := s.cache.Upsert(s.ctx, phone, domain.Identifier{}, "Alice")
	s.Require().NoError(err)
	rec, err := s.cache.Upsert(s.ctx, phone, domain.Identifier{}, "")
	s.Require().NoError(err)
	s.Equal("Alice", rec.DisplayName)
}

func (s *MemoryCacheSuite) TestContestedAlternateLastWriterWins() {
	first := domain.ParseIdentifier("5511111111111@s.whatsapp.net")
	second := domain.ParseIdentifier("5522222222222@s.whatsapp.net")
	opaque := domain.ParseIdentifier("777@lid")

	_, err := s.cache.Upsert(s.ctx, first, opaque, "")
	s.Require().NoError(err)
	_, err = s.cache.Upsert(s.ctx, second, opaque, "")
	s.Require().NoError(err)

	rec, err := s.cache.Resolve(s.ctx, opaque)
	s.Require().NoError(err)
	s.Equal(second, rec.CanonicalID)

	// The losing record no longer claims the alternate.
	firstRec, err := s.cache.Resolve(s.ctx, first)
	s.Require().NoError(err)
	s.False(firstRec.HasAlternate(opaque))
}

func (s *MemoryCacheSuite) TestUpsertIsIdempotent() {
	phone := domain.ParseIdentifier("5511999999999@s.whatsapp.net")
	opaque := domain.ParseIdentifier("123@lid")

	for range 3 {
		_, err := s.cache.Upsert(s.ctx, phone, opaque, "Alice")
		s.Require().NoError(err)
	}
	rec, err := s.cache.Resolve(s.ctx, phone)
	s.Require().NoError(err)
	s.Len(rec.AlternateIDs, 1)
}

func (s *MemoryCacheSuite) TestConcurrentUpsertsConverge() {
	phone := domain.ParseIdentifier("5511999999999@s.whatsapp.net")
	alternates := []domain.Identifier{
		domain.ParseIdentifier("1@lid"),
		domain.ParseIdentifier("2@lid"),
		domain.ParseIdentifier("3@lid"),
		domain.ParseIdentifier("4@lid"),
	}

	var wg sync.WaitGroup
	for range 8 {
		for _, alt := range alternates {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.cache.Upsert(s.ctx, phone, alt, "")
				s.NoError(err)
			}()
		}
	}
	wg.Wait()

	// No losing writer's alternate may be missing after the dust settles.
	rec, err := s.cache.Resolve(s.ctx, phone)
	s.Require().NoError(err)
	s.Len(rec.AlternateIDs, len(alternates))
	for _, alt := range alternates {
		s.True(rec.HasAlternate(alt), "missing alternate %s", alt.Value)
	}
}
