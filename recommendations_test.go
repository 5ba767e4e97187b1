package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestService seeds a requester plus n compatible candidates, all close
// together with overlapping tags, and returns the assembled service.
func newTestService(t *testing.T, n int) (*RecommendationService, *MemoryStore, *RecommendationCache) {
	t.Helper()
	store := NewMemoryStore()
	requester := matchProfile(1, 30, 12.97, 77.59, "hiking", "coffee")
	requester.FirstName = "Asha"
	requester.City = "Bangalore"
	store.AddProfile(requester)
	for i := 0; i < n; i++ {
		p := matchProfile(100+i, 28+i%5, 12.97+float64(i+1)*0.001, 77.59, "hiking", "coffee")
		p.FirstName = fmt.Sprintf("Candidate%d", i)
		p.City = "Bangalore"
		store.AddProfile(p)
	}
	cache := NewRecommendationCache(store, store, store)
	ranker := NewRanker(store, store)
	svc := NewRecommendationService(ranker, cache, store, nil)
	return svc, store, cache
}

func TestGetRecommendations(t *testing.T) {
	ctx := context.Background()

	t.Run("ParameterClamping", func(t *testing.T) {
		svc, _, _ := newTestService(t, 5)

		resp, err := svc.GetRecommendations(ctx, 1, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Pagination.Page, "expected page clamped to 1")
		assert.Equal(t, defaultPageSize, resp.Pagination.PerPage, "expected per_page defaulted")

		resp, err = svc.GetRecommendations(ctx, 1, -3, 500)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Pagination.Page)
		assert.Equal(t, defaultPageSize, resp.Pagination.PerPage, "expected oversized per_page defaulted")
	})

	t.Run("Pagination", func(t *testing.T) {
		svc, _, _ := newTestService(t, 20)

		page1, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.Len(t, page1.Recommendations, 8)
		assert.Equal(t, 20, page1.Pagination.TotalMatches)
		assert.True(t, page1.Pagination.NextPageAvailable)
		assert.Equal(t, 3, page1.Pagination.TotalPages)

		page2, err := svc.GetRecommendations(ctx, 1, 2, 8)
		require.NoError(t, err)
		assert.Len(t, page2.Recommendations, 8)
		assert.True(t, page2.Pagination.NextPageAvailable)

		page3, err := svc.GetRecommendations(ctx, 1, 3, 8)
		require.NoError(t, err)
		assert.Len(t, page3.Recommendations, 4)
		assert.False(t, page3.Pagination.NextPageAvailable)

		// No user appears on two pages
		seen := make(map[int]int)
		for p, resp := range map[int]*RecommendationsResponse{1: page1, 2: page2, 3: page3} {
			for _, rec := range resp.Recommendations {
				if prev, dup := seen[rec.ID]; dup {
					t.Errorf("user %d appears on pages %d and %d", rec.ID, prev, p)
				}
				seen[rec.ID] = p
			}
		}

		// Beyond the last page: valid response, empty list
		page9, err := svc.GetRecommendations(ctx, 1, 9, 8)
		require.NoError(t, err)
		assert.Empty(t, page9.Recommendations)
		assert.False(t, page9.Pagination.NextPageAvailable)
	})

	t.Run("CacheHitOnSecondCall", func(t *testing.T) {
		svc, _, _ := newTestService(t, 10)

		first, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.False(t, first.Cached)
		assert.Nil(t, first.CacheCreatedAt)

		second, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.True(t, second.Cached, "expected the second identical call to hit the cache")
		require.NotNil(t, second.CacheCreatedAt)
		assert.Equal(t, first.Recommendations, second.Recommendations)
		assert.Equal(t, first.Pagination, second.Pagination, "expected pagination rebuilt from the cached total")
	})

	t.Run("ProfileChangeMissesCache", func(t *testing.T) {
		svc, store, _ := newTestService(t, 10)

		_, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)

		profile, err := store.GetProfile(ctx, 1)
		require.NoError(t, err)
		profile.Bio = "new bio"
		store.AddProfile(profile)

		resp, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.False(t, resp.Cached, "expected a profile edit to force recomputation")
	})

	t.Run("FollowedUsersExcluded", func(t *testing.T) {
		svc, store, cache := newTestService(t, 10)

		first, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		require.NotEmpty(t, first.Recommendations)
		followedID := first.Recommendations[0].ID

		// The follow handler performs both steps synchronously.
		store.SetFollow(1, followedID, true)
		require.NoError(t, cache.InvalidateUser(ctx, 1))

		resp, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.False(t, resp.Cached, "expected the invalidated entry to miss")
		assert.Equal(t, 9, resp.Pagination.TotalMatches)
		for _, rec := range resp.Recommendations {
			assert.NotEqual(t, followedID, rec.ID, "expected followed users to be excluded")
		}
	})

	t.Run("FallbackCaptions", func(t *testing.T) {
		svc, _, _ := newTestService(t, 3)

		resp, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		require.NotEmpty(t, resp.Recommendations)
		for _, rec := range resp.Recommendations {
			assert.NotEmpty(t, rec.CompatibilityReasons, "every recommendation needs reasons")
			assert.Len(t, rec.ConversationStarters, 3)
			assert.Contains(t, rec.SharedInterests, "hiking")
			assert.Contains(t, rec.SharedInterests, "coffee")
		}
	})

	t.Run("OrderingWithinPage", func(t *testing.T) {
		svc, _, _ := newTestService(t, 12)

		resp, err := svc.GetRecommendations(ctx, 1, 1, 8)
		require.NoError(t, err)
		recs := resp.Recommendations
		for i := 0; i < len(recs)-1; i++ {
			require.NotNil(t, recs[i].Distance)
			require.NotNil(t, recs[i+1].Distance)
			assert.LessOrEqual(t, *recs[i].Distance, *recs[i+1].Distance,
				"expected recommendations ordered by distance")
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		svc, _, _ := newTestService(t, 0)
		_, err := svc.GetRecommendations(ctx, 42, 1, 8)
		assert.Error(t, err, "expected an unknown requester to surface an error")
	})
}

func TestServiceTopMatches(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, 10)

	recs, err := svc.TopMatches(ctx, 1, 6)
	require.NoError(t, err)
	assert.Len(t, recs, 6)
	for _, rec := range recs {
		assert.Greater(t, rec.MatchPercentage, 30.0)
		assert.Empty(t, rec.ConversationStarters, "the discover list carries no captions")
	}

	// Following someone removes them without any cache involvement
	store.SetFollow(1, recs[0].ID, true)
	recs2, err := svc.TopMatches(ctx, 1, 6)
	require.NoError(t, err)
	for _, rec := range recs2 {
		assert.NotEqual(t, recs[0].ID, rec.ID)
	}
}
