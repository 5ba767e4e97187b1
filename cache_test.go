package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RecommendationCache, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.AddProfile(matchProfile(1, 30, 12.97, 77.59, "hiking", "coffee"))
	return NewRecommendationCache(store, store, store), store
}

func TestCacheHitAndMiss(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	payload := json.RawMessage(`[{"id":2}]`)

	entry, err := cache.GetValid(ctx, 1, 1, 8)
	require.NoError(t, err)
	assert.Nil(t, entry, "expected a cold cache to miss")

	require.NoError(t, cache.Put(ctx, 1, 1, 8, payload, 12))

	entry, err = cache.GetValid(ctx, 1, 1, 8)
	require.NoError(t, err)
	require.NotNil(t, entry, "expected a hit after Put")
	assert.Equal(t, 12, entry.TotalMatches)
	assert.JSONEq(t, string(payload), string(entry.Payload))

	// Different page or page size is a different key
	entry, err = cache.GetValid(ctx, 1, 2, 8)
	require.NoError(t, err)
	assert.Nil(t, entry, "expected a miss for another page")

	entry, err = cache.GetValid(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Nil(t, entry, "expected a miss for another page size")
}

func TestCacheFingerprintDrift(t *testing.T) {
	ctx := context.Background()
	payload := json.RawMessage(`[]`)

	mutations := map[string]func(p *UserProfile, s *UserSettings){
		"Hashtags":  func(p *UserProfile, s *UserSettings) { p.Hashtags = []string{"hiking", "reading"} },
		"City":      func(p *UserProfile, s *UserSettings) { p.City = "Bangalore" },
		"State":     func(p *UserProfile, s *UserSettings) { p.State = "Karnataka" },
		"Latitude":  func(p *UserProfile, s *UserSettings) { p.Latitude = floatPtr(13.00) },
		"Longitude": func(p *UserProfile, s *UserSettings) { p.Longitude = floatPtr(77.70) },
		"Age":       func(p *UserProfile, s *UserSettings) { p.Age = intPtr(31) },
		"Bio":       func(p *UserProfile, s *UserSettings) { p.Bio = "updated bio" },
		"FirstName": func(p *UserProfile, s *UserSettings) { p.FirstName = "Asha" },
		"Radius":    func(p *UserProfile, s *UserSettings) { s.LocationRadius = 75 },
		"AgeRange":  func(p *UserProfile, s *UserSettings) { s.MaxAge = 40 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cache, store := newTestCache(t)
			require.NoError(t, cache.Put(ctx, 1, 1, 8, payload, 0))

			entry, err := cache.GetValid(ctx, 1, 1, 8)
			require.NoError(t, err)
			require.NotNil(t, entry, "expected a hit before the change")

			profile, err := store.GetProfile(ctx, 1)
			require.NoError(t, err)
			settings, err := store.GetOrCreateSettings(ctx, 1)
			require.NoError(t, err)
			mutate(profile, settings)
			store.AddProfile(profile)
			store.SetSettings(settings)

			entry, err = cache.GetValid(ctx, 1, 1, 8)
			require.NoError(t, err)
			assert.Nil(t, entry, "expected a miss after the change, without explicit invalidation")
		})
	}

	t.Run("TagOrderIrrelevant", func(t *testing.T) {
		cache, store := newTestCache(t)
		require.NoError(t, cache.Put(ctx, 1, 1, 8, payload, 0))

		profile, err := store.GetProfile(ctx, 1)
		require.NoError(t, err)
		profile.Hashtags = []string{"coffee", "hiking"} // same set, reordered
		store.AddProfile(profile)

		entry, err := cache.GetValid(ctx, 1, 1, 8)
		require.NoError(t, err)
		assert.NotNil(t, entry, "expected reordered tags to keep the fingerprint stable")
	})
}

func TestCacheSingleValidEntry(t *testing.T) {
	ctx := context.Background()
	cache, store := newTestCache(t)
	payload := json.RawMessage(`[]`)

	require.NoError(t, cache.Put(ctx, 1, 1, 8, payload, 0))
	require.NoError(t, cache.Put(ctx, 1, 2, 8, payload, 0))
	assert.Equal(t, 1, store.ValidEntryCount(1), "expected the second Put to invalidate the first entry")

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				_ = cache.Put(ctx, 1, page, 8, payload, 0)
			}(i + 1)
		}
		wg.Wait()
		assert.Equal(t, 1, store.ValidEntryCount(1), "expected exactly one valid entry after concurrent Puts")
	})
}

func TestCacheInvalidateUser(t *testing.T) {
	ctx := context.Background()
	cache, store := newTestCache(t)

	require.NoError(t, cache.Put(ctx, 1, 1, 8, json.RawMessage(`[]`), 0))
	require.NoError(t, cache.InvalidateUser(ctx, 1))

	entry, err := cache.GetValid(ctx, 1, 1, 8)
	require.NoError(t, err)
	assert.Nil(t, entry, "expected no hit after invalidation")
	assert.Equal(t, 0, store.ValidEntryCount(1))
}

func TestCacheSweep(t *testing.T) {
	ctx := context.Background()
	cache, store := newTestCache(t)
	now := time.Now()

	// Still fresh: survives the sweep
	require.NoError(t, store.PutEntry(ctx, &CacheEntry{
		UserID:    1,
		CacheKey:  "fresh",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
	// Past its TTL: the sweep must expire it
	require.NoError(t, store.PutEntry(ctx, &CacheEntry{
		UserID:    2,
		CacheKey:  "stale",
		CreatedAt: now.Add(-25 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))

	expired, purged, err := cache.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, purged)
	assert.Equal(t, 1, store.ValidEntryCount(1))
	assert.Equal(t, 0, store.ValidEntryCount(2))

	t.Run("RetentionPurge", func(t *testing.T) {
		// Invalid and older than the retention window
		require.NoError(t, store.PutEntry(ctx, &CacheEntry{
			UserID:    3,
			CacheKey:  "ancient",
			CreatedAt: now.Add(-8 * 24 * time.Hour),
			ExpiresAt: now.Add(-7 * 24 * time.Hour),
		}))
		require.NoError(t, store.InvalidateUserEntries(ctx, 3))

		_, purged, err := cache.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, purged, "expected the week-old invalid entry to be purged")
	})
}

func TestFingerprintDeterminism(t *testing.T) {
	p := matchProfile(1, 30, 12.97, 77.59, "hiking", "coffee")
	s := defaultSettings(1)
	f1 := matchingFingerprint(p, s)
	f2 := matchingFingerprint(p, s)
	assert.Equal(t, f1, f2, "expected the fingerprint to be deterministic")
	assert.Len(t, f1, 64)

	other := matchProfile(2, 30, 12.97, 77.59, "hiking", "coffee")
	// User identity is not part of the fingerprint, only matching inputs;
	// the cache key binds the user id separately.
	assert.Equal(t, f1, matchingFingerprint(other, s))
	assert.NotEqual(t, cacheKey(1, 1, 8, f1), cacheKey(2, 1, 8, f1))
}
