package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	// Fresh entries live this long before the sweeper expires them.
	cacheEntryTTL = 24 * time.Hour
	// Invalid entries are purged once they are this old.
	cacheRetention = 7 * 24 * time.Hour
)

// RecommendationCache stores computed recommendation pages keyed by a
// fingerprint of everything that influences matching. The fingerprint is
// recomputed from live state on every lookup, so profile or settings drift
// turns into a cache miss even before any explicit invalidation lands.
type RecommendationCache struct {
	store    CacheStore
	profiles ProfileStore
	settings SettingsStore

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func NewRecommendationCache(store CacheStore, profiles ProfileStore, settings SettingsStore) *RecommendationCache {
	return &RecommendationCache{
		store:    store,
		profiles: profiles,
		settings: settings,
		locks:    make(map[int]*sync.Mutex),
	}
}

// userLock returns the mutex serializing cache writes for one user, so two
// concurrent misses cannot both insert and leave two valid entries.
func (c *RecommendationCache) userLock(userID int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[userID] = l
	}
	return l
}

// Fingerprint digests the profile fields and settings that influence
// matching. Tags are sorted and coordinates string-normalized so the digest
// is stable across process restarts.
func (c *RecommendationCache) Fingerprint(ctx context.Context, userID int) (string, error) {
	profile, err := c.profiles.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint profile: %w", err)
	}
	settings, err := c.settings.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("fingerprint settings: %w", err)
	}
	return matchingFingerprint(profile, settings), nil
}

func matchingFingerprint(profile *UserProfile, settings *UserSettings) string {
	tags := make([]string, len(profile.Hashtags))
	copy(tags, profile.Hashtags)
	sort.Strings(tags)

	// Struct order fixes the serialization order; no map iteration involved.
	data := struct {
		Hashtags       []string `json:"hashtags"`
		City           string   `json:"city"`
		State          string   `json:"state"`
		Latitude       string   `json:"latitude"`
		Longitude      string   `json:"longitude"`
		Age            string   `json:"age"`
		Bio            string   `json:"bio"`
		FirstName      string   `json:"first_name"`
		LastName       string   `json:"last_name"`
		LocationRadius int      `json:"location_radius"`
		MinAge         int      `json:"min_age"`
		MaxAge         int      `json:"max_age"`
		ShowDistance   bool     `json:"show_distance"`
	}{
		Hashtags:       tags,
		City:           profile.City,
		State:          profile.State,
		Latitude:       coordString(profile.Latitude),
		Longitude:      coordString(profile.Longitude),
		Age:            intString(profile.Age),
		Bio:            profile.Bio,
		FirstName:      profile.FirstName,
		LastName:       profile.LastName,
		LocationRadius: settings.LocationRadius,
		MinAge:         settings.MinAge,
		MaxAge:         settings.MaxAge,
		ShowDistance:   settings.ShowDistance,
	}
	raw, _ := json.Marshal(data)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func coordString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// cacheKey binds one entry to (user, page, page size, fingerprint).
func cacheKey(userID, page, pageSize int, fingerprint string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d_%d_%d_%s", userID, page, pageSize, fingerprint))
	return hex.EncodeToString(sum[:])
}

// GetValid returns the cached page for (user, page, pageSize), or nil on any
// miss. The key is derived from the current fingerprint, never from a stored
// one, so a stale entry can never be served as a hit.
func (c *RecommendationCache) GetValid(ctx context.Context, userID, page, pageSize int) (*CacheEntry, error) {
	fingerprint, err := c.Fingerprint(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.store.FindValidEntry(ctx, userID, cacheKey(userID, page, pageSize, fingerprint), time.Now())
}

// Put invalidates every currently valid entry for the user and inserts the
// new page with a fixed 24-hour expiry. At most one valid entry per
// (user, fingerprint) survives.
func (c *RecommendationCache) Put(ctx context.Context, userID, page, pageSize int, payload json.RawMessage, totalMatches int) error {
	fingerprint, err := c.Fingerprint(ctx, userID)
	if err != nil {
		return err
	}

	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	return c.store.PutEntry(ctx, &CacheEntry{
		UserID:       userID,
		CacheKey:     cacheKey(userID, page, pageSize, fingerprint),
		Fingerprint:  fingerprint,
		Payload:      payload,
		Page:         page,
		PageSize:     pageSize,
		TotalMatches: totalMatches,
		CreatedAt:    now,
		ExpiresAt:    now.Add(cacheEntryTTL),
		IsValid:      true,
	})
}

// InvalidateUser marks every valid entry of the user invalid. Profile
// updates, settings updates and follow/unfollow actions call this
// synchronously before reporting success.
func (c *RecommendationCache) InvalidateUser(ctx context.Context, userID int) error {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return c.store.InvalidateUserEntries(ctx, userID)
}

// Sweep marks time-expired entries invalid and purges invalid entries older
// than the retention window. Runs on a ticker, independent of requests.
func (c *RecommendationCache) Sweep(ctx context.Context) (expired, purged int, err error) {
	now := time.Now()
	expired, err = c.store.MarkExpiredEntries(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("mark expired: %w", err)
	}
	purged, err = c.store.PurgeInvalidEntriesBefore(ctx, now.Add(-cacheRetention))
	if err != nil {
		return expired, 0, fmt.Errorf("purge invalid: %w", err)
	}
	return expired, purged, nil
}
