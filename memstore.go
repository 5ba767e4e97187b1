package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the store interfaces. Unit
// tests run against it; it is also handy for seeding demo data without a
// database.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[int]*UserProfile
	settings map[int]*UserSettings
	follows  map[[2]int]struct{}
	entries  map[string]*CacheEntry
	nextID   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[int]*UserProfile),
		settings: make(map[int]*UserSettings),
		follows:  make(map[[2]int]struct{}),
		entries:  make(map[string]*CacheEntry),
	}
}

// AddProfile registers (or replaces) a profile.
func (m *MemoryStore) AddProfile(p *UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
}

// SetSettings replaces the settings of a user.
func (m *MemoryStore) SetSettings(st *UserSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.settings[st.UserID] = &cp
}

// SetFollow adds or removes a directed follow edge.
func (m *MemoryStore) SetFollow(followerID, followingID int, following bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if following {
		m.follows[[2]int{followerID, followingID}] = struct{}{}
	} else {
		delete(m.follows, [2]int{followerID, followingID})
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, userID int) (*UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListCandidates(_ context.Context, f CandidateFilter) ([]*UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*UserProfile
	for _, p := range m.profiles {
		if !p.IsActive || p.ID == f.ExcludeUserID {
			continue
		}
		if p.Age == nil || *p.Age < f.MinAge || *p.Age > f.MaxAge {
			continue
		}
		if f.RequireCoords && (p.Latitude == nil || p.Longitude == nil) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetOrCreateSettings(_ context.Context, userID int) (*UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.settings[userID]
	if !ok {
		st = defaultSettings(userID)
		m.settings[userID] = st
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) IsFollowing(_ context.Context, followerID, followingID int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.follows[[2]int{followerID, followingID}]
	return ok, nil
}

func (m *MemoryStore) FindValidEntry(_ context.Context, userID int, cacheKey string, now time.Time) (*CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[cacheKey]
	if !ok || e.UserID != userID || !e.IsValid || !e.ExpiresAt.After(now) {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) PutEntry(_ context.Context, entry *CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.UserID == entry.UserID && e.IsValid {
			e.IsValid = false
		}
	}
	m.nextID++
	cp := *entry
	cp.ID = m.nextID
	cp.IsValid = true
	m.entries[entry.CacheKey] = &cp
	return nil
}

func (m *MemoryStore) InvalidateUserEntries(_ context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.UserID == userID && e.IsValid {
			e.IsValid = false
		}
	}
	return nil
}

func (m *MemoryStore) MarkExpiredEntries(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.IsValid && !e.ExpiresAt.After(now) {
			e.IsValid = false
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PurgeInvalidEntriesBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, e := range m.entries {
		if !e.IsValid && e.CreatedAt.Before(cutoff) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// ValidEntryCount reports how many valid entries a user currently has.
func (m *MemoryStore) ValidEntryCount(userID int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.UserID == userID && e.IsValid {
			n++
		}
	}
	return n
}
