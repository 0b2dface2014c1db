package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/cache"
	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage/models"
)

// editRetryLimit bounds the internal retry of an edit that lost its
// compare-and-swap. The bound is fixed to keep edit latency predictable.
const editRetryLimit = 3

// Manager owns the follow ledger and the profile mutation pipeline. Follow
// and unfollow are serialized per followee id so the edge set and the
// follower counter always move together; operations on different followees
// run fully in parallel.
type Manager struct {
	store    Store
	counters *cache.CounterCache
	settings *cache.SettingsCache

	followMu keyedMutex
}

func NewManager(store Store, counters *cache.CounterCache, settings *cache.SettingsCache) *Manager {
	return &Manager{
		store:    store,
		counters: counters,
		settings: settings,
	}
}

// GetProfile returns the stored profile, with the follower counter served
// from the cache when present.
func (m *Manager) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	p, err := m.store.GetProfile(ctx, id)
	if err != nil {
		return models.Profile{}, err
	}
	if m.counters != nil {
		if count, ok := m.counters.GetFollowerCount(id); ok {
			p.FollowerCount = count
		}
	}
	return p, nil
}

// PutProfile overwrites the full document. Exposed for bootstrap paths
// (first registration); edits must go through EditProfile.
func (m *Manager) PutProfile(ctx context.Context, p models.Profile) error {
	return m.store.PutProfile(ctx, p)
}

// Follow inserts the edge and increments the followee's counter as one
// unit. Returns the updated counter value.
func (m *Manager) Follow(ctx context.Context, followeeID, followerID string) (int64, error) {
	if followeeID == followerID {
		return 0, ErrSelfFollow
	}

	unlock := m.followMu.lock(followeeID)
	defer unlock()

	err := m.store.CreateFollow(ctx, models.FollowEdge{
		FolloweeID: followeeID,
		FollowerID: followerID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}

	count, err := m.store.IncrementFollowerCount(ctx, followeeID, 1)
	if err != nil {
		return 0, fmt.Errorf("incrementing follower count for %s: %w", followeeID, err)
	}
	if m.counters != nil {
		m.counters.SetFollowerCount(followeeID, count)
	}
	return count, nil
}

// Unfollow removes the edge and decrements the followee's counter as one
// unit. Returns the updated counter value. A self-unfollow needs no guard:
// the self edge can never exist, so the store reports ErrNotFollowing.
func (m *Manager) Unfollow(ctx context.Context, followeeID, followerID string) (int64, error) {
	unlock := m.followMu.lock(followeeID)
	defer unlock()

	if err := m.store.DeleteFollow(ctx, followeeID, followerID); err != nil {
		return 0, err
	}

	count, err := m.store.IncrementFollowerCount(ctx, followeeID, -1)
	if err != nil {
		return 0, fmt.Errorf("decrementing follower count for %s: %w", followeeID, err)
	}
	if m.counters != nil {
		m.counters.SetFollowerCount(followeeID, count)
	}
	return count, nil
}

// IsFollowing is a point lookup with no side effects.
func (m *Manager) IsFollowing(ctx context.Context, followeeID, followerID string) (bool, error) {
	return m.store.FollowExists(ctx, followeeID, followerID)
}

// EditProfile runs the validate-and-commit cycle for a profile edit. A
// lost compare-and-swap restarts the whole cycle, at most editRetryLimit
// times, so concurrent edits are linearized without a global lock.
func (m *Manager) EditProfile(ctx context.Context, id string, edit profile.Edit) (models.Profile, error) {
	var lastErr error
	for attempt := 0; attempt < editRetryLimit; attempt++ {
		current, err := m.store.GetProfile(ctx, id)
		if err != nil {
			return models.Profile{}, err
		}

		normalized, err := profile.Validate(current, edit, func(handle string) bool {
			other, err := m.store.GetProfileByHandle(ctx, handle)
			if err != nil {
				return false
			}
			return other.ID != id
		})
		if err != nil {
			return models.Profile{}, err
		}

		updated := current
		updated.DisplayName = normalized.DisplayName
		updated.Handle = normalized.Handle
		updated.Bio = normalized.Bio
		updated.AvatarRef = normalized.AvatarRef
		updated.Tier = normalized.Tier

		err = m.store.PutProfileVersioned(ctx, updated, current.Version)
		if err == nil {
			updated.Version = current.Version + 1
			return updated, nil
		}
		if !errors.Is(err, ErrWriteConflict) {
			return models.Profile{}, err
		}
		lastErr = err
		log.Infof("Edit of profile %s lost the write race, retrying (%d/%d)", id, attempt+1, editRetryLimit)
	}
	return models.Profile{}, lastErr
}

// GetSettings returns the user's opaque settings document, creating the
// default document on first access.
func (m *Manager) GetSettings(ctx context.Context, userID string) (json.RawMessage, error) {
	if m.settings != nil {
		if doc, ok := m.settings.Get(userID); ok {
			return doc, nil
		}
	}
	doc, err := m.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if m.settings != nil {
		m.settings.Set(userID, doc)
	}
	return doc, nil
}

// PutSetting sets a single key in the user's settings document. The
// document schema is opaque to this subsystem; the write is a plain
// read-modify-write of the blob.
func (m *Manager) PutSetting(ctx context.Context, userID, key string, value any) error {
	doc, err := m.GetSettings(ctx, userID)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return fmt.Errorf("decoding settings for %s: %w", userID, err)
	}
	fields[key] = value

	updated, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := m.store.PutSettings(ctx, userID, updated); err != nil {
		return err
	}
	if m.settings != nil {
		m.settings.Set(userID, updated)
	}
	return nil
}

// AuditFollowerCounts recomputes edge cardinality per profile and repairs
// any counter drift. Returns the number of repaired profiles. Drift is a
// defect signal; every repair is logged.
func (m *Manager) AuditFollowerCounts(ctx context.Context) (int, error) {
	ids, err := m.store.ListProfileIDs(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, id := range ids {
		n, err := m.auditProfile(ctx, id)
		if err != nil {
			return repaired, err
		}
		repaired += n
	}
	return repaired, nil
}

func (m *Manager) auditProfile(ctx context.Context, id string) (int, error) {
	unlock := m.followMu.lock(id)
	defer unlock()

	p, err := m.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	cardinality, err := m.store.CountFollowers(ctx, id)
	if err != nil {
		return 0, err
	}

	drift := cardinality - p.FollowerCount
	if drift == 0 {
		return 0, nil
	}
	log.Warnf(
		"Follower count drift on %s: stored=%d edges=%d, repairing",
		id, p.FollowerCount, cardinality,
	)
	count, err := m.store.IncrementFollowerCount(ctx, id, drift)
	if err != nil {
		return 0, err
	}
	if m.counters != nil {
		m.counters.SetFollowerCount(id, count)
	}
	return 1, nil
}

// GetCursor exposes the persisted resume cursor to the ingest consumer.
func (m *Manager) GetCursor(ctx context.Context, service string) (int64, error) {
	return m.store.GetCursor(ctx, service)
}

// UpdateCursor persists the ingest consumer's resume cursor.
func (m *Manager) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	return m.store.UpdateCursor(ctx, service, cursor)
}

// keyedMutex serializes callers per key while leaving distinct keys fully
// concurrent. Entries are reference-counted so the map does not grow with
// the id space.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
