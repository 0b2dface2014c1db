// Package mem is the process-local Store backend. All mutations happen
// under one mutex, so the versioned put and the handle uniqueness check
// are naturally atomic. Tests and standalone runs use this backend.
package mem

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/profile"
	"github.com/raichat/social/storage"
	"github.com/raichat/social/storage/models"
)

type edgeKey struct {
	followeeID string
	followerID string
}

type Store struct {
	mu       sync.Mutex
	profiles map[string]models.Profile
	handles  map[string]string // handle -> profile id
	edges    map[edgeKey]models.FollowEdge
	settings map[string]json.RawMessage
	cursors  map[string]int64
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		profiles: make(map[string]models.Profile),
		handles:  make(map[string]string),
		edges:    make(map[edgeKey]models.FollowEdge),
		settings: make(map[string]json.RawMessage),
		cursors:  make(map[string]int64),
	}
}

func (s *Store) GetProfile(_ context.Context, id string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProfileByHandle(_ context.Context, handle string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.handles[handle]
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	return s.profiles[id], nil
}

func (s *Store) PutProfile(_ context.Context, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reindexHandle(p)
	s.profiles[p.ID] = p
	return nil
}

func (s *Store) PutProfileVersioned(_ context.Context, p models.Profile, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[p.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if current.Version != expectedVersion {
		return storage.ErrWriteConflict
	}
	if p.Handle != "" {
		if owner, taken := s.handles[p.Handle]; taken && owner != p.ID {
			return profile.ErrHandleTaken
		}
	}

	// The follower counter and creation time move only through their own
	// operations; a versioned put never carries them.
	p.Version = expectedVersion + 1
	p.FollowerCount = current.FollowerCount
	p.CreatedAt = current.CreatedAt
	s.reindexHandle(p)
	s.profiles[p.ID] = p
	return nil
}

func (s *Store) IncrementFollowerCount(_ context.Context, id string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	count := p.FollowerCount + delta
	if count < 0 {
		log.Warnf("Follower count underflow on %s (%d%+d), clamping to 0", id, p.FollowerCount, delta)
		count = 0
	}
	p.FollowerCount = count
	s.profiles[id] = p
	return count, nil
}

func (s *Store) CreateFollow(_ context.Context, edge models.FollowEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{edge.FolloweeID, edge.FollowerID}
	if _, ok := s.edges[key]; ok {
		return storage.ErrAlreadyFollowing
	}
	s.edges[key] = edge
	return nil
}

func (s *Store) DeleteFollow(_ context.Context, followeeID, followerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{followeeID, followerID}
	if _, ok := s.edges[key]; !ok {
		return storage.ErrNotFollowing
	}
	delete(s.edges, key)
	return nil
}

func (s *Store) FollowExists(_ context.Context, followeeID, followerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.edges[edgeKey{followeeID, followerID}]
	return ok, nil
}

func (s *Store) CountFollowers(_ context.Context, followeeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key := range s.edges {
		if key.followeeID == followeeID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListProfileIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) GetSettings(_ context.Context, userID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.settings[userID]
	if !ok {
		doc = models.DefaultSettings()
		s.settings[userID] = doc
	}
	return doc, nil
}

func (s *Store) PutSettings(_ context.Context, userID string, doc json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[userID] = doc
	return nil
}

func (s *Store) GetCursor(_ context.Context, service string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursors[service], nil
}

func (s *Store) UpdateCursor(_ context.Context, service string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[service] = cursor
	return nil
}

// reindexHandle keeps the handle index in sync with a profile write.
// Callers hold s.mu.
func (s *Store) reindexHandle(p models.Profile) {
	if old, ok := s.profiles[p.ID]; ok && old.Handle != "" && old.Handle != p.Handle {
		delete(s.handles, old.Handle)
	}
	if p.Handle != "" {
		s.handles[p.Handle] = p.ID
	}
}
