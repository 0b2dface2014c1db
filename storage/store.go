package storage

import (
	"context"
	"encoding/json"

	"github.com/raichat/social/storage/models"
)

// Store is the semantic contract the manager needs from a backend. Two
// implementations exist: storage/mem (process-local, used by tests and
// standalone runs) and storage/db (Postgres).
type Store interface {
	// GetProfile returns ErrNotFound on a lookup miss.
	GetProfile(ctx context.Context, id string) (models.Profile, error)

	// GetProfileByHandle returns ErrNotFound when no profile claims the
	// handle. Comparison is exact.
	GetProfileByHandle(ctx context.Context, handle string) (models.Profile, error)

	// PutProfile overwrites the full document unconditionally. Callers
	// must read-modify-write; there is no partial merge at this layer.
	PutProfile(ctx context.Context, profile models.Profile) error

	// PutProfileVersioned writes the document only if the stored version
	// still equals expectedVersion, bumping the version on success. It
	// fails with ErrWriteConflict on a version mismatch and with
	// profile.ErrHandleTaken when the write would claim a handle held by
	// another profile; the uniqueness check is atomic with the write.
	PutProfileVersioned(ctx context.Context, profile models.Profile, expectedVersion int64) error

	// IncrementFollowerCount atomically applies delta to the follower
	// counter and returns the new value. The counter never goes below
	// zero; a clamped decrement is logged by the backend as a defect
	// signal. Used exclusively by the follow ledger.
	IncrementFollowerCount(ctx context.Context, id string, delta int64) (int64, error)

	// CreateFollow inserts the edge, failing with ErrAlreadyFollowing if
	// the (followee, follower) pair already exists.
	CreateFollow(ctx context.Context, edge models.FollowEdge) error

	// DeleteFollow removes the edge, failing with ErrNotFollowing if it
	// does not exist.
	DeleteFollow(ctx context.Context, followeeID, followerID string) error

	// FollowExists is a point lookup with no side effects.
	FollowExists(ctx context.Context, followeeID, followerID string) (bool, error)

	// CountFollowers returns the cardinality of the followee's edge set.
	CountFollowers(ctx context.Context, followeeID string) (int64, error)

	// ListProfileIDs returns every stored profile id, for the audit task.
	ListProfileIDs(ctx context.Context) ([]string, error)

	// GetSettings returns the user's settings document, creating the
	// default document if absent on first access.
	GetSettings(ctx context.Context, userID string) (json.RawMessage, error)

	// PutSettings overwrites the user's settings document.
	PutSettings(ctx context.Context, userID string, doc json.RawMessage) error

	// GetCursor returns the persisted resume cursor for an upstream
	// consumer, 0 if none was stored yet.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the resume cursor for an upstream consumer.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
