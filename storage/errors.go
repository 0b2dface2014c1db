package storage

import "errors"

var (
	// ErrNotFound is returned on a profile lookup miss.
	ErrNotFound = errors.New("profile not found")

	// ErrSelfFollow is returned when a profile tries to follow itself.
	ErrSelfFollow = errors.New("cannot follow own profile")

	// ErrAlreadyFollowing is returned when the follow edge already exists.
	ErrAlreadyFollowing = errors.New("already following")

	// ErrNotFollowing is returned when unfollowing without an edge.
	ErrNotFollowing = errors.New("not following")

	// ErrWriteConflict signals a lost compare-and-swap; the edit pipeline
	// retries the full validate+write cycle before surfacing it.
	ErrWriteConflict = errors.New("profile write conflict")
)
