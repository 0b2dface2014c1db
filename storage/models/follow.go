package models

import "time"

// FollowEdge is a single directed follow relationship. Its existence is
// the source of truth for "is following"; at most one edge per
// (followee, follower) pair.
type FollowEdge struct {
	FolloweeID string
	FollowerID string
	CreatedAt  time.Time
}
