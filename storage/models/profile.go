package models

import "time"

type VerificationTier string

const (
	TierNone       VerificationTier = "none"
	TierVerified   VerificationTier = "verified"
	TierStudent    VerificationTier = "student"
	TierGovernment VerificationTier = "government"
	TierStaff      VerificationTier = "staff"
)

// Profile is the full user document. Writes go through the validator and
// the store's versioned put; FollowerCount is mutated only through the
// store's atomic increment and is derivative of the follow edge set.
type Profile struct {
	ID            string
	DisplayName   string
	Handle        string
	Bio           string
	AvatarRef     string
	Tier          VerificationTier
	IsPaidTier    bool
	FollowerCount int64
	Version       int64
	CreatedAt     time.Time
}
