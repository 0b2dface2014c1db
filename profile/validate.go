// Package profile validates and normalizes profile edits before any store
// write. Validation is pure: the only outside state it consults is the
// handle lookup passed in by the caller.
package profile

import (
	"errors"
	"unicode/utf8"

	"github.com/raichat/social/storage/models"
)

const (
	MaxDisplayNameLength = 30
	MaxHandleLength      = 12
	MaxBioLength         = 500
)

var (
	ErrHandleTaken   = errors.New("handle is already in use")
	ErrNameRequired  = errors.New("display name is required")
	ErrNameTooLong   = errors.New("display name exceeds 30 characters")
	ErrHandleTooLong = errors.New("handle exceeds 12 characters")
	ErrBioTooLong    = errors.New("bio exceeds 500 characters")
)

// Edit holds the proposed field values, all submitted together the way the
// edit form sends them.
type Edit struct {
	DisplayName string
	Handle      string
	Bio         string
	AvatarRef   string
}

// Normalized holds the field values that may be written to the store after
// a successful validation.
type Normalized struct {
	DisplayName string
	Handle      string
	Bio         string
	AvatarRef   string
	Tier        models.VerificationTier
}

// HandleLookup reports whether a handle is already claimed by a profile
// other than the one being edited.
type HandleLookup func(handle string) bool

// Validate checks an edit against the current profile, first failure wins.
// Length limits count runes, not bytes.
//
// A bio change from a non-paid profile is dropped rather than rejected:
// the field keeps its stored value and no error is returned.
// The verification tier resets whenever the display name changes, since
// the tier attests the stored name.
func Validate(current models.Profile, edit Edit, handleInUse HandleLookup) (Normalized, error) {
	if edit.Handle != current.Handle && handleInUse(edit.Handle) {
		return Normalized{}, ErrHandleTaken
	}
	if edit.DisplayName == "" {
		return Normalized{}, ErrNameRequired
	}
	if utf8.RuneCountInString(edit.DisplayName) > MaxDisplayNameLength {
		return Normalized{}, ErrNameTooLong
	}
	if utf8.RuneCountInString(edit.Handle) > MaxHandleLength {
		return Normalized{}, ErrHandleTooLong
	}

	bio := current.Bio
	if current.IsPaidTier {
		if utf8.RuneCountInString(edit.Bio) > MaxBioLength {
			return Normalized{}, ErrBioTooLong
		}
		bio = edit.Bio
	}

	tier := current.Tier
	if edit.DisplayName != current.DisplayName {
		tier = models.TierNone
	}

	return Normalized{
		DisplayName: edit.DisplayName,
		Handle:      edit.Handle,
		Bio:         bio,
		AvatarRef:   edit.AvatarRef,
		Tier:        tier,
	}, nil
}
