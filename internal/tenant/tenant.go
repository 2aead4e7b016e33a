// Package tenant holds the identifier value objects shared by every kernel package.
package tenant

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tenantgov.org/internal/apperr"
)

// ID identifies an isolated customer organization. Ids are never recycled.
type ID int64

// NewID validates a raw tenant id.
func NewID(v int64) (ID, error) {
	if v <= 0 {
		return 0, apperr.InvalidArgument("tenant id must be positive")
	}
	return ID(v), nil
}

// ParseID parses a decimal tenant id.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apperr.InvalidArgument("tenant id is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperr.InvalidArgument("tenant id must be numeric")
	}
	return NewID(v)
}

// Valid reports whether the id could have come from NewID.
func (id ID) Valid() bool { return id > 0 }

func (id ID) Int64() int64 { return int64(id) }

func (id ID) String() string { return strconv.FormatInt(int64(id), 10) }

// UserID is a UUID-shaped user identifier in canonical lower-case form.
type UserID string

// ParseUserID validates and canonicalises a user id.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.InvalidArgument("user id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", apperr.InvalidArgument("user id must be a uuid")
	}
	return UserID(u.String()), nil
}

// NewUserID returns a fresh random user id.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// IsZero reports whether the id is unset.
func (u UserID) IsZero() bool { return u == "" }

func (u UserID) String() string { return string(u) }
