package license

import (
	"fmt"
	"strings"

	"tenantgov.org/internal/apperr"
)

// Status is the billing state of a license.
type Status int

const (
	StatusActive Status = iota + 1
	StatusGrace
	StatusExpired
	StatusSuspended
	StatusTrial
	StatusCancelled
)

// ParseStatus parses the lower-case status name stored by billing.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "grace":
		return StatusGrace, nil
	case "expired":
		return StatusExpired, nil
	case "suspended":
		return StatusSuspended, nil
	case "trial":
		return StatusTrial, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, apperr.InvalidArgument(fmt.Sprintf("unknown license status %q", s))
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusGrace:
		return "grace"
	case StatusExpired:
		return "expired"
	case StatusSuspended:
		return "suspended"
	case StatusTrial:
		return "trial"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Known reports whether s is one of the declared statuses.
func (s Status) Known() bool {
	return s >= StatusActive && s <= StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Known() {
		return nil, apperr.InvalidArgument("unknown license status")
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
