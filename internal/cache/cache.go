// Package cache provides the key-value backends behind the idempotency guard.
package cache

import "errors"

// ErrMiss is returned by Get when the key is absent or expired.
// Any other error means the backend could not answer.
var ErrMiss = errors.New("cache: miss")
