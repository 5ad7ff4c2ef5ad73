// Package session provides short-lived leases used to keep a single token
// refresh in flight per user across concurrent requests and processes.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Second

// ErrLocked is returned when the lease is held by another owner.
var ErrLocked = errors.New("lease is held by another owner")

// ErrNotOwner is returned when releasing a lease the caller does not hold.
var ErrNotOwner = errors.New("lease not found or not owned by caller")

// Lease describes a held lease.
type Lease struct {
	Key       string `json:"key" dynamodbav:"lease_key"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// Locker hands out exclusive, expiring leases keyed by an arbitrary string.
type Locker interface {
	// Acquire takes the lease for owner. It succeeds if no live lease exists,
	// the existing lease has expired, or owner already holds it.
	Acquire(ctx context.Context, key, owner string) (*Lease, error)

	// Release drops the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error
}
