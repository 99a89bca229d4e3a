// Package accesskey defines the access-key record shared by the
// authoritative service, the event log and the replica, together with
// the error taxonomy surfaced by mutations.
package accesskey

import (
	"strings"
	"time"
)

// Record is an access-key record. The authoritative store owns it;
// replicas hold a projection of the same shape.
type Record struct {
	Key             string `json:"key"`
	RateLimitPerMin int64  `json:"rateLimitPerMin"`
	// ExpiresAt is epoch milliseconds. Zero means the key never expires.
	ExpiresAt int64 `json:"expiresAt"`
	Enabled   bool  `json:"enabled"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ExpiredAt reports whether the record is expired at the given instant.
func (r *Record) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt > 0 && r.ExpiresAt <= now.UnixMilli()
}

// Validate checks a record submitted for creation.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return NewValidationError("key", "must not be empty")
	}
	if strings.ContainsAny(r.Key, " \t\r\n") {
		return NewValidationError("key", "must not contain whitespace")
	}
	if r.RateLimitPerMin <= 0 {
		return NewValidationError("rateLimitPerMin", "must be greater than zero")
	}
	if r.ExpiresAt < 0 {
		return NewValidationError("expiresAt", "must not be negative")
	}
	return nil
}

// Patch carries the fields an update may change. Nil fields are left
// untouched.
type Patch struct {
	RateLimitPerMin *int64 `json:"rateLimitPerMin,omitempty"`
	ExpiresAt       *int64 `json:"expiresAt,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.RateLimitPerMin == nil && p.ExpiresAt == nil
}

// Validate checks the patch fields that are present.
func (p Patch) Validate() error {
	if p.Empty() {
		return NewValidationError("", "at least one of rateLimitPerMin, expiresAt is required")
	}
	if p.RateLimitPerMin != nil && *p.RateLimitPerMin <= 0 {
		return NewValidationError("rateLimitPerMin", "must be greater than zero")
	}
	if p.ExpiresAt != nil && *p.ExpiresAt < 0 {
		return NewValidationError("expiresAt", "must not be negative")
	}
	return nil
}

// ApplyTo returns a copy of r with the patch merged in.
func (p Patch) ApplyTo(r *Record) *Record {
	out := r.Clone()
	if p.RateLimitPerMin != nil {
		out.RateLimitPerMin = *p.RateLimitPerMin
	}
	if p.ExpiresAt != nil {
		out.ExpiresAt = *p.ExpiresAt
	}
	return out
}
