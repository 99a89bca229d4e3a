// Package keystore provides point read/write/delete of access-key records.
//
// The same contract serves the authoritative store and every replica; the
// two roles are separated by key prefix so they can share a Redis instance.
package keystore

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

// Key prefixes for the two store roles.
const (
	AuthoritativePrefix = "ACCESS_KEY:"
	ReplicaPrefix       = "L2_ACCESS_KEY:"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("keystore: record not found")

// Store defines the record storage contract.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key string) (*accesskey.Record, error)

	// Set replaces the whole record stored under rec.Key.
	Set(ctx context.Context, rec *accesskey.Record) error

	// Delete removes the record. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every record in the store.
	List(ctx context.Context) ([]*accesskey.Record, error)
}
