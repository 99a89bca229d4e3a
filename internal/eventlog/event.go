// Package eventlog carries access-key mutation events from the
// authoritative service to replicas over an append-only log with
// consumer-group delivery.
package eventlog

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

// Default log addressing shared by publishers and consumers.
const (
	DefaultStream = "access-key-events"
	DefaultGroup  = "l2-consumer-group"
)

// EventType tags a mutation event.
type EventType string

// Event types.
const (
	KeyCreated EventType = "KEY_CREATED"
	KeyUpdated EventType = "KEY_UPDATED"
	KeyDeleted EventType = "KEY_DELETED"
)

// Wire field names.
const (
	FieldEvent           = "event"
	FieldKey             = "key"
	FieldRateLimitPerMin = "rateLimitPerMin"
	FieldExpiresAt       = "expiresAt"
	FieldEnabled         = "enabled"
)

// Decode errors.
var (
	// ErrUnknownEventType is returned for a well-formed entry whose event
	// tag this version does not handle.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMalformedEvent is returned when required fields are missing or
	// cannot be parsed.
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is a mutation event. Record is nil for KeyDeleted.
type Event struct {
	Type   EventType
	Key    string
	Record *accesskey.Record
}

// Created builds a KeyCreated event.
func Created(rec *accesskey.Record) Event {
	return Event{Type: KeyCreated, Key: rec.Key, Record: rec.Clone()}
}

// Updated builds a KeyUpdated event.
func Updated(rec *accesskey.Record) Event {
	return Event{Type: KeyUpdated, Key: rec.Key, Record: rec.Clone()}
}

// Deleted builds a KeyDeleted event.
func Deleted(key string) Event {
	return Event{Type: KeyDeleted, Key: key}
}

// Fields encodes the event as a flat field/value mapping.
func (e Event) Fields() map[string]string {
	fields := map[string]string{
		FieldEvent: string(e.Type),
		FieldKey:   e.Key,
	}
	if e.Record != nil {
		fields[FieldRateLimitPerMin] = strconv.FormatInt(e.Record.RateLimitPerMin, 10)
		fields[FieldExpiresAt] = strconv.FormatInt(e.Record.ExpiresAt, 10)
		fields[FieldEnabled] = strconv.FormatBool(e.Record.Enabled)
	}
	return fields
}

// Decode parses a flat field mapping. Unknown fields are ignored. For
// an unrecognized event tag the returned event carries the tag and the
// error wraps ErrUnknownEventType.
func Decode(fields map[string]string) (Event, error) {
	tag, ok := fields[FieldEvent]
	if !ok || tag == "" {
		return Event{}, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldEvent)
	}

	ev := Event{Type: EventType(tag), Key: fields[FieldKey]}

	switch ev.Type {
	case KeyCreated, KeyUpdated, KeyDeleted:
	default:
		return ev, fmt.Errorf("%w: %s", ErrUnknownEventType, tag)
	}

	if ev.Key == "" {
		return ev, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldKey)
	}

	if ev.Type == KeyDeleted {
		return ev, nil
	}

	rec := &accesskey.Record{Key: ev.Key}

	limit, err := parseInt(fields, FieldRateLimitPerMin, true)
	if err != nil {
		return ev, err
	}
	rec.RateLimitPerMin = limit

	expiresAt, err := parseInt(fields, FieldExpiresAt, false)
	if err != nil {
		return ev, err
	}
	rec.ExpiresAt = expiresAt

	if raw, ok := fields[FieldEnabled]; ok && raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return ev, fmt.Errorf("%w: %s=%q", ErrMalformedEvent, FieldEnabled, raw)
		}
		rec.Enabled = enabled
	}

	ev.Record = rec
	return ev, nil
}

func parseInt(fields map[string]string, name string, required bool) (int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		if required {
			return 0, fmt.Errorf("%w: missing %s", ErrMalformedEvent, name)
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedEvent, name, raw)
	}
	return v, nil
}
