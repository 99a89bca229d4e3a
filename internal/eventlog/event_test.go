package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keyrelay/internal/accesskey"
)

func TestEvent_Fields(t *testing.T) {
	t.Parallel()

	rec := &accesskey.Record{Key: "abc", RateLimitPerMin: 10, ExpiresAt: 1700000000000, Enabled: true}

	assert.Equal(t, map[string]string{
		"event":           "KEY_CREATED",
		"key":             "abc",
		"rateLimitPerMin": "10",
		"expiresAt":       "1700000000000",
		"enabled":         "true",
	}, Created(rec).Fields())

	assert.Equal(t, map[string]string{
		"event": "KEY_DELETED",
		"key":   "abc",
	}, Deleted("abc").Fields())
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fields  map[string]string
		want    Event
		wantErr error
	}{
		{
			name: "created",
			fields: map[string]string{
				"event": "KEY_CREATED", "key": "abc",
				"rateLimitPerMin": "10", "expiresAt": "99", "enabled": "true",
			},
			want: Event{Type: KeyCreated, Key: "abc", Record: &accesskey.Record{
				Key: "abc", RateLimitPerMin: 10, ExpiresAt: 99, Enabled: true,
			}},
		},
		{
			name: "updated tolerates unknown fields and missing expiry",
			fields: map[string]string{
				"event": "KEY_UPDATED", "key": "abc",
				"rateLimitPerMin": "5", "enabled": "false", "origin": "admin",
			},
			want: Event{Type: KeyUpdated, Key: "abc", Record: &accesskey.Record{
				Key: "abc", RateLimitPerMin: 5,
			}},
		},
		{
			name:   "deleted",
			fields: map[string]string{"event": "KEY_DELETED", "key": "abc"},
			want:   Event{Type: KeyDeleted, Key: "abc"},
		},
		{
			name:    "unknown type",
			fields:  map[string]string{"event": "KEY_ROTATED", "key": "abc"},
			want:    Event{Type: "KEY_ROTATED", Key: "abc"},
			wantErr: ErrUnknownEventType,
		},
		{
			name:    "missing event tag",
			fields:  map[string]string{"key": "abc"},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "missing key",
			fields:  map[string]string{"event": "KEY_DELETED"},
			want:    Event{Type: KeyDeleted},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "unparseable limit",
			fields:  map[string]string{"event": "KEY_CREATED", "key": "abc", "rateLimitPerMin": "ten"},
			want:    Event{Type: KeyCreated, Key: "abc"},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "missing limit",
			fields:  map[string]string{"event": "KEY_CREATED", "key": "abc", "enabled": "true"},
			want:    Event{Type: KeyCreated, Key: "abc"},
			wantErr: ErrMalformedEvent,
		},
		{
			name: "unparseable enabled",
			fields: map[string]string{
				"event": "KEY_CREATED", "key": "abc", "rateLimitPerMin": "1", "enabled": "yes please",
			},
			want:    Event{Type: KeyCreated, Key: "abc"},
			wantErr: ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decode(tt.fields)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	rec := &accesskey.Record{Key: "k-1", RateLimitPerMin: 60, ExpiresAt: 0, Enabled: false}
	for _, ev := range []Event{Created(rec), Updated(rec), Deleted("k-1")} {
		got, err := Decode(ev.Fields())
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}
