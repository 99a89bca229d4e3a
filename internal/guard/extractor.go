package guard

import (
	"errors"
	"net/http"
	"strings"
)

// Credential extraction errors.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed credential")
)

// Extractor pulls an access key out of a request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// BearerExtractor reads the key from an Authorization header of the
// form "<scheme> <key>".
type BearerExtractor struct {
	scheme string
}

// NewBearerExtractor creates a BearerExtractor. An empty scheme
// defaults to "Bearer".
func NewBearerExtractor(scheme string) *BearerExtractor {
	if scheme == "" {
		scheme = "Bearer"
	}
	return &BearerExtractor{scheme: scheme}
}

// Extract implements Extractor. The scheme must match exactly.
func (e *BearerExtractor) Extract(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingCredential
	}

	prefix := e.scheme + " "
	if !strings.HasPrefix(auth, prefix) {
		return "", ErrMalformedCredential
	}

	key := strings.TrimSpace(auth[len(prefix):])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", ErrMalformedCredential
	}
	return key, nil
}

// HeaderExtractor reads the key verbatim from a named header.
type HeaderExtractor struct {
	header string
}

// NewHeaderExtractor creates a HeaderExtractor. An empty header
// defaults to "X-API-Key".
func NewHeaderExtractor(header string) *HeaderExtractor {
	if header == "" {
		header = "X-API-Key"
	}
	return &HeaderExtractor{header: header}
}

// Extract implements Extractor.
func (e *HeaderExtractor) Extract(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(e.header))
	if key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}
