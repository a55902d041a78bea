// Package security implements client authentication for the gateway: API key
// lookup plus per-key origin restrictions.
package security

import (
	"errors"
	"strings"

	"github.com/voxgate/voxgate/internal/config"
)

// ErrUnknownKey is returned when the presented API key is not configured.
var ErrUnknownKey = errors.New("security: unknown api key")

// ErrOriginNotAllowed is returned when the key is valid but the request
// origin does not match the key's allowlist.
var ErrOriginNotAllowed = errors.New("security: origin not allowed")

// Authorizer validates API keys and their origin restrictions.
// It is immutable after construction and safe for concurrent use.
type Authorizer struct {
	keys map[string][]string // key -> normalized allowed origins
}

// NewAuthorizer builds an Authorizer from the configured API keys.
func NewAuthorizer(entries []config.APIKeyConfig) *Authorizer {
	keys := make(map[string][]string, len(entries))
	for _, e := range entries {
		allowed := make([]string, 0, len(e.AllowedOrigins))
		for _, o := range e.AllowedOrigins {
			allowed = append(allowed, normalizeOrigin(o))
		}
		keys[e.Key] = allowed
	}
	return &Authorizer{keys: keys}
}

// Authorize checks the API key and the request origin. An empty origin is
// accepted for any valid key (non-browser clients send no Origin header), as
// is any origin when the key's allowlist is empty.
func (a *Authorizer) Authorize(apiKey, origin string) error {
	allowed, ok := a.keys[apiKey]
	if !ok {
		return ErrUnknownKey
	}
	if len(allowed) == 0 || origin == "" {
		return nil
	}
	norm := normalizeOrigin(origin)
	for _, entry := range allowed {
		if entry != "" && strings.Contains(norm, entry) {
			return nil
		}
	}
	return ErrOriginNotAllowed
}

// normalizeOrigin strips the URL scheme and any trailing slash so that
// configured entries match regardless of how the client spells the origin.
func normalizeOrigin(origin string) string {
	o := strings.TrimSpace(origin)
	if i := strings.Index(o, "://"); i >= 0 {
		o = o[i+3:]
	}
	return strings.TrimSuffix(o, "/")
}
