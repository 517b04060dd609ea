// Package correlation carries relay correlation identifiers through contexts
// so that the listener, dispatcher, and host channel log the same id for one
// logical call.
package correlation

import (
	"context"
	"strings"

	"github.com/megamem/vaultd/internal/uuidv7"
)

// MaxIDLength bounds externally supplied correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// With records the correlation ID on ctx when id is acceptable, generating a
// fresh one otherwise. The returned context always carries an id.
func With(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		normalized = Generate()
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// Normalize validates and canonicalizes an external correlation identifier.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a new random correlation identifier.
func Generate() string {
	return uuidv7.NewString()
}
