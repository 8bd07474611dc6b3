// Package ids generates request identifiers.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable ULID string.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Sanitize returns a client supplied identifier when it is a valid ULID, or a fresh one.
func Sanitize(candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate != "" {
		if id, err := ulid.ParseStrict(candidate); err == nil {
			return id.String()
		}
	}
	return New()
}
