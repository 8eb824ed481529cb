// Package ids provides ID primitives (ULID) shared by stores and the gateway.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
	last    ulid.ULID
)

// NewULID returns a new ULID string (26 chars).
//
// IDs issued by one process sort in issue order: the timestamp never moves
// backwards and ties within a millisecond are broken by monotonic entropy.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	mu.Lock()
	defer mu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < last.Time() {
		ms = last.Time()
	}

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}
	last = id
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot handle an entropy failure.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic(err)
	}
	return id
}
