package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"mam/cmd/identity/ids"
)

// NewSessionID returns the ULID naming one websocket session.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID for an outbound envelope, so ids sort by send time in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return randomHex(10)
	}
	return id
}

// newResource names the session of a client that bound a bare JID.
func newResource() string {
	return "mam-" + randomHex(4)
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
