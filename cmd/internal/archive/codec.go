package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// EncodeInput describes a kept message event.
type EncodeInput struct {
	Direction   Direction
	Owner       identity.JID
	Counterpart identity.JID
	Body        string
	Message     v1.Message
	Now         time.Time
}

// Encode converts a kept message event into a storable record.
// The record is stamped with in.Now (or the current instant); ID is left to the store.
// No deduplication is performed.
func Encode(in EncodeInput) (ArchivedMessage, error) {
	raw, err := json.Marshal(in.Message)
	if err != nil {
		return ArchivedMessage{}, fmt.Errorf("archive: encode payload: %w", err)
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return ArchivedMessage{
		Owner:       in.Owner.Bare(),
		Counterpart: in.Counterpart,
		Direction:   in.Direction,
		Body:        in.Body,
		Timestamp:   now,
		Raw:         raw,
	}, nil
}

// Decode turns a stored record back into a result item for queryID.
// It returns false when the raw payload no longer parses; such records are
// omitted from the page rather than failing the query.
//
// The decoded message equals the encoded one on the wire, not in memory:
// empty element slices are omitted when encoded and come back nil.
func Decode(rec ArchivedMessage, queryID string) (v1.ArchiveResultPayload, bool) {
	raw := bytes.TrimSpace(rec.Raw)
	if len(raw) == 0 || raw[0] != '{' {
		return v1.ArchiveResultPayload{}, false
	}

	var msg v1.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return v1.ArchiveResultPayload{}, false
	}

	return v1.ArchiveResultPayload{
		QueryID: queryID,
		ID:      rec.ID,
		Forwarded: v1.Forwarded{
			Delay: v1.Delay{
				Stamp: rec.Timestamp.UTC(),
				From:  rec.Owner.Bare().String(),
			},
			Message: msg,
		},
	}, true
}
