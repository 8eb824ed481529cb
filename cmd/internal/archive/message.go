package archive

import (
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// Direction of an archived message relative to the archive owner.
type Direction uint8

const (
	Outgoing Direction = iota + 1
	Incoming
)

// String returns the persisted form ("out" / "in").
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "out"
	case Incoming:
		return "in"
	default:
		return "unknown"
	}
}

// ArchivedMessage is the persisted record. It is immutable once written.
type ArchivedMessage struct {
	// ID is assigned by the store; its ordering follows insertion order.
	ID          string
	Owner       identity.JID
	Counterpart identity.JID
	Direction   Direction
	Body        string
	// Timestamp is the archive insertion time, not the claimed send time.
	Timestamp time.Time
	// Raw is the serialized original message, replayed verbatim on query.
	Raw []byte
}

// StanzaKind classifies an inbound event.
type StanzaKind uint8

const (
	StanzaMessage StanzaKind = iota + 1
	StanzaPresence
	StanzaIQ
)

// Event is one routed stanza seen by the intake hook.
type Event struct {
	Direction   Direction
	Owner       identity.JID
	Counterpart identity.JID
	Kind        StanzaKind
	Message     v1.Message
}
