// Package v1 defines the Arc Realtime Protocol v1 contract, including the
// message archive extension.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeMessageSend requests delivery of a message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageNew delivers a message to the recipient (server -> client).
	TypeMessageNew = "message_new"

	// TypeArchiveQuery asks for a page of the caller's archive (client -> server).
	TypeArchiveQuery = "archive_query"
	// TypeArchiveResult carries one archived message (server -> client).
	TypeArchiveResult = "archive_result"
	// TypeArchiveFin terminates a successful archive query (server -> client).
	TypeArchiveFin = "archive_fin"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Namespaces used as capability markers and element qualifiers.
const (
	NSArchive = "urn:xmpp:mam:tmp"
	NSPaging  = "http://jabber.org/protocol/rsm"
	NSForward = "urn:xmpp:forward:0"
	NSDelay   = "urn:xmpp:delay"
)

// Message types.
const (
	MessageChat      = "chat"
	MessageGroupChat = "groupchat"
	MessageNormal    = "normal"
	MessageHeadline  = "headline"
)

// Error codes carried by ErrorPayload.Code for archive faults.
const (
	CodeBadRequest         = "bad_request"
	CodeServiceUnavailable = "service_unavailable"
	CodePolicyViolation    = "policy_violation"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeMessageSend,
		TypeMessageNew,
		TypeArchiveQuery,
		TypeArchiveResult,
		TypeArchiveFin,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
