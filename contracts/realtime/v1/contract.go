package v1

import "time"

// ---- Stanzas ----

// Element is a generic, namespace-qualified element tree. It carries message
// extensions and archive query constraints.
type Element struct {
	Name     string    `json:"name"`
	NS       string    `json:"xmlns,omitempty"`
	Text     string    `json:"text,omitempty"`
	Children []Element `json:"children,omitempty"`
}

// Message is a routed chat stanza.
type Message struct {
	From     string    `json:"from,omitempty"`
	To       string    `json:"to"`
	Type     string    `json:"type,omitempty"`
	ID       string    `json:"id,omitempty"`
	Body     string    `json:"body,omitempty"`
	Thread   string    `json:"thread,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// ---- Payloads ----

// HelloPayload is sent by the client to bind an address to the session.
type HelloPayload struct {
	JID   string `json:"jid"`
	Token string `json:"token,omitempty"`
}

// HelloAckPayload carries the bound address and the advertised features.
type HelloAckPayload struct {
	SessionID string   `json:"session_id"`
	JID       string   `json:"jid"`
	Features  []string `json:"features,omitempty"`
}

// MessageSendPayload requests delivery of a message.
type MessageSendPayload struct {
	Message Message `json:"message"`
}

// MessageNewPayload delivers a message to a recipient session.
type MessageNewPayload struct {
	Message Message `json:"message"`
}

// ArchiveQueryPayload requests a page of the caller's own archive.
// Elements are constraint elements (start, end, with, set).
type ArchiveQueryPayload struct {
	QueryID  string    `json:"query_id,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Delay marks the archive time of a replayed message.
type Delay struct {
	Stamp time.Time `json:"stamp"`
	From  string    `json:"from,omitempty"`
}

// Forwarded wraps a replayed message together with its delay marker.
type Forwarded struct {
	Delay   Delay   `json:"delay"`
	Message Message `json:"message"`
}

// ArchiveResultPayload carries one archived message.
type ArchiveResultPayload struct {
	QueryID   string    `json:"query_id,omitempty"`
	ID        string    `json:"id"`
	Forwarded Forwarded `json:"forwarded"`
}

// ArchiveFinPayload terminates a successful archive query.
type ArchiveFinPayload struct {
	QueryID string `json:"query_id,omitempty"`
	Count   int    `json:"count"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	QueryID string `json:"query_id,omitempty"`
}
