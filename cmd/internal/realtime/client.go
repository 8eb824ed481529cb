package realtime

import (
	"sync"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is NOT closed by the server to avoid panics from concurrent senders.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - The address is bound once, by hello.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu  sync.RWMutex
	jid identity.JID

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Bind sets the session address. It reports false if one is already bound.
func (c *Client) Bind(jid identity.JID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.jid.IsZero() {
		return false
	}
	c.jid = jid
	return true
}

// JID returns the bound address, if any.
func (c *Client) JID() (identity.JID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jid, !c.jid.IsZero()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
