package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mam/cmd/identity"
	"mam/cmd/internal/archive"
	v1 "mam/contracts/realtime/v1"
)

// ErrNoSession is returned when an address has no connected session.
var ErrNoSession = errors.New("realtime: no session for address")

// Router tracks bound sessions by bare address and delivers envelopes to them.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent delivery.
// - Deliver never blocks (drops under backpressure).
// - Emit and EmitFault block on the send queue until ctx is done.
type Router struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[identity.JID]map[string]*Client // bare JID -> session id -> client
}

var _ archive.Emitter = (*Router)(nil)

// NewRouter constructs an empty Router.
func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:      log,
		sessions: make(map[identity.JID]map[string]*Client),
	}
}

// Register adds a bound client.
func (r *Router) Register(c *Client) {
	jid, ok := c.JID()
	if !ok {
		return
	}
	bare := jid.Bare()

	r.mu.Lock()
	m := r.sessions[bare]
	if m == nil {
		m = make(map[string]*Client)
		r.sessions[bare] = m
	}
	m[c.SessionID] = c
	r.mu.Unlock()

	r.log.Info("router.session.register", "session_id", c.SessionID, "jid", jid.String())
}

// Unregister removes a client.
func (r *Router) Unregister(c *Client) {
	jid, ok := c.JID()
	if !ok {
		return
	}
	bare := jid.Bare()

	r.mu.Lock()
	if m := r.sessions[bare]; m != nil {
		delete(m, c.SessionID)
		if len(m) == 0 {
			delete(r.sessions, bare)
		}
	}
	r.mu.Unlock()

	r.log.Info("router.session.unregister", "session_id", c.SessionID, "jid", jid.String())
}

// Sessions returns the clients addressed by to: the exact session for a full
// JID when connected, otherwise every session of the bare JID.
func (r *Router) Sessions(to identity.JID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.sessions[to.Bare()]
	if len(m) == 0 {
		return nil
	}

	if !to.IsBare() {
		for _, c := range m {
			if jid, _ := c.JID(); jid == to {
				return []*Client{c}
			}
		}
	}

	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Deliver enqueues env for every session addressed by to.
// Non-blocking: a full or closing session is skipped. Returns the number of sessions reached.
func (r *Router) Deliver(to identity.JID, env v1.Envelope) int {
	n := 0
	for _, c := range r.Sessions(to) {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
			n++
		default:
			r.log.Warn("router.deliver.drop", "session_id", c.SessionID, "type", env.Type)
		}
	}
	return n
}

// Emit delivers one archive result to the requester.
func (r *Router) Emit(ctx context.Context, to, from identity.JID, item v1.ArchiveResultPayload) error {
	p, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return r.send(ctx, to, newEnvelope(v1.TypeArchiveResult, p, time.Now().UTC()))
}

// EmitFault delivers an archive fault to the requester as an error envelope.
func (r *Router) EmitFault(ctx context.Context, to, from identity.JID, queryID string, kind archive.FaultKind, detail string) error {
	p, err := json.Marshal(v1.ErrorPayload{
		Code:    faultCode(kind),
		Message: detail,
		QueryID: queryID,
	})
	if err != nil {
		return err
	}
	return r.send(ctx, to, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (r *Router) send(ctx context.Context, to identity.JID, env v1.Envelope) error {
	targets := r.Sessions(to)
	if len(targets) == 0 {
		return ErrNoSession
	}

	sent := 0
	for _, c := range targets {
		select {
		case c.Send <- env:
			sent++
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sent == 0 {
		return ErrNoSession
	}
	return nil
}

func faultCode(kind archive.FaultKind) string {
	switch kind {
	case archive.FaultBadRequest:
		return v1.CodeBadRequest
	case archive.FaultPolicyViolation:
		return v1.CodePolicyViolation
	default:
		return v1.CodeServiceUnavailable
	}
}
