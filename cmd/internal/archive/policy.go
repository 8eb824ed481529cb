package archive

import (
	"strings"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// Policy decides per owner whether archiving is enabled.
type Policy interface {
	ShouldArchive(owner identity.JID) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(owner identity.JID) bool

// ShouldArchive calls f(owner).
func (f PolicyFunc) ShouldArchive(owner identity.JID) bool { return f(owner) }

// AlwaysArchive is the default policy.
var AlwaysArchive Policy = PolicyFunc(func(identity.JID) bool { return true })

// OptOutPolicy archives every owner except the listed ones (matched by bare JID).
type OptOutPolicy struct {
	owners map[identity.JID]struct{}
}

// NewOptOutPolicy constructs an OptOutPolicy.
func NewOptOutPolicy(owners ...identity.JID) *OptOutPolicy {
	p := &OptOutPolicy{owners: make(map[identity.JID]struct{}, len(owners))}
	for _, o := range owners {
		p.owners[o.Bare()] = struct{}{}
	}
	return p
}

// ShouldArchive reports false for opted-out owners.
func (p *OptOutPolicy) ShouldArchive(owner identity.JID) bool {
	if p == nil {
		return true
	}
	_, out := p.owners[owner.Bare()]
	return !out
}

// ExtractBody returns the body to archive for ev, or false when ev must not
// be archived: non-message stanzas, messages without a body, and group chat
// messages when ignoreGroupChats is set.
func ExtractBody(ev Event, ignoreGroupChats bool) (string, bool) {
	if ev.Kind != StanzaMessage {
		return "", false
	}
	if ignoreGroupChats && ev.Message.Type == v1.MessageGroupChat {
		return "", false
	}
	if strings.TrimSpace(ev.Message.Body) == "" {
		return "", false
	}
	return ev.Message.Body, true
}
