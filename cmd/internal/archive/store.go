package archive

import (
	"context"
	"time"

	"mam/cmd/identity"
)

// Store persists and queries archived messages.
//
// Requirements:
//   - Insert assigns ID; IDs sort in insertion order.
//   - Find returns records ordered by ID ASC, at most Limit of them.
//   - Backend failures are reported as ErrStoreUnavailable, never as an empty result.
type Store interface {
	Insert(ctx context.Context, rec ArchivedMessage) (string, error)
	Find(ctx context.Context, in FindInput) ([]ArchivedMessage, error)
	// PurgeBefore deletes the records of owners on server archived before cutoff.
	PurgeBefore(ctx context.Context, server string, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// FindInput describes a store query.
type FindInput struct {
	Owner  identity.JID
	Filter QueryFilter
	// Limit is the ResultWindow fetch count. Zero returns no records
	// without touching the backend.
	Limit int
}

func matchesFilter(m ArchivedMessage, f QueryFilter) bool {
	if f.Start != nil && m.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && m.Timestamp.After(*f.End) {
		return false
	}
	if f.With != nil && !matchesWith(m.Counterpart, *f.With) {
		return false
	}
	return true
}

func matchesWith(counterpart, with identity.JID) bool {
	if with.IsBare() {
		return counterpart.Bare() == with
	}
	return counterpart == with
}
