package archive

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mam/cmd/identity"
	"mam/cmd/identity/ids"
)

const (
	memMaxMessagesPerOwner = 10_000
)

// InMemoryStore is a dev-only fallback when no database is configured.
type InMemoryStore struct {
	mu     sync.Mutex
	owners map[identity.JID][]ArchivedMessage // ordered by ID
	closed bool
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		owners: make(map[identity.JID][]ArchivedMessage),
	}
}

// Close marks the store closed; later calls report ErrStoreUnavailable.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping reports whether the store is open.
func (s *InMemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("archive.InMemoryStore.Ping", errors.New("closed"))
	}
	return nil
}

// Insert stores rec under a new ULID.
func (s *InMemoryStore) Insert(ctx context.Context, rec ArchivedMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.Owner.IsZero() {
		return "", errors.New("archive: missing owner")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", unavailable("archive.InMemoryStore.Insert", errors.New("closed"))
	}

	id, err := ids.NewULID(rec.Timestamp)
	if err != nil {
		return "", err
	}
	rec.ID = id
	rec.Raw = append([]byte(nil), rec.Raw...)

	owner := rec.Owner.Bare()
	msgs := append(s.owners[owner], rec)

	// Bound memory to avoid unbounded growth in dev.
	if len(msgs) > memMaxMessagesPerOwner {
		msgs = msgs[len(msgs)-memMaxMessagesPerOwner:]
	}
	s.owners[owner] = msgs
	return id, nil
}

// Find returns matching records ordered by ID ASC.
func (s *InMemoryStore) Find(ctx context.Context, in FindInput) ([]ArchivedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, unavailable("archive.InMemoryStore.Find", errors.New("closed"))
	}
	snap := append([]ArchivedMessage(nil), s.owners[in.Owner.Bare()]...)
	s.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool { return snap[i].ID < snap[j].ID })

	out := make([]ArchivedMessage, 0, min(in.Limit, len(snap)))
	for _, m := range snap {
		if !matchesFilter(m, in.Filter) {
			continue
		}
		out = append(out, m)
		if len(out) == in.Limit {
			break
		}
	}
	return out, nil
}

// PurgeBefore deletes records of server's owners archived before cutoff.
func (s *InMemoryStore) PurgeBefore(ctx context.Context, server string, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, unavailable("archive.InMemoryStore.PurgeBefore", errors.New("closed"))
	}

	var n int64
	for owner, msgs := range s.owners {
		if owner.Server != server {
			continue
		}
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Timestamp.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.owners, owner)
			continue
		}
		s.owners[owner] = kept
	}
	return n, nil
}
