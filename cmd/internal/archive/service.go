package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// Capability is the feature marker advertised for the archive.
const Capability = v1.NSArchive

// ServiceConfig holds the settings shared by every domain actor.
type ServiceConfig struct {
	Emitter          Emitter
	Policy           Policy
	IgnoreGroupChats bool
	MailboxSize      int
	EmissionLimit    int
	WriteTimeout     time.Duration
	Log              *slog.Logger
	Metrics          *Metrics
	Now              func() time.Time
}

// Service routes intake and queries to the actor of the owner's domain.
type Service struct {
	cfg ServiceConfig
	log *slog.Logger

	mu     sync.RWMutex
	actors map[string]*Actor
	closed bool
}

// NewService constructs an empty registry. Domains are added with Start.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		log:    cfg.Log,
		actors: make(map[string]*Actor),
	}
}

// Start spawns the actor serving domain on store.
func (s *Service) Start(domain string, store Store) error {
	domain = identity.NormalizeServer(domain)
	if domain == "" {
		return errors.New("archive: empty domain")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.actors[domain]; ok {
		return fmt.Errorf("archive: domain %q already served", domain)
	}

	a, err := NewActor(ActorConfig{
		Domain:           domain,
		Store:            store,
		Emitter:          s.cfg.Emitter,
		Policy:           s.cfg.Policy,
		IgnoreGroupChats: s.cfg.IgnoreGroupChats,
		MailboxSize:      s.cfg.MailboxSize,
		EmissionLimit:    s.cfg.EmissionLimit,
		WriteTimeout:     s.cfg.WriteTimeout,
		Log:              s.log,
		Metrics:          s.cfg.Metrics,
		Now:              s.cfg.Now,
	})
	if err != nil {
		return err
	}
	s.actors[domain] = a
	s.log.Info("archive.domain.start", "domain", domain)
	return nil
}

// Stop detaches domain and waits for its actor to finish.
func (s *Service) Stop(domain string) error {
	domain = identity.NormalizeServer(domain)

	s.mu.Lock()
	a, ok := s.actors[domain]
	delete(s.actors, domain)
	s.mu.Unlock()

	if !ok {
		return ErrUnknownArchive
	}
	err := a.Close()
	s.log.Info("archive.domain.stop", "domain", domain)
	return err
}

// Domains lists served domains, sorted.
func (s *Service) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.actors))
	for d := range s.actors {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Stores returns the store of every served domain.
func (s *Service) Stores() map[string]Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Store, len(s.actors))
	for d, a := range s.actors {
		out[d] = a.Store()
	}
	return out
}

// HandleIncoming hands ev to the archive of ev.Owner. It never blocks;
// events for unserved domains are ignored.
func (s *Service) HandleIncoming(ev Event) bool {
	a := s.actor(ev.Owner)
	if a == nil {
		return false
	}
	return a.Incoming(ev)
}

// HandleQuery hands q to the archive of q.Owner and returns the emission handle.
func (s *Service) HandleQuery(ctx context.Context, q QueryRequest) (*Emission, error) {
	a := s.actor(q.Owner)
	if a == nil {
		return nil, OpError{Op: "archive.HandleQuery", Kind: ErrUnknownArchive, Msg: q.Owner.Server}
	}
	return a.Query(ctx, q)
}

// Ping checks every served store.
func (s *Service) Ping(ctx context.Context) error {
	var errs []error
	for domain, st := range s.Stores() {
		if err := st.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every actor and waits for in-flight deliveries.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	actors := s.actors
	s.actors = make(map[string]*Actor)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Close()
		}()
	}
	wg.Wait()
	return nil
}

func (s *Service) actor(owner identity.JID) *Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actors[owner.Server]
}
