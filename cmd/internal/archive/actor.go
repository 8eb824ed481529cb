package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

const (
	defaultMailboxSize   = 1024
	defaultEmissionLimit = 64
)

// DefaultWriteTimeout bounds one archive insert when no timeout is configured.
const DefaultWriteTimeout = 5 * time.Second

// Emitter delivers query output to the requester. It is provided by the
// protocol layer.
type Emitter interface {
	Emit(ctx context.Context, to, from identity.JID, item v1.ArchiveResultPayload) error
	EmitFault(ctx context.Context, to, from identity.JID, queryID string, kind FaultKind, detail string) error
}

// QueryRequest is an archive query as received from the protocol layer.
type QueryRequest struct {
	Requester identity.JID
	Owner     identity.JID
	Elements  []v1.Element
	QueryID   string
}

// ActorConfig configures one domain actor.
type ActorConfig struct {
	Domain           string
	Store            Store
	Emitter          Emitter
	Policy           Policy
	IgnoreGroupChats bool
	MailboxSize      int
	// EmissionLimit bounds concurrently streaming pages. When reached, the
	// actor waits for a slot before taking the next request.
	EmissionLimit int
	// WriteTimeout bounds each insert. A stalled store must not wedge the mailbox.
	WriteTimeout time.Duration
	Log          *slog.Logger
	Metrics      *Metrics
	Now          func() time.Time
}

type request struct {
	ctx      context.Context
	event    *Event
	query    *QueryRequest
	emission *Emission
}

// Actor serializes the writes and reads of one served domain.
//
// Concurrency guarantees:
// - Inserts and finds run one at a time, in mailbox order.
// - Page delivery runs outside the loop, one task per query, preserving page order.
// - Close drains the mailbox and waits for running deliveries.
type Actor struct {
	domain           string
	store            Store
	emitter          Emitter
	policy           Policy
	ignoreGroupChats bool
	writeTimeout     time.Duration
	log              *slog.Logger
	metrics          *Metrics
	now              func() time.Time

	mu      sync.RWMutex
	closed  bool
	mailbox chan request

	emissions errgroup.Group
	loopDone  chan struct{}
	closeOnce sync.Once
}

// NewActor constructs an actor and starts its loop.
func NewActor(cfg ActorConfig) (*Actor, error) {
	if cfg.Domain == "" {
		return nil, errors.New("archive: empty domain")
	}
	if cfg.Store == nil {
		return nil, errors.New("archive: nil store")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("archive: nil emitter")
	}
	if cfg.Policy == nil {
		cfg.Policy = AlwaysArchive
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = defaultMailboxSize
	}
	if cfg.EmissionLimit <= 0 {
		cfg.EmissionLimit = defaultEmissionLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	a := &Actor{
		domain:           cfg.Domain,
		store:            cfg.Store,
		emitter:          cfg.Emitter,
		policy:           cfg.Policy,
		ignoreGroupChats: cfg.IgnoreGroupChats,
		writeTimeout:     cfg.WriteTimeout,
		log:              cfg.Log.With("domain", cfg.Domain),
		metrics:          cfg.Metrics,
		now:              cfg.Now,
		mailbox:          make(chan request, cfg.MailboxSize),
		loopDone:         make(chan struct{}),
	}
	a.emissions.SetLimit(cfg.EmissionLimit)

	go a.run()
	return a, nil
}

// Domain returns the served domain.
func (a *Actor) Domain() string { return a.domain }

// Store returns the actor's store handle.
func (a *Actor) Store() Store { return a.store }

// Incoming enqueues an intake event without blocking.
// It reports false when the event was dropped (mailbox full or actor closed).
func (a *Actor) Incoming(ev Event) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return false
	}

	select {
	case a.mailbox <- request{ctx: context.Background(), event: &ev}:
		return true
	default:
		a.metrics.incDropped(a.domain)
		a.log.Warn("archive.mailbox.full", "owner", ev.Owner.Bare().String())
		return false
	}
}

// Query enqueues a query, waiting for mailbox space until ctx is done.
// ctx also bounds the store lookup and the delivery of the page.
func (a *Actor) Query(ctx context.Context, q QueryRequest) (*Emission, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, ErrClosed
	}

	em := newEmission(q.QueryID)
	select {
	case a.mailbox <- request{ctx: ctx, query: &q, emission: em}:
		return em, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests, processes what is queued and waits for
// running deliveries. It does not close the store.
func (a *Actor) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.mailbox)
		a.mu.Unlock()

		<-a.loopDone
		_ = a.emissions.Wait()
	})
	return nil
}

func (a *Actor) run() {
	defer close(a.loopDone)

	for req := range a.mailbox {
		a.metrics.setMailboxDepth(a.domain, len(a.mailbox))

		switch {
		case req.event != nil:
			a.handleIncoming(req.ctx, *req.event)
		case req.query != nil:
			a.handleQuery(req.ctx, *req.query, req.emission)
		}
	}
}

func (a *Actor) handleIncoming(ctx context.Context, ev Event) {
	owner := ev.Owner.Bare()

	if !a.policy.ShouldArchive(owner) {
		a.metrics.incSkipped(a.domain, "policy")
		return
	}

	body, ok := ExtractBody(ev, a.ignoreGroupChats)
	if !ok {
		a.metrics.incSkipped(a.domain, "filtered")
		return
	}

	rec, err := Encode(EncodeInput{
		Direction:   ev.Direction,
		Owner:       owner,
		Counterpart: ev.Counterpart,
		Body:        body,
		Message:     ev.Message,
		Now:         a.now(),
	})
	if err != nil {
		a.metrics.incFailure(a.domain, "encode")
		a.log.Warn("archive.encode.fail", "owner", owner.String(), "err", err)
		return
	}

	// Best effort: a failed insert never reaches the routing path.
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()
	if _, err := a.store.Insert(ctx, rec); err != nil {
		a.metrics.incFailure(a.domain, "insert")
		a.log.Error("archive.insert.fail", "owner", owner.String(), "direction", ev.Direction.String(), "err", err)
		return
	}
	a.metrics.incArchived(a.domain, ev.Direction)
}

func (a *Actor) handleQuery(ctx context.Context, q QueryRequest, em *Emission) {
	parsed, err := ParseQuery(q.Elements)
	if err != nil {
		a.fault(ctx, q, em, err, "malformed archive query")
		return
	}

	start := time.Now()
	recs, err := a.store.Find(ctx, FindInput{
		Owner:  q.Owner.Bare(),
		Filter: parsed.Filter,
		Limit:  FetchCount(parsed.Cursor),
	})
	a.metrics.observeQuery(a.domain, time.Since(start).Seconds())
	if err != nil {
		a.metrics.incFailure(a.domain, "find")
		a.log.Error("archive.find.fail", "owner", q.Owner.Bare().String(), "query_id", q.QueryID, "err", err)
		a.fault(ctx, q, em, unavailableFind(err), "archive unavailable")
		return
	}

	page, err := ApplyWindow(recs, parsed.Cursor)
	if err != nil {
		a.fault(ctx, q, em, err, PolicyViolationText())
		return
	}

	a.metrics.incQuery(a.domain, "ok")
	a.emissions.Go(func() error {
		a.deliver(ctx, q, page, em)
		return nil
	})
}

// deliver decodes and emits page in order. Undecodable records are skipped.
func (a *Actor) deliver(ctx context.Context, q QueryRequest, page Page, em *Emission) {
	from := q.Owner.Bare()
	n := 0
	for _, rec := range page.Records {
		item, ok := Decode(rec, q.QueryID)
		if !ok {
			a.log.Debug("archive.decode.skip", "id", rec.ID)
			continue
		}
		if err := a.emitter.Emit(ctx, q.Requester, from, item); err != nil {
			a.metrics.addEmitted(a.domain, n)
			a.log.Warn("archive.emit.fail", "query_id", q.QueryID, "sent", n, "err", err)
			em.finish(n, "", err)
			return
		}
		n++
	}
	a.metrics.addEmitted(a.domain, n)
	em.finish(n, "", nil)
}

func (a *Actor) fault(ctx context.Context, q QueryRequest, em *Emission, cause error, detail string) {
	kind := FaultFor(cause)
	a.metrics.incQuery(a.domain, string(kind))

	a.emissions.Go(func() error {
		if err := a.emitter.EmitFault(ctx, q.Requester, q.Owner.Bare(), q.QueryID, kind, detail); err != nil {
			a.log.Warn("archive.emit_fault.fail", "query_id", q.QueryID, "fault", string(kind), "err", err)
		}
		em.finish(0, kind, cause)
		return nil
	})
}

// unavailableFind makes sure any find failure maps to the unavailable fault.
func unavailableFind(err error) error {
	if IsUnavailable(err) {
		return err
	}
	return unavailable("archive.Find", err)
}
