package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultRetentionCron runs sweeps daily at 02:00 UTC.
const DefaultRetentionCron = "0 2 * * *"

// SweeperConfig configures retention sweeps.
type SweeperConfig struct {
	Cron   string
	MaxAge time.Duration
	// Stores returns the stores to sweep, keyed by domain.
	Stores  func() map[string]Store
	Log     *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Sweeper deletes records older than MaxAge on a cron schedule.
// A zero MaxAge disables it.
type Sweeper struct {
	cron    string
	maxAge  time.Duration
	stores  func() map[string]Store
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewSweeper validates cfg and constructs a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultRetentionCron
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("archive: invalid retention cron expression: %q", cfg.Cron)
	}
	if cfg.MaxAge < 0 {
		return nil, errors.New("archive: negative retention max age")
	}
	if cfg.Stores == nil {
		return nil, errors.New("archive: nil store source")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		cron:    cfg.Cron,
		maxAge:  cfg.MaxAge,
		stores:  cfg.Stores,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

// Enabled reports whether sweeps delete anything.
func (s *Sweeper) Enabled() bool { return s != nil && s.maxAge > 0 }

// Next returns the first tick strictly after t.
func (s *Sweeper) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t, false)
}

// Run sweeps on every tick until ctx is done. It returns immediately when disabled.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		s.log.Info("retention.disabled")
		return nil
	}
	s.log.Info("retention.start", "cron", s.cron, "max_age", s.maxAge.String())

	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.log.Error("retention.next_tick.fail", "cron", s.cron, "err", err)
			next = s.now().Add(time.Minute)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("retention.stop")
			return nil
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("retention.sweep.fail", "err", err)
		}
	}
}

// Sweep purges records older than MaxAge from every served domain once.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	return PurgeAll(ctx, s.stores(), s.now().Add(-s.maxAge), s.log, s.metrics)
}

// PurgeAll deletes records archived before cutoff for every served domain.
// Each purge is scoped to its domain, so stores shared between domains
// report deletions under the domain that owned them.
func PurgeAll(ctx context.Context, stores map[string]Store, cutoff time.Time, log *slog.Logger, m *Metrics) (int64, error) {
	if log == nil {
		log = slog.Default()
	}

	domains := make([]string, 0, len(stores))
	for d := range stores {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var (
		total int64
		errs  []error
	)
	for _, domain := range domains {
		n, err := stores[domain].PurgeBefore(ctx, domain, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain, err))
			continue
		}
		m.addPurged(domain, n)
		total += n
		log.Info("retention.purge", "domain", domain, "cutoff", cutoff.Format(time.RFC3339), "deleted", n)
	}
	return total, errors.Join(errs...)
}
