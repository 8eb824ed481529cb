package app

import (
	"context"
	"errors"
	"fmt"

	"mam/cmd/identity"
	"mam/cmd/internal/archive"
)

// storeSet holds the store of every configured domain.
// With a shared pool several domains map to the same store.
type storeSet struct {
	byDomain map[string]archive.Store
	owned    []archive.Store
}

// openStores opens one store per domain, or one shared store when
// cfg.SharedPool is set. Each store owns its pool or client.
func openStores(ctx context.Context, cfg ArchiveConfig, log Logger) (*storeSet, error) {
	set := &storeSet{byDomain: make(map[string]archive.Store, len(cfg.Domains))}

	var shared archive.Store
	for _, raw := range cfg.Domains {
		domain := identity.NormalizeServer(raw)
		if domain == "" {
			continue
		}
		if _, dup := set.byDomain[domain]; dup {
			continue
		}

		if cfg.SharedPool && shared != nil {
			set.byDomain[domain] = shared
			continue
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("open %s store for %s: %w", cfg.Backend, domain, err)
		}
		set.owned = append(set.owned, st)
		set.byDomain[domain] = st
		if cfg.SharedPool {
			shared = st
		}
		log.Info("archive.store.open", "domain", domain, "backend", cfg.Backend, "shared", cfg.SharedPool)
	}

	if len(set.byDomain) == 0 {
		return nil, errors.New("app: no valid archive domains")
	}
	return set, nil
}

func openStore(ctx context.Context, cfg ArchiveConfig) (archive.Store, error) {
	switch cfg.Backend {
	case BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts := []archive.PostgresOption{archive.WithSchema(cfg.PostgresSchema), archive.WithOwnedPool()}
		if cfg.SyncWrites {
			opts = append(opts, archive.WithSynchronousWrites())
		}
		st, err := archive.NewPostgresStore(pool, opts...)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	case BackendMongo:
		client, err := NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		st, err := archive.NewMongoStore(client, cfg.MongoDatabase, archive.WithOwnedClient())
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return st, nil
	default:
		return archive.NewInMemoryStore(), nil
	}
}

// Migrate prepares every distinct store: tables and indexes for Postgres,
// indexes for Mongo. The in-memory store needs nothing.
func (s *storeSet) Migrate(ctx context.Context) error {
	var errs []error
	for _, st := range s.owned {
		switch st := st.(type) {
		case *archive.PostgresStore:
			errs = append(errs, st.EnsureSchema(ctx))
		case *archive.MongoStore:
			errs = append(errs, st.EnsureIndexes(ctx))
		}
	}
	return errors.Join(errs...)
}

// Stores returns the domain to store mapping.
func (s *storeSet) Stores() map[string]archive.Store {
	return s.byDomain
}

// Close closes every distinct store once.
func (s *storeSet) Close() error {
	var errs []error
	for _, st := range s.owned {
		errs = append(errs, st.Close())
	}
	s.owned = nil
	return errors.Join(errs...)
}
