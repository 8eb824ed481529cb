package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const dbConnectTimeout = 3 * time.Second

// NewDBPool builds a pgxpool sized by the archive config and validates connectivity.
// It does NOT create the schema; that is the migrate command's job.
func NewDBPool(ctx context.Context, cfg ArchiveConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// NewMongoClient connects a client whose pool holds at most DBMaxConns
// connections and validates connectivity against the primary.
func NewMongoClient(ctx context.Context, cfg ArchiveConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.DBMaxConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxConns))
	}
	if cfg.DBMinConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMinConns))
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := client.Ping(pctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
