package archive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mam/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
//   - By default PostgresStore does NOT own the pgx pool and Close is a no-op.
//   - WithOwnedPool hands the pool to the store; Close then closes it.
//
// Write model:
//   - Inserts commit with synchronous_commit=off: the write returns once the
//     row is in the WAL buffer, trading the last few commits on crash for
//     latency. Archiving is best-effort.
type PostgresStore struct {
	pool      *pgxpool.Pool
	schema    string
	ownsPool  bool
	syncWrite bool
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "mam").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("archive: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("archive: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithOwnedPool makes Close close the pool.
func WithOwnedPool() PostgresOption {
	return func(s *PostgresStore) error {
		s.ownsPool = true
		return nil
	}
}

// WithSynchronousWrites keeps the server's synchronous_commit setting for inserts.
func WithSynchronousWrites() PostgresOption {
	return func(s *PostgresStore) error {
		s.syncWrite = true
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "mam",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("archive: nil pool")
	}
	return st, nil
}

// Close closes the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("archive.PostgresStore.Ping", err)
	}
	return nil
}

// EnsureSchema creates the schema, table and indexes if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

// Insert writes rec under a new ULID.
func (s *PostgresStore) Insert(ctx context.Context, rec ArchivedMessage) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("archive: nil store")
	}
	if rec.Owner.IsZero() {
		return "", errors.New("archive: missing owner")
	}

	id, err := ids.NewULID(rec.Timestamp)
	if err != nil {
		return "", err
	}
	jid, err := marshalJIDDoc(rec.Counterpart)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return "", unavailable("archive.PostgresStore.Insert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !s.syncWrite {
		if _, err := tx.Exec(ctx, `SET LOCAL synchronous_commit TO OFF`); err != nil {
			return "", unavailable("archive.PostgresStore.Insert", err)
		}
	}

	owner := rec.Owner.Bare()
	if _, err := tx.Exec(ctx, postgresInsertSQL(s.schema),
		id, owner.User, owner.Server, string(jid), rec.Body, rec.Direction.String(), rec.Timestamp.UTC(), rec.Raw,
	); err != nil {
		return "", unavailable("archive.PostgresStore.Insert", fmt.Errorf("insert message: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return "", unavailable("archive.PostgresStore.Insert", err)
	}
	return id, nil
}

// Find returns matching records ordered by id ASC.
// Only id, raw and ts are read back.
func (s *PostgresStore) Find(ctx context.Context, in FindInput) ([]ArchivedMessage, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("archive: nil store")
	}
	if in.Limit <= 0 {
		return nil, nil
	}

	query, args := buildPostgresFind(s.schema, in)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("archive.PostgresStore.Find", err)
	}
	defer rows.Close()

	owner := in.Owner.Bare()
	out := make([]ArchivedMessage, 0, min(in.Limit, MaxPageSize+1))
	for rows.Next() {
		m := ArchivedMessage{Owner: owner}
		if err := rows.Scan(&m.ID, &m.Raw, &m.Timestamp); err != nil {
			return nil, unavailable("archive.PostgresStore.Find", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("archive.PostgresStore.Find", err)
	}
	return out, nil
}

// PurgeBefore deletes records of server's owners archived before cutoff.
func (s *PostgresStore) PurgeBefore(ctx context.Context, server string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, CollectionMessages)+` WHERE server = $1 AND ts < $2`,
		server, cutoff.UTC(),
	)
	if err != nil {
		return 0, unavailable("archive.PostgresStore.PurgeBefore", err)
	}
	return tag.RowsAffected(), nil
}

func buildPostgresFind(schema string, in FindInput) (string, []any) {
	owner := in.Owner.Bare()
	args := []any{owner.User, owner.Server}
	where := []string{`"user" = $1`, `server = $2`}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	f := in.Filter
	if f.Start != nil {
		where = append(where, "ts >= "+arg(f.Start.UTC()))
	}
	if f.End != nil {
		where = append(where, "ts <= "+arg(f.End.UTC()))
	}
	if f.With != nil {
		where = append(where,
			"jid->>'user' = "+arg(f.With.User),
			"jid->>'server' = "+arg(f.With.Server),
		)
		if !f.With.IsBare() {
			where = append(where, "jid->>'resource' = "+arg(f.With.Resource))
		}
	}

	query := `SELECT id, raw, ts
	   FROM ` + pgIdent(schema, CollectionMessages) + `
	  WHERE ` + strings.Join(where, " AND ") + `
	  ORDER BY id ASC
	  LIMIT ` + arg(in.Limit)
	return query, args
}

func postgresSchemaSQL(schema string) string {
	messages := pgIdent(schema, CollectionMessages)
	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id        TEXT PRIMARY KEY,
  "user"    TEXT NOT NULL,
  server    TEXT NOT NULL,
  jid       JSONB NOT NULL,
  body      TEXT NOT NULL,
  direction TEXT NOT NULL CHECK (direction IN ('out', 'in')),
  ts        TIMESTAMPTZ NOT NULL,
  raw       BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_owner_id
  ON %s ("user", server, id);

CREATE INDEX IF NOT EXISTS idx_messages_owner_ts
  ON %s ("user", server, ts);

CREATE INDEX IF NOT EXISTS idx_messages_ts
  ON %s (ts);
`, pgx.Identifier{schema}.Sanitize(), messages, messages, messages, messages)
}

// postgresInsertSQL lists the columns in the persisted layout order.
func postgresInsertSQL(schema string) string {
	cols := []string{"id", fieldUser, fieldServer, fieldJID, fieldBody, fieldDirection, fieldTS, fieldRaw}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return `INSERT INTO ` + pgIdent(schema, CollectionMessages) + ` (` + strings.Join(quoted, ", ") +
		`) VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)`
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
