package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mam/cmd/identity"
	"mam/cmd/identity/ids"
)

// Integration tests are enabled when ARC_DATABASE_URL is set.

func TestPostgresStore_InsertFindPurge(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := "mam_it_" + strings.ToLower(ids.MustULID(time.Now()))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// Idempotent.
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema again: %v", err)
	}

	owner := "alice@example.com"
	mustInsert(t, st, mustEncode(t, owner, "bob@example.org/phone", Outgoing, "old", day(2013, 12, 31)))
	second := mustInsert(t, st, mustEncode(t, owner, "bob@example.org/laptop", Incoming, "jan", day(2014, 1, 2)))
	third := mustInsert(t, st, mustEncode(t, owner, "carol@example.net", Outgoing, "feb", day(2014, 2, 1)))
	mustInsert(t, st, mustEncode(t, "dave@example.com", "bob@example.org", Outgoing, "other owner", day(2014, 1, 5)))

	start := day(2014, 1, 1)
	recs, err := st.Find(ctx, FindInput{
		Owner:  identity.MustParseJID(owner),
		Filter: QueryFilter{Start: &start},
		Limit:  MaxPageSize + 1,
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != second || recs[1].ID != third {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if _, ok := Decode(recs[0], "q"); !ok {
		t.Fatalf("decode stored record failed")
	}
	if !recs[0].Timestamp.Equal(day(2014, 1, 2)) {
		t.Fatalf("ts=%v", recs[0].Timestamp)
	}

	bob := identity.MustParseJID("bob@example.org")
	recs, err = st.Find(ctx, FindInput{Owner: identity.MustParseJID(owner), Filter: QueryFilter{With: &bob}, Limit: 10})
	if err != nil || len(recs) != 2 {
		t.Fatalf("with bare: %d, %v", len(recs), err)
	}

	mustAssertStoredLayout(t, pool, schema, second)

	n, err := st.PurgeBefore(ctx, identity.MustParseJID(owner).Server, start)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func TestPostgresStore_UnavailableAfterPoolClose(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	st, err := NewPostgresStore(pool, WithOwnedPool())
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	_ = st.Close()

	_, err = st.Find(context.Background(), FindInput{Owner: identity.MustParseJID("a@example.com"), Limit: 1})
	if !IsUnavailable(err) {
		t.Fatalf("err=%v want unavailable", err)
	}
}

func mustAssertStoredLayout(t *testing.T, pool *pgxpool.Pool, schema, id string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var user, server, jidUser, jidServer, jidResource, body, direction string
	err := pool.QueryRow(ctx, `
SELECT "user", server, jid->>'user', jid->>'server', COALESCE(jid->>'resource', ''), body, direction
  FROM `+pgIdent(schema, CollectionMessages)+`
 WHERE id = $1`, id).Scan(&user, &server, &jidUser, &jidServer, &jidResource, &body, &direction)
	if err != nil {
		t.Fatalf("read stored row: %v", err)
	}
	if user != "alice" || server != "example.com" || jidUser != "bob" || jidServer != "example.org" ||
		jidResource != "laptop" || body != "jan" || direction != "in" {
		t.Fatalf("unexpected layout: %s %s %s %s %s %s %s", user, server, jidUser, jidServer, jidResource, body, direction)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("ARC_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: ARC_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse ARC_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
