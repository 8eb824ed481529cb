package archive

import (
	"strings"
	"testing"
	"time"

	"mam/cmd/identity"
)

func TestBuildPostgresFind(t *testing.T) {
	t.Parallel()

	start := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	with := identity.MustParseJID("bob@example.org/phone")

	query, args := buildPostgresFind("mam", FindInput{
		Owner:  identity.MustParseJID("alice@example.com/desk"),
		Filter: QueryFilter{Start: &start, With: &with},
		Limit:  51,
	})

	for _, want := range []string{
		`FROM "mam"."messages"`,
		`"user" = $1`,
		`server = $2`,
		`ts >= $3`,
		`jid->>'user' = $4`,
		`jid->>'server' = $5`,
		`jid->>'resource' = $6`,
		`ORDER BY id ASC`,
		`LIMIT $7`,
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
	if strings.Contains(query, "ts <=") {
		t.Fatalf("unexpected upper bound:\n%s", query)
	}
	if !strings.HasPrefix(strings.TrimSpace(query), "SELECT id, raw, ts") {
		t.Fatalf("unexpected projection:\n%s", query)
	}

	want := []any{"alice", "example.com", start, "bob", "example.org", "phone", 51}
	if len(args) != len(want) {
		t.Fatalf("args=%v want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d=%v want %v", i, args[i], want[i])
		}
	}
}

func TestBuildPostgresFind_BareWith(t *testing.T) {
	t.Parallel()

	with := identity.MustParseJID("bob@example.org")
	query, args := buildPostgresFind("mam", FindInput{
		Owner:  identity.MustParseJID("alice@example.com"),
		Filter: QueryFilter{With: &with},
		Limit:  5,
	})
	if strings.Contains(query, "resource") {
		t.Fatalf("bare with must not constrain the resource:\n%s", query)
	}
	if len(args) != 5 {
		t.Fatalf("args=%v", args)
	}
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
	if isValidPGIdent(`mam"; DROP TABLE x; --`) {
		t.Fatalf("invalid identifier accepted")
	}
}

func TestPostgresInsertSQL_QuotesLayoutColumns(t *testing.T) {
	t.Parallel()

	got := postgresInsertSQL("mam")
	want := `INSERT INTO "mam"."messages" ("id", "user", "server", "jid", "body", "direction", "ts", "raw") VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)`
	if got != want {
		t.Fatalf("insert SQL:\n got=%s\nwant=%s", got, want)
	}
}
