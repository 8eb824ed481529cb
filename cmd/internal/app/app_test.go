package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"mam/cmd/identity"
	"mam/cmd/internal/archive"
	v1 "mam/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustNewApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Archive.Domains = []string{"Example.COM", "example.com", "example.org"}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func mustGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp.StatusCode, string(b)
}

func TestNew_StartsOneActorPerDomain(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, nil)
	if got, want := a.svc.Domains(), []string{"example.com", "example.org"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("domains=%v want=%v", got, want)
	}

	stores := a.svc.Stores()
	if stores["example.com"] == stores["example.org"] {
		t.Fatalf("domains should not share a store without a shared pool")
	}
}

func TestNew_SharedPoolSharesStore(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, func(c *Config) { c.Archive.SharedPool = true })
	stores := a.svc.Stores()
	if stores["example.com"] != stores["example.org"] {
		t.Fatalf("shared pool should map every domain to one store")
	}
	if len(a.stores.owned) != 1 {
		t.Fatalf("owned stores=%d want 1", len(a.stores.owned))
	}
}

func TestNew_RejectsBadOptOut(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Archive.OptOut = []string{"@"}
	if _, err := New(context.Background(), cfg, testLogger()); err == nil {
		t.Fatalf("expected error for invalid opt-out JID")
	}
}

func TestNew_RejectsBadRetentionCron(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Archive.RetentionCron = "every tuesday"
	if _, err := New(context.Background(), cfg, testLogger()); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}

func TestHandler_HealthEndpoints(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	if code, body := mustGet(t, srv.URL+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	if code, body := mustGet(t, srv.URL+"/readyz"); code != http.StatusOK || body != "ready\n" {
		t.Fatalf("readyz=%d %q", code, body)
	}
	if code, body := mustGet(t, srv.URL+"/metrics"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Fatalf("metrics=%d missing runtime collectors", code)
	}
}

func TestApp_ArchivesAndPurges(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	alice := identity.MustParseJID("alice@example.com/phone")
	bob := identity.MustParseJID("bob@example.net")
	ok := a.svc.HandleIncoming(archive.Event{
		Direction:   archive.Outgoing,
		Owner:       alice,
		Counterpart: bob,
		Kind:        archive.StanzaMessage,
		Message:     v1.Message{From: alice.String(), To: bob.String(), Type: v1.MessageChat, Body: "hi"},
	})
	if !ok {
		t.Fatalf("event was not accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := mustGet(t, srv.URL+"/metrics")
		if strings.Contains(body, `mam_messages_archived_total{direction="out",domain="example.com"} 1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("archived counter never reached 1:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}

	n, err := a.Purge(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged=%d want 1", n)
	}
}

func TestApp_MigrateMemoryIsNoop(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, nil)
	if err := a.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a := mustNewApp(t, nil)
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
