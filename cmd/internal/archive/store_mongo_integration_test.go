package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"mam/cmd/identity"
	"mam/cmd/identity/ids"
)

// Integration tests are enabled when ARC_MONGO_URI is set.

func TestMongoStore_InsertFindPurge(t *testing.T) {
	t.Parallel()

	client := mustOpenTestMongo(t)
	db := "mam_it_" + strings.ToLower(ids.MustULID(time.Now()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Database(db).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	st, err := NewMongoStore(client, db)
	if err != nil {
		t.Fatalf("new mongo store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := st.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}

	owner := identity.MustParseJID("alice@example.com")
	mustInsert(t, st, mustEncode(t, owner.String(), "bob@example.org/phone", Outgoing, "old", day(2013, 12, 31)))
	second := mustInsert(t, st, mustEncode(t, owner.String(), "bob@example.org/laptop", Incoming, "jan", day(2014, 1, 2)))
	third := mustInsert(t, st, mustEncode(t, owner.String(), "carol@example.net", Outgoing, "feb", day(2014, 2, 1)))

	// Inserts are unacknowledged; wait until they are visible.
	mustEventuallyCount(t, st, owner, 3)

	start := day(2014, 1, 1)
	recs, err := st.Find(ctx, FindInput{Owner: owner, Filter: QueryFilter{Start: &start}, Limit: MaxPageSize + 1})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != second || recs[1].ID != third {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if _, ok := Decode(recs[0], "q"); !ok {
		t.Fatalf("decode stored record failed")
	}

	full := identity.MustParseJID("bob@example.org/laptop")
	recs, err = st.Find(ctx, FindInput{Owner: owner, Filter: QueryFilter{With: &full}, Limit: 10})
	if err != nil || len(recs) != 1 || recs[0].ID != second {
		t.Fatalf("with full: %+v, %v", recs, err)
	}

	var doc bson.M
	oid, err := bson.ObjectIDFromHex(second)
	if err != nil {
		t.Fatalf("object id: %v", err)
	}
	if err := client.Database(db).Collection(CollectionMessages).FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		t.Fatalf("read stored document: %v", err)
	}
	for _, field := range []string{"user", "server", "jid", "body", "direction", "ts", "raw"} {
		if _, ok := doc[field]; !ok {
			t.Fatalf("stored document missing %q: %v", field, doc)
		}
	}
	if doc["user"] != "alice" || doc["server"] != "example.com" || doc["direction"] != "in" {
		t.Fatalf("unexpected document: %v", doc)
	}

	n, err := st.PurgeBefore(ctx, "example.com", start)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}

func mustEventuallyCount(t *testing.T, st Store, owner identity.JID, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		recs, err := st.Find(context.Background(), FindInput{Owner: owner, Limit: want + 1})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(recs) == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d records want %d", len(recs), want)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func mustOpenTestMongo(t *testing.T) *mongo.Client {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("ARC_MONGO_URI"))
	if uri == "" {
		t.Skip("integration test skipped: ARC_MONGO_URI is not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetMaxPoolSize(10))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("ping mongo: %v", err)
	}
	return client
}
