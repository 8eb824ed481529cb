package archive

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	msg := v1.Message{
		From:   "alice@example.com/phone",
		To:     "bob@example.org",
		Type:   v1.MessageChat,
		ID:     "m-1",
		Body:   "hello there",
		Thread: "t-9",
		Elements: []v1.Element{
			{Name: "active", NS: "http://jabber.org/protocol/chatstates"},
			{Name: "x", NS: "urn:example", Children: []v1.Element{{Name: "k", Text: "v"}}},
		},
	}
	now := time.Date(2014, 1, 2, 3, 4, 5, 600, time.UTC)

	rec, err := Encode(EncodeInput{
		Direction:   Outgoing,
		Owner:       identity.MustParseJID("alice@example.com/phone"),
		Counterpart: identity.MustParseJID("bob@example.org"),
		Body:        msg.Body,
		Message:     msg,
		Now:         now,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if rec.Owner != identity.MustParseJID("alice@example.com") {
		t.Fatalf("owner not bare: %+v", rec.Owner)
	}
	if !rec.Timestamp.Equal(now) {
		t.Fatalf("timestamp=%v want %v", rec.Timestamp, now)
	}
	rec.ID = "01HZXAAAAAAAAAAAAAAAAAAAAA"

	item, ok := Decode(rec, "q-1")
	if !ok {
		t.Fatalf("Decode: skipped")
	}
	if !reflect.DeepEqual(item.Forwarded.Message, msg) {
		t.Fatalf("payload mismatch:\n got=%+v\nwant=%+v", item.Forwarded.Message, msg)
	}
	if item.QueryID != "q-1" || item.ID != rec.ID {
		t.Fatalf("unexpected tags: %+v", item)
	}
	if !item.Forwarded.Delay.Stamp.Equal(now) || item.Forwarded.Delay.From != "alice@example.com" {
		t.Fatalf("unexpected delay: %+v", item.Forwarded.Delay)
	}
}

func TestEncode_StampsCurrentInstant(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	rec, err := Encode(EncodeInput{
		Direction: Incoming,
		Owner:     identity.MustParseJID("bob@example.org"),
		Message:   v1.Message{To: "bob@example.org", Body: "x"},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if rec.Timestamp.Before(before) || rec.Timestamp.After(time.Now().UTC()) {
		t.Fatalf("timestamp %v outside call window", rec.Timestamp)
	}
}

func TestDecode_SkipsUnparseable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "<message/>", "{not json", `["array"]`} {
		rec := ArchivedMessage{ID: "x", Owner: identity.MustParseJID("a@b"), Raw: []byte(raw)}
		if _, ok := Decode(rec, ""); ok {
			t.Fatalf("Decode(%q): expected skip", raw)
		}
	}
}

func TestEncodeDecode_WireEquality(t *testing.T) {
	t.Parallel()

	msg := v1.Message{
		To:       "bob@example.org",
		Type:     v1.MessageChat,
		Body:     "hi",
		Elements: []v1.Element{{Name: "x", NS: "urn:example", Children: []v1.Element{}}},
	}
	empty := v1.Message{To: "bob@example.org", Body: "hi", Elements: []v1.Element{}}

	for _, in := range []v1.Message{msg, empty} {
		rec, err := Encode(EncodeInput{
			Direction:   Outgoing,
			Owner:       identity.MustParseJID("alice@example.com"),
			Counterpart: identity.MustParseJID("bob@example.org"),
			Body:        in.Body,
			Message:     in,
		})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		item, ok := Decode(rec, "")
		if !ok {
			t.Fatalf("Decode: skipped")
		}

		want, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal want: %v", err)
		}
		got, err := json.Marshal(item.Forwarded.Message)
		if err != nil {
			t.Fatalf("marshal got: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("wire mismatch:\n got=%s\nwant=%s", got, want)
		}
	}
}

func TestDirection_PersistedForm(t *testing.T) {
	t.Parallel()

	for d, want := range map[Direction]string{Outgoing: "out", Incoming: "in", Direction(7): "unknown"} {
		if got := d.String(); got != want {
			t.Fatalf("Direction(%d).String()=%q want %q", d, got, want)
		}
	}
}
