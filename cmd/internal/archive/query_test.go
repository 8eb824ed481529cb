package archive

import (
	"errors"
	"testing"
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

func el(name, text string) v1.Element { return v1.Element{Name: name, Text: text} }

func set(children ...v1.Element) v1.Element {
	return v1.Element{Name: "set", NS: v1.NSPaging, Children: children}
}

func TestParseQuery_Fields(t *testing.T) {
	t.Parallel()

	q, err := ParseQuery([]v1.Element{
		el("start", "2014-01-01T00:00:00Z"),
		el("end", "2014-02-01T12:30:00.5+01:00"),
		el("with", "Bob@Example.org"),
		set(el("max", "10"), el("after", "a1"), el("before", "b1"), el("index", "3")),
		el("unknown", "ignored"),
	})
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}

	wantStart := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2014, 2, 1, 11, 30, 0, 500_000_000, time.UTC)
	if q.Filter.Start == nil || !q.Filter.Start.Equal(wantStart) {
		t.Fatalf("start=%v", q.Filter.Start)
	}
	if q.Filter.End == nil || !q.Filter.End.Equal(wantEnd) || q.Filter.End.Location() != time.UTC {
		t.Fatalf("end=%v", q.Filter.End)
	}
	if q.Filter.With == nil || *q.Filter.With != identity.MustParseJID("bob@example.org") {
		t.Fatalf("with=%v", q.Filter.With)
	}
	if q.Cursor.Max == nil || *q.Cursor.Max != 10 {
		t.Fatalf("max=%v", q.Cursor.Max)
	}
	if *q.Cursor.After != "a1" || *q.Cursor.Before != "b1" || *q.Cursor.Index != "3" {
		t.Fatalf("cursor=%+v", q.Cursor)
	}
}

func TestParseQuery_Empty(t *testing.T) {
	t.Parallel()

	q, err := ParseQuery(nil)
	if err != nil {
		t.Fatalf("ParseQuery(nil): %v", err)
	}
	if q.Filter.Start != nil || q.Filter.End != nil || q.Filter.With != nil || q.Cursor.Max != nil {
		t.Fatalf("expected zero query, got %+v", q)
	}
}

func TestParseQuery_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		elems []v1.Element
	}{
		{"duplicate start", []v1.Element{el("start", "2014-01-01T00:00:00Z"), el("start", "2014-01-02T00:00:00Z")}},
		{"duplicate end", []v1.Element{el("end", "2014-01-01T00:00:00Z"), el("end", "2014-01-02T00:00:00Z")}},
		{"duplicate end around set", []v1.Element{el("end", "2014-01-01T00:00:00Z"), set(el("max", "1")), el("end", "2014-01-02T00:00:00Z")}},
		{"duplicate with", []v1.Element{el("with", "a@b"), el("with", "c@d")}},
		{"bad start", []v1.Element{el("start", "yesterday")}},
		{"bad end", []v1.Element{el("end", "2014-13-01T00:00:00Z")}},
		{"bad with", []v1.Element{el("with", "@nowhere")}},
		{"set without namespace", []v1.Element{{Name: "set", Children: []v1.Element{el("max", "1")}}}},
		{"set with wrong namespace", []v1.Element{{Name: "set", NS: "urn:wrong", Children: []v1.Element{el("max", "1")}}}},
		{"negative max", []v1.Element{set(el("max", "-1"))}},
		{"non-numeric max", []v1.Element{set(el("max", "ten"))}},
		{"duplicate max", []v1.Element{set(el("max", "1"), el("max", "2"))}},
		{"duplicate max across sets", []v1.Element{set(el("max", "1")), set(el("max", "2"))}},
		{"duplicate after", []v1.Element{set(el("after", "a"), el("after", "b"))}},
		{"duplicate before", []v1.Element{set(el("before", "a"), el("before", "b"))}},
		{"duplicate index", []v1.Element{set(el("index", "1"), el("index", "2"))}},
		{"empty after", []v1.Element{set(el("after", ""))}},
		{"empty before", []v1.Element{set(el("before", " "))}},
		{"empty index", []v1.Element{set(el("index", ""))}},
		{"error then valid", []v1.Element{el("start", "nope"), el("end", "2014-01-01T00:00:00Z")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseQuery(tc.elems)
			if err == nil {
				t.Fatalf("expected MalformedRequest")
			}
			if !IsMalformed(err) || FaultFor(err) != FaultBadRequest {
				t.Fatalf("err=%v want ErrMalformedRequest", err)
			}
			var oe OpError
			if !errors.As(err, &oe) || oe.Op != "archive.ParseQuery" {
				t.Fatalf("err=%v want OpError", err)
			}
		})
	}
}

func TestParseQuery_IgnoresForeignNamespace(t *testing.T) {
	t.Parallel()

	q, err := ParseQuery([]v1.Element{
		{Name: "start", NS: "urn:other", Text: "garbage"},
		{Name: "start", NS: v1.NSArchive, Text: "2014-01-01T00:00:00Z"},
	})
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if q.Filter.Start == nil {
		t.Fatalf("expected start from archive namespace")
	}
}

func TestEffectiveLimit(t *testing.T) {
	t.Parallel()

	ptr := func(n int) *int { return &n }

	cases := []struct {
		name string
		max  *int
		want Limit
	}{
		{"absent", nil, Limit{Explicit: false, N: 50}},
		{"zero", ptr(0), Limit{Explicit: true, N: 0}},
		{"ten", ptr(10), Limit{Explicit: true, N: 10}},
		{"cap", ptr(50), Limit{Explicit: true, N: 50}},
		{"over cap", ptr(51), Limit{Explicit: false, N: 50}},
		{"far over cap", ptr(10_000), Limit{Explicit: false, N: 50}},
	}

	for _, tc := range cases {
		got := EffectiveLimit(PagingCursor{Max: tc.max})
		if got != tc.want {
			t.Fatalf("%s: EffectiveLimit()=%+v want %+v", tc.name, got, tc.want)
		}
	}
}
