package archive

import (
	"strconv"
	"strings"
	"time"

	"mam/cmd/identity"
	v1 "mam/contracts/realtime/v1"
)

// MaxPageSize is the enforced maximum number of items in one result page.
const MaxPageSize = 50

// QueryFilter narrows an archive query. Bounds are inclusive; nil means open.
// Start <= End is not enforced here: an inverted range simply matches nothing.
type QueryFilter struct {
	Start *time.Time
	End   *time.Time
	// With restricts results to one counterpart. A bare JID matches every
	// resource of that counterpart.
	With *identity.JID
}

// PagingCursor holds the paging directives of a query.
//
// After, Before and Index are parsed and validated but not applied to the
// store query: every query starts from the beginning of the filtered archive.
// True cursor-based paging is a known gap.
type PagingCursor struct {
	Max    *int
	After  *string
	Before *string
	Index  *string
}

// Limit is the effective page limit of a query.
type Limit struct {
	// Explicit is true when the caller's max was honored.
	Explicit bool
	N        int
}

// EffectiveLimit returns (explicit, max) for an in-range max and (default, MaxPageSize) otherwise.
func EffectiveLimit(c PagingCursor) Limit {
	if c.Max != nil && *c.Max <= MaxPageSize {
		return Limit{Explicit: true, N: *c.Max}
	}
	return Limit{Explicit: false, N: MaxPageSize}
}

// Query is a parsed archive query.
type Query struct {
	Filter QueryFilter
	Cursor PagingCursor
}

// ParseQuery folds constraint elements, left to right, into a filter and a
// paging cursor. The first malformed element fails the whole request.
// Unrecognized elements are ignored.
func ParseQuery(elems []v1.Element) (Query, error) {
	var q Query
	for _, el := range elems {
		if err := q.apply(el); err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

func (q *Query) apply(el v1.Element) error {
	if el.Name == "set" {
		if el.NS != v1.NSPaging {
			return malformed("paging set requires xmlns "+v1.NSPaging, nil)
		}
		for _, c := range el.Children {
			if err := q.Cursor.apply(c); err != nil {
				return err
			}
		}
		return nil
	}

	if el.NS != "" && el.NS != v1.NSArchive {
		return nil
	}

	switch el.Name {
	case "start":
		return setStamp(&q.Filter.Start, "start", el.Text)
	case "end":
		return setStamp(&q.Filter.End, "end", el.Text)
	case "with":
		if q.Filter.With != nil {
			return malformed("duplicate with", nil)
		}
		j, err := identity.ParseJID(el.Text)
		if err != nil {
			return malformed("invalid with", err)
		}
		q.Filter.With = &j
	}
	return nil
}

func (c *PagingCursor) apply(el v1.Element) error {
	switch el.Name {
	case "max":
		if c.Max != nil {
			return malformed("duplicate max", nil)
		}
		n, err := strconv.Atoi(strings.TrimSpace(el.Text))
		if err != nil {
			return malformed("invalid max", err)
		}
		if n < 0 {
			return malformed("negative max", nil)
		}
		c.Max = &n
	case "after":
		return setOpaque(&c.After, "after", el.Text)
	case "before":
		return setOpaque(&c.Before, "before", el.Text)
	case "index":
		return setOpaque(&c.Index, "index", el.Text)
	}
	return nil
}

func setStamp(dst **time.Time, name, text string) error {
	if *dst != nil {
		return malformed("duplicate "+name, nil)
	}
	ts, err := ParseStamp(text)
	if err != nil {
		return malformed("invalid "+name, err)
	}
	*dst = &ts
	return nil
}

func setOpaque(dst **string, name, text string) error {
	if *dst != nil {
		return malformed("duplicate "+name, nil)
	}
	v := strings.TrimSpace(text)
	if v == "" {
		return malformed("empty "+name, nil)
	}
	*dst = &v
	return nil
}

// ParseStamp parses an RFC 3339 timestamp (fractional seconds optional) into UTC.
func ParseStamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
