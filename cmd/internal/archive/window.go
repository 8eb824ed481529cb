package archive

import "fmt"

// Page is a bounded, ordered window of archive records.
type Page struct {
	Records []ArchivedMessage
	Limit   Limit
}

// FetchCount is the number of records to request from the store for c:
// the explicit max, or one past MaxPageSize so an oversized result can be detected.
func FetchCount(c PagingCursor) int {
	l := EffectiveLimit(c)
	if l.Explicit {
		return l.N
	}
	return l.N + 1
}

// ApplyWindow bounds records (in store order) by the effective limit of c.
// Without an explicit max, more than MaxPageSize records is a policy violation
// rather than a truncated page.
func ApplyWindow(records []ArchivedMessage, c PagingCursor) (Page, error) {
	l := EffectiveLimit(c)

	if l.Explicit {
		if len(records) > l.N {
			records = records[:l.N]
		}
		return Page{Records: records, Limit: l}, nil
	}

	if len(records) > l.N {
		return Page{}, OpError{
			Op:   "archive.ApplyWindow",
			Kind: ErrPolicyViolation,
			Msg:  PolicyViolationText(),
		}
	}
	return Page{Records: records, Limit: l}, nil
}

// PolicyViolationText is the human-readable reason sent with a policy fault.
func PolicyViolationText() string {
	return fmt.Sprintf("query matches more than %d messages; narrow the time range or set an explicit max of at most %d", MaxPageSize, MaxPageSize)
}
