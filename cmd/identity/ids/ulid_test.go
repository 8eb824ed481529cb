package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsInIssueOrder(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	prev := ""
	for i := 0; i < 1000; i++ {
		// Same millisecond for every call, then a clock step backwards.
		ts := now
		if i == 500 {
			ts = now.Add(-time.Hour)
		}
		id, err := NewULID(ts)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("len(id)=%d want=26", len(id))
		}
		if prev != "" && id <= prev {
			t.Fatalf("id %q does not sort after %q", id, prev)
		}
		prev = id
	}
}
