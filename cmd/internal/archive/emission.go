package archive

import (
	"context"
	"sync"
)

// Emission tracks the detached delivery of one query's output.
//
// Accessors other than Done and Wait return zero values until Done is closed.
type Emission struct {
	QueryID string

	done chan struct{}
	once sync.Once

	count int
	fault FaultKind
	err   error
}

func newEmission(queryID string) *Emission {
	return &Emission{QueryID: queryID, done: make(chan struct{})}
}

func (e *Emission) finish(count int, fault FaultKind, err error) {
	e.once.Do(func() {
		e.count = count
		e.fault = fault
		e.err = err
		close(e.done)
	})
}

// Done is closed once every item (or the fault) has been handed to the emitter.
func (e *Emission) Done() <-chan struct{} { return e.done }

// Wait blocks until the emission finishes or ctx is done.
// It returns the emission error, or ctx.Err() on cancellation.
func (e *Emission) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is the query failure (for faults) or the emitter error that cut delivery short.
func (e *Emission) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Fault is the fault reported to the requester, or "" when the page was emitted.
func (e *Emission) Fault() FaultKind {
	select {
	case <-e.done:
		return e.fault
	default:
		return ""
	}
}

// Count is the number of result items delivered.
func (e *Emission) Count() int {
	select {
	case <-e.done:
		return e.count
	default:
		return 0
	}
}

// Completed reports whether the page was fully delivered without a fault.
// The protocol layer sends its terminator only in that case.
func (e *Emission) Completed() bool {
	select {
	case <-e.done:
		return e.fault == "" && e.err == nil
	default:
		return false
	}
}
