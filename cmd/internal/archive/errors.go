package archive

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to protocol faults).
var (
	ErrMalformedRequest = errors.New("malformed_request")
	ErrPolicyViolation  = errors.New("policy_violation")
	ErrStoreUnavailable = errors.New("store_unavailable")
	ErrUnknownArchive   = errors.New("unknown_archive")
	ErrClosed           = errors.New("archive_closed")
)

// OpError is a typed operation error with a stable Op + Kind contract.
//   - Kind is one of the sentinel kinds above.
//   - Err, when set, is the underlying cause (driver error, parse error).
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func malformed(msg string, err error) error {
	return OpError{Op: "archive.ParseQuery", Kind: ErrMalformedRequest, Msg: msg, Err: err}
}

func unavailable(op string, err error) error {
	return OpError{Op: op, Kind: ErrStoreUnavailable, Err: err}
}

// IsMalformed reports whether err represents ErrMalformedRequest.
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedRequest) }

// IsPolicyViolation reports whether err represents ErrPolicyViolation.
func IsPolicyViolation(err error) bool { return errors.Is(err, ErrPolicyViolation) }

// IsUnavailable reports whether err represents ErrStoreUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }

// FaultKind is the user-visible outcome reported in place of a result page.
type FaultKind string

const (
	FaultBadRequest         FaultKind = "bad_request"
	FaultServiceUnavailable FaultKind = "service_unavailable"
	FaultPolicyViolation    FaultKind = "policy_violation"
)

// FaultFor maps a query error to the fault reported to the requester.
func FaultFor(err error) FaultKind {
	switch {
	case IsMalformed(err):
		return FaultBadRequest
	case IsPolicyViolation(err):
		return FaultPolicyViolation
	default:
		return FaultServiceUnavailable
	}
}
