package identity

import (
	"errors"
	"fmt"
)

// ErrInvalidJID is the sentinel kind of every address parse failure.
var ErrInvalidJID = errors.New("invalid_jid")

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg names the offending part of the address.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func invalidJID(msg string) error {
	return OpError{Op: "identity.ParseJID", Kind: ErrInvalidJID, Msg: msg}
}

// IsInvalidJID reports whether err is an address parse failure.
func IsInvalidJID(err error) bool { return errors.Is(err, ErrInvalidJID) }
