package coordinator

import (
	"errors"
	"fmt"

	"partylog/internal/domain"
)

var (
	// ErrStaleSession is returned for operations issued against a coordinator
	// whose session has ended or by a caller holding a different session.
	ErrStaleSession = errors.New("session is no longer active")

	ErrUnknownEntityType = domain.ErrUnknownEntityType
	ErrInvalidName       = domain.ErrInvalidName
)

// TransactionError reports a remote subscription list update that did not
// commit. The local intent is kept; the caller decides whether to retry.
type TransactionError struct {
	Entity domain.EntityType
	Op     Op
	Name   string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s on %s subscriptions did not commit: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s %q on %s subscriptions did not commit: %v", e.Op, e.Name, e.Entity, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
