package consume

import (
	"errors"
	"fmt"
)

// ErrFlushRetriesExhausted ends the loop after too many consecutive sink
// failures.
var ErrFlushRetriesExhausted = errors.New("consume: flush retries exhausted")

// PersistenceError wraps a failed sink write. The buffer still holds every
// record of the attempted batch and no sync commit was issued.
type PersistenceError struct {
	Records int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("consume: persist batch of %d: %v", e.Records, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CommitError wraps a failed sync commit issued after a successful flush.
// The records are durable; the broker may redeliver them after a restart.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return fmt.Sprintf("consume: sync commit: %v", e.Err) }

func (e *CommitError) Unwrap() error { return e.Err }
