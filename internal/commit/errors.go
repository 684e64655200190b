package commit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCommitFailed is wrapped by every *Error.
var ErrCommitFailed = errors.New("commit failed")

// errTooManyPasses ends a batch whose failing set keeps changing.
var errTooManyPasses = errors.New("retry passes exhausted")

// StatementError is the failure of one statement in one pass. It does not
// end the commit by itself.
type StatementError struct {
	// Index is the position of the statement in the batch.
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.Index+1, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Error is the terminal failure of a batch. Failures holds the statement
// errors of the last pass; Affected the rows changed by earlier successes
// before the transaction was rolled back.
type Error struct {
	Failures []*StatementError
	Affected int64
	Passes   int
	cause    error
}

// Error joins the failure messages with newlines.
func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Failures)+1)
	if e.cause != nil {
		msgs = append(msgs, e.cause.Error())
	}
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return strings.Join(msgs, "\n")
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+2)
	errs = append(errs, ErrCommitFailed)
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
