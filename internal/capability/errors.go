package capability

import (
	"errors"
	"fmt"
)

// ErrSkipped is returned instead of calling a provider whose capability is
// switched off by a feature flag. It is a downgrade, not a failure.
var ErrSkipped = errors.New("capability skipped: disabled by feature flag")

// Error reports a provider call that failed after its retry budget.
type Error struct {
	Capability Name
	Provider   string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s capability (%s) failed after %d attempt(s): %v", e.Capability, e.Provider, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
