package intent

import "fmt"

// ClassificationError means no intent could be determined with confidence.
// The router turns it into an out_of_scope decision.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification failed: %s: %v", e.Reason, e.Err)
	}
	return "classification failed: " + e.Reason
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
