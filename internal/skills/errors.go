package skills

import "fmt"

// CorpusLoadError reports a failed corpus refresh. The previous snapshot
// stays in service when this is returned.
type CorpusLoadError struct {
	Source string
	Err    error
}

func (e *CorpusLoadError) Error() string {
	return fmt.Sprintf("load skill corpus %s: %v", e.Source, e.Err)
}

func (e *CorpusLoadError) Unwrap() error {
	return e.Err
}
