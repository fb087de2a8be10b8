package engine

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

// ErrNotConfigured is returned before any step runs when a pipeline needs a
// collaborator (text service or fetcher) that this engine was built without.
var ErrNotConfigured = errors.New("execution engine not configured")

// ErrSourceUnavailable wraps failures to retrieve url source content.
var ErrSourceUnavailable = errors.New("source content unavailable")

// StepError reports which step aborted a run.
type StepError struct {
	Index  int
	StepID string
	Kind   pipeline.Kind
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s %s): %v", e.Index, e.Kind, e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func notConfigured(what string) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, what)
}
