package pipeline

import (
	"errors"
	"fmt"
)

// ErrMalformedCaps is returned when a capability filter string cannot be
// parsed. It is a programming error: retrying the build will not help.
var ErrMalformedCaps = errors.New("pipeline: malformed caps")

// BuildError reports which stage of the graph could not be built.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("pipeline: build failed at %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Fatal reports whether retrying the build cannot succeed.
func (e *BuildError) Fatal() bool {
	return errors.Is(e.Err, ErrMalformedCaps)
}

func buildErr(stage string, err error) error {
	return &BuildError{Stage: stage, Err: err}
}
