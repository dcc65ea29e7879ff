package capture

import (
	"fmt"
	"strings"
)

// ExpansionError reports that collapsed sections survived every expansion
// attempt, or that the page could not be inspected at all.
type ExpansionError struct {
	Hidden   int
	Attempts int
	Err      error
}

func (e *ExpansionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("expansion failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("%d sections still hidden after %d expansion attempt(s)", e.Hidden, e.Attempts)
}

func (e *ExpansionError) Unwrap() error { return e.Err }

// ValidationError reports a page or screenshot that did not pass validation.
type ValidationError struct {
	Hidden  int
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return "page validation failed"
	}
	return "page validation failed: " + strings.Join(e.Reasons, "; ")
}
