package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrRetentionGap means the requested position has expired from the
	// journal. Events between the stored cursor and the retention start are
	// lost; retrying cannot help.
	ErrRetentionGap = errors.New("journal events have expired at the given position")

	// ErrBacklogTooLarge means Drain hit its page cap while the journal still
	// had events. Nothing read in that cycle should be committed.
	ErrBacklogTooLarge = errors.New("journal backlog exceeds page cap")
)

// StatusError is a non-2xx journal response other than 410.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("journal API error: %d %s", e.Code, e.Body)
}
