package pump

import (
	"errors"
	"fmt"
)

// RunErrorCode categorizes a failed run.
type RunErrorCode string

const (
	// ErrCodeRetentionGap: the stored cursor is older than journal
	// retention. Events were lost; an operator must reset the cursor.
	ErrCodeRetentionGap RunErrorCode = "RETENTION_GAP"

	// ErrCodeBacklogTooLarge: the drain hit its page cap.
	ErrCodeBacklogTooLarge RunErrorCode = "BACKLOG_TOO_LARGE"

	// ErrCodeJournalFailed: any other journal read failure.
	ErrCodeJournalFailed RunErrorCode = "JOURNAL_FAILED"

	// ErrCodeCheckpointFailed: the stored cursor could not be read.
	ErrCodeCheckpointFailed RunErrorCode = "CHECKPOINT_FAILED"

	// ErrCodePublishFailed: a grouped notification was not delivered. The
	// cursor was not advanced.
	ErrCodePublishFailed RunErrorCode = "PUBLISH_FAILED"

	// ErrCodeCommitFailed: every group was published but the cursor write
	// failed. The next run redelivers the same window.
	ErrCodeCommitFailed RunErrorCode = "COMMIT_FAILED"
)

// RunError is the single "run failed" signal. Any error returned by
// Pipeline.Run is a *RunError.
type RunError struct {
	Code    RunErrorCode
	Message string

	// Since is the cursor the run started from.
	Since string

	// FormID identifies the group whose publish failed.
	FormID string

	Err error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.FormID != "" {
		msg += fmt.Sprintf(" (formId=%s)", e.FormID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRetentionGap reports whether err is a retention-gap run failure.
func IsRetentionGap(err error) bool {
	return hasCode(err, ErrCodeRetentionGap)
}

// IsBacklogTooLarge reports whether err is a page-cap run failure.
func IsBacklogTooLarge(err error) bool {
	return hasCode(err, ErrCodeBacklogTooLarge)
}

// IsPublishError reports whether err is a publish run failure.
func IsPublishError(err error) bool {
	return hasCode(err, ErrCodePublishFailed)
}
