package journal

import (
	"context"
	"fmt"
)

// DefaultMaxPages bounds a single Drain when no cap is configured.
const DefaultMaxPages = 100

// DrainResult is everything read in one drain cycle.
type DrainResult struct {
	// Events is the concatenation of every page in page order.
	Events []Event
	// LastPosition is the position after the last non-empty page, or the
	// starting since when nothing was read.
	LastPosition string
	// Pages counts fetches that returned events.
	Pages int
}

// Drain reads every event published after since, following page positions
// until the journal returns an empty page.
//
// At most maxPages non-empty pages are accepted (DefaultMaxPages when
// maxPages <= 0). When the cap is reached one more page is requested; if
// that page still has events Drain fails with ErrBacklogTooLarge and the
// caller must not commit anything from this cycle.
func Drain(ctx context.Context, r Reader, since string, maxPages int) (DrainResult, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	res := DrainResult{LastPosition: since}
	cursor := since
	for {
		if err := ctx.Err(); err != nil {
			return DrainResult{}, err
		}

		page, err := r.FetchPage(ctx, Options{Since: cursor})
		if err != nil {
			return DrainResult{}, err
		}
		if page.IsEmpty() {
			return res, nil
		}
		if res.Pages == maxPages {
			return DrainResult{}, fmt.Errorf("%w: more than %d pages after %q; raise journal.maxPages (FORMSHEET_JOURNAL_MAX_PAGES) to drain it in one run", ErrBacklogTooLarge, maxPages, since)
		}

		next := page.NextPosition()
		if next == "" {
			return DrainResult{}, fmt.Errorf("journal page after %q has events but no position", cursor)
		}

		res.Events = append(res.Events, page.Events...)
		res.Pages++
		res.LastPosition = next
		cursor = next
	}
}
