package processor

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/roach88/formsheet/internal/events"
)

// Handler processes one notification.
type Handler interface {
	Process(ctx context.Context, n events.Grouped) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, n events.Grouped) (Outcome, error)

func (f HandlerFunc) Process(ctx context.Context, n events.Grouped) (Outcome, error) {
	return f(ctx, n)
}

// Result is the outcome of one queued notification.
type Result struct {
	Outcome Outcome
	Err     error
}

// Worker serialises notifications through a single-writer FIFO queue, so
// within one process no two merges touch a sheet at the same time.
//
// Enqueue may be called from any goroutine. Run must be called from exactly
// one.
type Worker struct {
	handler Handler
	queue   *queue
	logger  zerolog.Logger
	done    func(events.Grouped, Outcome, error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// WithDone registers a callback invoked from the Run goroutine after each
// notification.
func WithDone(fn func(events.Grouped, Outcome, error)) WorkerOption {
	return func(w *Worker) { w.done = fn }
}

// NewWorker returns a worker feeding h.
func NewWorker(h Handler, opts ...WorkerOption) *Worker {
	w := &Worker{handler: h, queue: newQueue(), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue schedules n and returns the channel its Result is delivered on,
// exactly once. ok is false after Stop.
func (w *Worker) Enqueue(n events.Grouped) (result <-chan Result, ok bool) {
	j := job{n: n, result: make(chan Result, 1)}
	if !w.queue.Enqueue(j) {
		return nil, false
	}
	return j.result, true
}

// Pending returns the number of queued notifications.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

// Stop closes the queue. Run processes what is already queued and returns.
func (w *Worker) Stop() {
	w.queue.Close()
}

// Run processes notifications until ctx is cancelled or the worker is
// stopped and drained. A failed notification is logged and its error is
// delivered to the caller, which must report it so the notification is
// redelivered. Jobs still queued when ctx ends fail with ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("processor worker starting")
	for {
		if ctx.Err() != nil {
			return w.cancelled(ctx)
		}
		if j, ok := w.queue.TryDequeue(); ok {
			out, err := w.handler.Process(ctx, j.n)
			if err != nil {
				w.logger.Error().Err(err).Str("formId", j.n.FormID).Int("count", len(j.n.Submissions)).Msg("failed to process notification")
			}
			j.result <- Result{Outcome: out, Err: err}
			if w.done != nil {
				w.done(j.n, out, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return w.cancelled(ctx)
		case <-w.queue.Wait():
			if w.queue.drained() {
				w.logger.Info().Msg("processor worker stopping: queue closed")
				return nil
			}
		}
	}
}

// cancelled closes the queue and fails every job left in it.
func (w *Worker) cancelled(ctx context.Context) error {
	w.logger.Info().Msg("processor worker stopping: context cancelled")
	w.queue.Close()
	err := ctx.Err()
	for {
		j, ok := w.queue.TryDequeue()
		if !ok {
			return err
		}
		j.result <- Result{Err: err}
	}
}
