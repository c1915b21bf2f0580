package offline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/transport"
)

const (
	DefaultBatchSize      = 5
	DefaultBatchDelay     = 100 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

// outcome pairs a result with the action it was produced for.
type outcome struct {
	action actions.Action
	result actions.Result
}

// Dispatcher sends pending actions in priority order, one batch at a time.
type Dispatcher struct {
	sender         transport.Sender
	batchSize      int
	batchDelay     time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger

	// batchHook observes each batch before it is sent.
	batchHook func(batch []actions.Action)
}

// NewDispatcher creates a dispatcher. Zero values take the package defaults.
func NewDispatcher(sender transport.Sender, batchSize int, batchDelay, requestTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchDelay <= 0 {
		batchDelay = DefaultBatchDelay
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:         sender,
		batchSize:      batchSize,
		batchDelay:     batchDelay,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// Dispatch sends pending and returns one outcome per attempted action. Batches
// not yet started when ctx ends are left unattempted.
func (d *Dispatcher) Dispatch(ctx context.Context, pending []actions.Action) []outcome {
	ordered := actions.CloneAll(pending)
	actions.SortForDispatch(ordered)

	outcomes := make([]outcome, 0, len(ordered))
	for start := 0; start < len(ordered); start += d.batchSize {
		if start > 0 {
			if err := waitWithContext(ctx, d.batchDelay); err != nil {
				d.logger.Debug("dispatch interrupted", "remaining", len(ordered)-start)
				break
			}
		}
		end := min(start+d.batchSize, len(ordered))
		outcomes = append(outcomes, d.runBatch(ctx, ordered[start:end])...)
	}
	return outcomes
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []actions.Action) []outcome {
	if d.batchHook != nil {
		d.batchHook(actions.CloneAll(batch))
	}
	d.logger.Debug("dispatching batch", "size", len(batch), "first", batch[0].ID)

	results := make([]outcome, len(batch))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.batchSize)
	for i, a := range batch {
		g.Go(func() error {
			results[i] = d.send(gCtx, a)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) send(ctx context.Context, a actions.Action) outcome {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	resp, err := d.sender.Send(ctx, a)
	res := actions.Result{ActionID: a.ID, Response: resp, Success: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	return outcome{action: a, result: res}
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
