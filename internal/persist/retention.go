package persist

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
)

// DefaultRetention is how long an action may sit in storage before it is
// presumed unreachable.
const DefaultRetention = 24 * time.Hour

// Retention wraps an adapter and drops stale actions on load. A load that
// drops anything writes the pruned list back. A failed write-back is only
// logged; the next Save carries the pruned list.
type Retention struct {
	inner  Adapter
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRetention wraps inner with a retention window. A non-positive window
// uses DefaultRetention.
func NewRetention(inner Adapter, window time.Duration, logger *slog.Logger) *Retention {
	if window <= 0 {
		window = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{
		inner:  inner,
		window: window,
		now:    time.Now,
		logger: logger.With("component", "persist"),
	}
}

// Window returns the retention window.
func (r *Retention) Window() time.Duration { return r.window }

func (r *Retention) Load(ctx context.Context) ([]actions.Action, error) {
	list, err := r.inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	kept, dropped := Prune(list, r.now().Add(-r.window))
	if dropped == 0 {
		return list, nil
	}

	r.logger.Info("pruned stale actions on load", "dropped", dropped, "kept", len(kept))
	if err := r.inner.Save(ctx, kept); err != nil {
		r.logger.Warn("failed to persist pruned list", "error", err, "kept", len(kept))
	}
	return kept, nil
}

func (r *Retention) Save(ctx context.Context, list []actions.Action) error {
	return r.inner.Save(ctx, list)
}

func (r *Retention) Close() error {
	return r.inner.Close()
}

// Prune splits off actions created before cutoff, keeping order.
func Prune(list []actions.Action, cutoff time.Time) ([]actions.Action, int) {
	kept := make([]actions.Action, 0, len(list))
	for _, a := range list {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
	}
	return kept, len(list) - len(kept)
}
