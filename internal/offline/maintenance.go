package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs stale-action pruning hourly.
const DefaultPruneSchedule = "@every 1h"

// Maintenance prunes stale actions from a live queue on a cron schedule.
type Maintenance struct {
	queue    *Queue
	schedule cron.Schedule
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewMaintenance parses expr (standard cron or a descriptor such as
// "@every 30m").
func NewMaintenance(q *Queue, expr string, logger *slog.Logger) (*Maintenance, error) {
	if expr == "" {
		expr = DefaultPruneSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		queue:    q,
		schedule: schedule,
		logger:   logger.With("component", "maintenance"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start runs the maintenance loop in the background.
func (m *Maintenance) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts the loop and waits for it to exit.
func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Maintenance) run(ctx context.Context) {
	defer close(m.doneCh)

	for {
		next := m.schedule.Next(time.Now())
		m.logger.Debug("next prune scheduled", "next_run", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if n := m.queue.PruneStale(ctx); n > 0 {
				m.logger.Info("maintenance pruned actions", "dropped", n)
			}
		}
	}
}
