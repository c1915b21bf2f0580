package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSyncInterval is the periodic sync tick.
const DefaultSyncInterval = 30 * time.Second

// Scheduler runs sync cycles on a ticker and on demand. All cycles run on
// the scheduler goroutine; the cycle function enforces single-flight.
type Scheduler struct {
	interval time.Duration
	cycle    func(ctx context.Context)
	logger   *slog.Logger

	trigger chan struct{}
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	running    bool
	retryTimer *time.Timer
	retryDue   time.Time
}

// NewScheduler creates a scheduler for cycle.
func NewScheduler(interval time.Duration, cycle func(ctx context.Context), logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		cycle:    cycle,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the loop. It returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	s.logger.Info("sync scheduler started", "interval", s.interval)
	return nil
}

// Stop ends the loop, cancels a running cycle and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
		s.retryDue = time.Time{}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// Trigger asks for a cycle as soon as possible. Requests coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// TriggerAfter arms a one-shot trigger. An earlier pending trigger wins.
func (s *Scheduler) TriggerAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	due := time.Now().Add(d)
	if s.retryTimer != nil {
		if !s.retryDue.After(due) {
			return
		}
		s.retryTimer.Stop()
	}
	s.retryDue = due
	s.retryTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.retryTimer = nil
		s.retryDue = time.Time{}
		s.mu.Unlock()
		s.Trigger()
	})
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.cycle(ctx)
		case <-s.trigger:
			s.cycle(ctx)
		}
	}
}
