package transport

import (
	"context"
	"sync"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
)

// Beacon is a fire-and-forget delivery path used during teardown. It never
// reports outcomes and never touches retry bookkeeping.
type Beacon interface {
	Beacon(a actions.Action)
	Close() error
}

// HTTPBeacon sends each action once in the background and discards the
// reply. Close waits for outstanding sends up to the configured grace period.
type HTTPBeacon struct {
	sender *HTTPSender
	grace  time.Duration
	wg     sync.WaitGroup
}

// NewHTTPBeacon reuses sender's target and headers. grace bounds each send
// and how long Close waits.
func NewHTTPBeacon(sender *HTTPSender, grace time.Duration) *HTTPBeacon {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &HTTPBeacon{sender: sender, grace: grace}
}

// Beacon dispatches a without waiting.
func (b *HTTPBeacon) Beacon(a actions.Action) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.grace)
		defer cancel()

		req, err := b.sender.newRequest(ctx, a)
		if err != nil {
			return
		}
		req.Header.Set("X-Beacon", "1")
		resp, err := b.sender.httpClient.Do(req)
		if err != nil {
			b.sender.logger.Debug("beacon send failed", "action_id", a.ID, "error", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

// Close waits for in-flight beacons, at most the grace period.
func (b *HTTPBeacon) Close() error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.grace):
	}
	return nil
}

var _ Beacon = (*HTTPBeacon)(nil)

// discardBeacon drops everything.
type discardBeacon struct{}

func (discardBeacon) Beacon(actions.Action) {}
func (discardBeacon) Close() error          { return nil }

// Discard is a Beacon that sends nothing.
var Discard Beacon = discardBeacon{}
