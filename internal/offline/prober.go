package offline

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Connectivity receives online/offline signals.
type Connectivity interface {
	SetOnline(online bool)
}

// Prober polls a health URL and reports connectivity. A single success marks
// the target online; threshold consecutive failures mark it offline.
type Prober struct {
	url        string
	interval   time.Duration
	threshold  int
	target     Connectivity
	httpClient *http.Client
	logger     *slog.Logger

	failures int
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewProber creates a prober for url.
func NewProber(url string, interval time.Duration, threshold int, target Connectivity, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if threshold <= 0 {
		threshold = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		url:        url,
		interval:   interval,
		threshold:  threshold,
		target:     target,
		httpClient: &http.Client{Timeout: min(interval, 5*time.Second)},
		logger:     logger.With("component", "prober"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start probes once immediately and then on every interval.
func (p *Prober) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop ends probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

// check performs one probe.
func (p *Prober) check(ctx context.Context) {
	if p.probe(ctx) {
		p.failures = 0
		p.target.SetOnline(true)
		return
	}
	p.failures++
	if p.failures >= p.threshold {
		p.target.SetOnline(false)
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", "url", p.url, "error", err)
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}
