package offline

import (
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
)

// RetryPolicy decides what happens to an action after a failed attempt.
type RetryPolicy struct {
	BaseDelay time.Duration
	CapDelay  time.Duration
}

// DefaultRetryPolicy backs off from 1s up to 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, CapDelay: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.CapDelay <= 0 {
		p.CapDelay = def.CapDelay
	}
	if p.CapDelay < p.BaseDelay {
		p.CapDelay = p.BaseDelay
	}
	return p
}

// Delay returns min(BaseDelay * 2^retryCount, CapDelay).
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	p = p.normalized()
	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		if delay >= p.CapDelay/2 {
			return p.CapDelay
		}
		delay *= 2
	}
	return min(delay, p.CapDelay)
}

// Apply records a failed attempt on a copy of a. dead reports that the retry
// budget is spent and the action must leave the queue.
func (p RetryPolicy) Apply(a actions.Action, cause string, at time.Time) (updated actions.Action, dead bool) {
	updated = a.Clone()
	updated.RetryCount++
	updated.LastAttempt = &at
	updated.LastError = cause
	return updated, updated.Exhausted()
}

// DeadLetter builds the terminal failure report for a.
func (p RetryPolicy) DeadLetter(a actions.Action) actions.DeadLetter {
	failedAt := time.Now()
	if a.LastAttempt != nil {
		failedAt = *a.LastAttempt
	}
	return actions.DeadLetter{
		ActionID:  a.ID,
		Kind:      a.Kind,
		Endpoint:  a.Endpoint,
		Attempts:  a.RetryCount,
		LastError: a.LastError,
		FailedAt:  failedAt,
	}
}
