package offline

import (
	"github.com/clawinfra/applytrack/internal/actions"
)

// IsOnline reports the last known connectivity state.
func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline records a connectivity signal. Going from offline to online
// requests an immediate sync cycle.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	pending := len(q.items)
	q.mu.Unlock()

	if was == online {
		return
	}
	q.logger.Info("connectivity changed", "online", online, "pending", pending)
	if online {
		q.scheduler.Trigger()
	}
}

// SetVisible records foreground/background transitions. Coming back to the
// foreground while online requests a cycle, which catches connectivity
// changes missed while suspended.
func (q *Queue) SetVisible(visible bool) {
	q.mu.Lock()
	was := q.visible
	q.visible = visible
	online := q.online
	q.mu.Unlock()

	if visible && !was && online {
		q.logger.Debug("became visible, requesting sync")
		q.scheduler.Trigger()
	}
}

// Teardown makes a best-effort flush of high-priority actions through the
// beacon. Nothing is removed and no retry counters change: the actions stay
// queued for the next session. It returns how many beacons were issued.
func (q *Queue) Teardown() int {
	q.mu.Lock()
	var high []actions.Action
	for _, a := range q.items {
		if a.Priority == actions.PriorityHigh {
			high = append(high, a.Clone())
		}
	}
	pending := len(q.items)
	q.mu.Unlock()

	if pending == 0 {
		return 0
	}
	for _, a := range high {
		q.beacon.Beacon(a)
	}
	q.logger.Info("teardown flush issued", "beacons", len(high), "pending", pending)
	return len(high)
}
