// Package actions defines the data contract for queued offline mutations.
package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"
)

// DefaultMaxRetries is applied when a draft leaves MaxRetries at zero.
const DefaultMaxRetries = 3

// ErrInvalidDraft is returned for drafts that can never be delivered.
var ErrInvalidDraft = errors.New("invalid action draft")

// Priority selects the dispatch bucket of an action.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for dispatch: high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 1
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

var supportedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// Action is one pending network mutation.
type Action struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Payload     map[string]any    `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	RetryCount  int               `json:"retryCount"`
	MaxRetries  int               `json:"maxRetries"`
	Priority    Priority          `json:"priority"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	LastAttempt *time.Time        `json:"lastAttempt,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the action. Payload values are copied one level
// deep; nested values stay shared with the caller who owns them.
func (a Action) Clone() Action {
	out := a
	out.Payload = maps.Clone(a.Payload)
	out.Headers = maps.Clone(a.Headers)
	if a.LastAttempt != nil {
		t := *a.LastAttempt
		out.LastAttempt = &t
	}
	return out
}

// Exhausted reports whether the action has used its whole retry budget.
func (a Action) Exhausted() bool {
	return a.RetryCount >= a.MaxRetries
}

// Draft is what a caller hands to the queue.
type Draft struct {
	Kind       string            `json:"kind"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Priority   Priority          `json:"priority,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
}

// Validate normalises the draft in place and rejects malformed input.
func (d *Draft) Validate() error {
	d.Endpoint = strings.TrimSpace(d.Endpoint)
	if d.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidDraft)
	}
	d.Method = strings.ToUpper(strings.TrimSpace(d.Method))
	if !supportedMethods[d.Method] {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidDraft, d.Method)
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidDraft, d.Priority)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must not be negative", ErrInvalidDraft)
	}
	return nil
}

// Build turns a validated draft into a queued action.
func (d Draft) Build(id string, now time.Time, defaultMaxRetries int) Action {
	maxRetries := d.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return Action{
		ID:         id,
		Kind:       d.Kind,
		Payload:    maps.Clone(d.Payload),
		CreatedAt:  now,
		MaxRetries: maxRetries,
		Priority:   d.Priority,
		Endpoint:   d.Endpoint,
		Method:     d.Method,
		Headers:    maps.Clone(d.Headers),
	}
}

// Response is the captured reply of a delivered action.
type Response struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Result is the outcome of one attempted action.
type Result struct {
	Success  bool      `json:"success"`
	ActionID string    `json:"actionId"`
	Error    string    `json:"error,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// DeadLetter reports an action dropped after exhausting its retries.
type DeadLetter struct {
	ActionID  string    `json:"actionId"`
	Kind      string    `json:"kind"`
	Endpoint  string    `json:"endpoint"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
	FailedAt  time.Time `json:"failedAt"`
}

// SortForDispatch orders actions high-to-low priority, oldest first within a
// bucket. Ties keep their input order.
func SortForDispatch(list []Action) {
	sort.SliceStable(list, func(i, j int) bool {
		ri, rj := list[i].Priority.Rank(), list[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// CloneAll deep-copies a slice of actions.
func CloneAll(list []Action) []Action {
	out := make([]Action, len(list))
	for i, a := range list {
		out[i] = a.Clone()
	}
	return out
}
