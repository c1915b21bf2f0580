// Package persist stores the offline action list durably.
//
// Every adapter keeps the whole list as a single JSON array under one stable
// key: a file path, a row in a state table, or a slot in memory. The queue
// facade is the only writer.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/clawinfra/applytrack/internal/actions"
)

// StateKey is the stable key the action list lives under.
const StateKey = "applytrack_offline_queue"

var (
	// ErrUnsupportedDSN is returned by Open for unknown schemes.
	ErrUnsupportedDSN = errors.New("unsupported store dsn")
	// ErrInvalidInput is returned for empty paths and DSNs.
	ErrInvalidInput = errors.New("invalid store input")
)

// Adapter loads and saves the complete action list.
type Adapter interface {
	Load(ctx context.Context) ([]actions.Action, error)
	Save(ctx context.Context, list []actions.Action) error
	Close() error
}

func encode(list []actions.Action) ([]byte, error) {
	if list == nil {
		list = []actions.Action{}
	}
	return json.Marshal(list)
}

func decode(data []byte) ([]actions.Action, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var list []actions.Action
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MemoryStore keeps the encoded list in memory. Saves round-trip through JSON
// so callers never share slices with the store.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) ([]actions.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.data)
}

func (m *MemoryStore) Save(_ context.Context, list []actions.Action) error {
	data, err := encode(list)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
