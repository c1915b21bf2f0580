package offline

import (
	"log/slog"
	"sync"
)

type subscriber[T any] struct {
	id int
	fn func(T)
}

// emitter is a small ordered pub/sub. Handlers run on the emitting goroutine,
// outside any queue lock, in subscription order.
type emitter[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
	logger *slog.Logger
	name   string
}

func newEmitter[T any](name string, logger *slog.Logger) *emitter[T] {
	return &emitter[T]{name: name, logger: logger}
}

func (e *emitter[T]) subscribe(fn func(T)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscriber[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	subs := make([]subscriber[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		e.call(s.fn, v)
	}
}

func (e *emitter[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("listener panicked", "event", e.name, "panic", r)
		}
	}()
	fn(v)
}

func (e *emitter[T]) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
