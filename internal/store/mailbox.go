package store

import (
	"context"
	"sync"
)

// mailbox delivers snapshots to one listener on its own goroutine, in the
// order they were put. The queue is unbounded so the writer never blocks
// and a slow listener still sees every intermediate state.
type mailbox[T any] struct {
	mu      sync.Mutex
	pending [][]T
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMailbox[T any](ctx context.Context, fn func([]T)) *mailbox[T] {
	m := &mailbox[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-m.wake:
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}

			for {
				snap, ok := m.next()
				if !ok {
					break
				}
				select {
				case <-m.done:
					return
				case <-ctx.Done():
					return
				default:
				}
				fn(snap)
			}
		}
	}()

	return m
}

func (m *mailbox[T]) put(snap []T) {
	m.mu.Lock()
	m.pending = append(m.pending, snap)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) next() ([]T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return nil, false
	}
	snap := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return snap, true
}

// backlog reports how many snapshots wait for delivery.
func (m *mailbox[T]) backlog() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *mailbox[T]) close() {
	m.once.Do(func() { close(m.done) })
}
