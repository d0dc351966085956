// Package perkey serializes work per key while work for different keys runs
// concurrently.
//
// The event engine uses it to keep at most one poll per consumer thread in
// flight inside a process; the lease protocol covers other processes.
package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrSchedulerClosed = errors.New("perkey: scheduler closed")

// Scheduler runs functions so that, for any key, they execute one at a time
// in submission order. A key's worker goroutine exits once its queue is
// empty, so idle keys cost nothing.
type Scheduler[K comparable] struct {
	mu      sync.Mutex
	queues  map[K]*queue
	closed  bool
	pending sync.WaitGroup
}

type queue struct {
	tasks []*task
}

type task struct {
	fn   func() error
	done chan error
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{queues: make(map[K]*queue)}
}

// Do runs fn for key and returns its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but stops waiting when ctx is done. A task that was
// already queued still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &task{fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.pending.Add(1)
	q, ok := s.queues[key]
	if ok {
		q.tasks = append(q.tasks, t)
	} else {
		q = &queue{tasks: []*task{t}}
		s.queues[key] = q
		go s.drain(key, q)
	}
	s.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of keys with queued or running work.
func (s *Scheduler[K]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Close rejects new work and waits for queued work to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
}

func (s *Scheduler[K]) drain(key K, q *queue) {
	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		t.done <- run(t.fn)
		s.pending.Done()
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("perkey: task panicked: %v", p)
		}
	}()
	return fn()
}
