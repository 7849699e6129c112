// Package execengine interprets action.Action values: it runs sandboxed
// processes, downloads and extracts archives, pulls Docker image layers,
// shells out to git, and assembles depmaps (spec.md §4.3/§4.4).
package execengine

import "context"

// Ticket is held for the duration of one admitted Run action; releasing it
// frees a slot in the global admission-control semaphore.
type Ticket struct {
	release func()
}

// Release returns the ticket's slot to the semaphore. Safe to call once.
func (t *Ticket) Release() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// Semaphore is the global process-ticket pool sized by --jobs (spec.md
// §4.4 step 1, §5). Generalized from the teacher's worker.Pool bounded-
// concurrency idiom: rather than a pool of goroutines draining a job
// queue, this is a pure admission gate that Run acquires before doing any
// sandbox setup, so the number of concurrently materializing/executing
// sandboxes never exceeds the configured job count.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a Semaphore admitting at most jobs concurrent
// tickets.
func NewSemaphore(jobs int) *Semaphore {
	if jobs < 1 {
		jobs = 1
	}
	return &Semaphore{slots: make(chan struct{}, jobs)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) (*Ticket, error) {
	select {
	case s.slots <- struct{}{}:
		return &Ticket{release: func() { <-s.slots }}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
