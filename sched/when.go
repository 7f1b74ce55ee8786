package sched

import "sync"

// WhenAll returns a Future that becomes Ready once every future in fs has
// left the Pending state. If none of them are Pending when called, it
// short-circuits and returns an already-Ready future without arming any
// callbacks.
func WhenAll[T any](fs []*Future[T]) *Future[struct{}] {
	if len(fs) == 0 {
		return Resolved(struct{}{})
	}

	pending := 0
	for _, f := range fs {
		if f.Pending() {
			pending++
		}
	}
	if pending == 0 {
		return Resolved(struct{}{})
	}

	out, p := NewFuture[struct{}]()
	var mu sync.Mutex
	// arm runs fn at once for inputs that are already non-pending, so
	// every input is counted, not only the pending ones.
	remaining := len(fs)
	for _, f := range fs {
		f := f
		f.arm(func() {
			mu.Lock()
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				p.Fulfill(struct{}{})
			}
		})
	}
	return out
}

// WhenAny returns a Future that becomes Ready with the index of the first
// input future to leave Pending. If one is already Ready (or Observed)
// when called, it is marked Observed and its index returned immediately.
// Otherwise a one-shot callback is armed on every pending future; the
// first to fire wins and the rest remain unobserved, matching the
// first-observed-wins semantics of the original when_any.
func WhenAny[T any](fs []*Future[T]) *Future[int] {
	for i, f := range fs {
		f.mu.Lock()
		ready := f.state != Pending
		if ready {
			f.state = Observed
		}
		f.mu.Unlock()
		if ready {
			return Resolved(i)
		}
	}

	out, p := NewFuture[int]()
	var once sync.Once
	for i, f := range fs {
		i, f := i, f
		f.arm(func() {
			once.Do(func() { p.Fulfill(i) })
		})
	}
	return out
}
