// Package semaphore bounds the number of concurrent tunnel links a gateway
// serves. Links either wait for a slot up to a timeout or are turned away
// immediately.
package semaphore

import (
	"context"
	"fmt"
	"time"
)

// LinkSemaphore counts active links. A nil *LinkSemaphore admits everything.
type LinkSemaphore struct {
	held    chan struct{}
	timeout time.Duration
}

// New allows n concurrent links. Acquire waits at most timeout for a slot.
func New(n int, timeout time.Duration) *LinkSemaphore {
	return &LinkSemaphore{held: make(chan struct{}, n), timeout: timeout}
}

// Acquire waits for a slot. It fails when the timeout passes or ctx ends,
// returning ctx.Err() in the latter case.
func (s *LinkSemaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout acquiring link slot after %v", s.timeout)
	}
}

// TryAcquire takes a slot only if one is free right now.
func (s *LinkSemaphore) TryAcquire() bool {
	if s == nil {
		return true
	}

	select {
	case s.held <- struct{}{}:
		return true
	default:
		return false
	}
}

// Available is the number of free slots, -1 when unbounded.
func (s *LinkSemaphore) Available() int {
	if s == nil {
		return -1
	}
	return cap(s.held) - len(s.held)
}

// Release frees a slot taken by Acquire or TryAcquire.
func (s *LinkSemaphore) Release() {
	if s == nil {
		return
	}
	<-s.held
}
