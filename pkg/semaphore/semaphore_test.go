package semaphore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 16} {
		if got := New(n, time.Second).Available(); got != n {
			t.Errorf("New(%d).Available() = %d, want %d", n, got, n)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	s := New(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	if got := s.Available(); got != 0 {
		t.Fatalf("Available() = %d, want 0", got)
	}

	s.Release()
	if got := s.Available(); got != 1 {
		t.Errorf("Available() after Release() = %d, want 1", got)
	}
}

func TestAcquire_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		ctx     func() (context.Context, context.CancelFunc)
		check   func(error) bool
	}{
		{
			name:    "timeout",
			timeout: 30 * time.Millisecond,
			ctx:     func() (context.Context, context.CancelFunc) { return context.Background(), func() {} },
			check:   func(err error) bool { return strings.Contains(err.Error(), "timeout acquiring link slot after 30ms") },
		},
		{
			name:    "cancelled",
			timeout: time.Minute,
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			check: func(err error) bool { return errors.Is(err, context.Canceled) },
		},
		{
			name:    "deadline",
			timeout: time.Minute,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			check: func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := New(1, tc.timeout)
			if !s.TryAcquire() {
				t.Fatal("TryAcquire() = false on an empty semaphore")
			}

			ctx, cancel := tc.ctx()
			defer cancel()

			err := s.Acquire(ctx)
			if err == nil || !tc.check(err) {
				t.Errorf("Acquire() error = %v", err)
			}
			if got := s.Available(); got != 0 {
				t.Errorf("failed Acquire() changed Available() to %d", got)
			}
		})
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	t.Parallel()

	s := New(1, time.Second)
	s.TryAcquire()

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Release()
	}()

	start := time.Now()
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Acquire() returned before the slot was released")
	}
}

func TestTryAcquire(t *testing.T) {
	t.Parallel()

	s := New(1, time.Second)
	if !s.TryAcquire() {
		t.Fatal("first TryAcquire() = false")
	}
	if s.TryAcquire() {
		t.Fatal("second TryAcquire() = true on a full semaphore")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Error("TryAcquire() after Release() = false")
	}
}

func TestNilSemaphore(t *testing.T) {
	t.Parallel()

	var s *LinkSemaphore
	if err := s.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() error = %v", err)
	}
	if !s.TryAcquire() {
		t.Error("TryAcquire() = false")
	}
	if got := s.Available(); got != -1 {
		t.Errorf("Available() = %d, want -1", got)
	}
	s.Release()
}

func TestConcurrentLinks(t *testing.T) {
	t.Parallel()

	const limit = 3
	s := New(limit, time.Second)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer s.Release()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > limit {
		t.Errorf("peak concurrent links = %d, want <= %d", got, limit)
	}
	if got := s.Available(); got != limit {
		t.Errorf("Available() after all links = %d, want %d", got, limit)
	}
}
