package tunnel

import "sync"

// GuardState is the occupancy state of a Guard.
type GuardState int

const (
	// GuardIdle admits the next operation.
	GuardIdle GuardState = iota
	// GuardBusy means an operation is running under a deadline.
	GuardBusy
	// GuardDraining means the operation timed out, the tunnel was aborted and
	// the guard waits for the operation to return before admitting another.
	GuardDraining
)

func (s GuardState) String() string {
	switch s {
	case GuardIdle:
		return "idle"
	case GuardBusy:
		return "busy"
	case GuardDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Guard serializes wrapped operations. At most one operation holds the guard;
// later callers block in acquire until it is released.
type Guard struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    GuardState
	seq      uint64
	timedOut bool
}

func newGuard() *Guard {
	g := &Guard{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// acquire blocks until the guard is idle and returns the sequence number of
// the new operation.
func (g *Guard) acquire() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.state != GuardIdle {
		g.cond.Wait()
	}
	g.state = GuardBusy
	g.timedOut = false
	g.seq++
	return g.seq
}

// release ends operation seq and reports whether it had been drained.
func (g *Guard) release(seq uint64) (drained bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seq != g.seq || g.state == GuardIdle {
		return false
	}
	drained = g.state == GuardDraining
	g.state = GuardIdle
	g.cond.Broadcast()
	return drained
}

// expire marks operation seq as timed out. With drain set the guard moves to
// Draining. It reports false if seq is no longer running.
func (g *Guard) expire(seq uint64, drain bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seq != g.seq || g.state != GuardBusy {
		return false
	}
	g.timedOut = true
	if drain {
		g.state = GuardDraining
	}
	return true
}

// TimedOut reports whether the current or most recent operation hit its
// deadline. It is reset when the next operation begins.
func (g *Guard) TimedOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timedOut
}

// State returns the current occupancy state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
