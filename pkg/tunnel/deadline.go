package tunnel

import (
	"time"

	"dominicbreuker/remotebus/pkg/config"
)

// deadline is a single-shot timer owned by the loop. Every arm gets a new
// sequence number and a fire only counts if it carries the current one, so a
// timer that fires while being cancelled is ignored.
type deadline struct {
	timer *time.Timer
	seq   uint64
	armed bool
}

// arm starts the deadline unless timeout is the disabled sentinel.
// fire runs on the timer goroutine and must only post to the loop.
func (d *deadline) arm(timeout time.Duration, fire func(seq uint64)) {
	d.cancel()
	if !config.TimeoutEnabled(timeout) {
		return
	}

	d.seq++
	seq := d.seq
	d.armed = true
	d.timer = time.AfterFunc(timeout, func() { fire(seq) })
}

func (d *deadline) cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
}

// take reports whether a fire with seq is the live one and disarms the deadline if so.
func (d *deadline) take(seq uint64) bool {
	if !d.armed || seq != d.seq {
		return false
	}
	d.armed = false
	d.timer = nil
	return true
}
