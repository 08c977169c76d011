package tunnel

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"

	"dominicbreuker/remotebus/pkg/metrics"
)

const relayBufSize = 32 * 1024

// acceptOne accepts the single relay peer of generation gen and stops
// accepting afterwards. Later local clients stay queued in the backlog
// until the listener is closed.
func (t *Tunnel) acceptOne(gen uint64, ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	if !t.post(peerAcceptedEvt{gen: gen, conn: conn}) {
		conn.Close()
	}
}

// maxPending bounds the bytes read ahead of an attached peer.
const maxPending = 4 * relayBufSize

// pump moves bytes between the relay peer and the remote link. Bytes are
// forwarded unchanged and in order.
//
// The remote is read by its own goroutine at all times, so a remote EOF or
// reset is noticed even while no peer is attached. Data read before a peer
// exists is queued and flushed once one attaches. Exactly one of the reader
// and the peer writer reports the end of the remote stream: the reader when
// no peer is attached, the writer after it flushed everything before it.
type pump struct {
	gen    uint64
	remote net.Conn
	post   func(command) bool

	mu       sync.Mutex
	space    *sync.Cond
	pending  [][]byte
	queued   int
	peer     net.Conn
	discard  bool
	readErr  error
	reported bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newPump(gen uint64, remote net.Conn, post func(command) bool) *pump {
	p := &pump{
		gen:    gen,
		remote: remote,
		post:   post,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.space = sync.NewCond(&p.mu)
	go p.readRemote()
	return p
}

// attach connects the relay peer. It must be called at most once.
func (p *pump) attach(peer net.Conn) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()

	go p.writePeer(peer)
	go p.peerToRemote(peer)
	p.signal()
}

// stop silences both directions. Closing the sockets is up to the caller.
func (p *pump) stop() {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.space.Broadcast()
		p.mu.Unlock()
	})
}

func (p *pump) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *pump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// readRemote queues everything the remote sends. With a peer attached it
// waits while the peer is maxPending bytes behind.
func (p *pump) readRemote() {
	buf := make([]byte, relayBufSize)

	for {
		n, err := p.remote.Read(buf)

		p.mu.Lock()
		if n > 0 && !p.discard {
			p.pending = append(p.pending, bytes.Clone(buf[:n]))
			p.queued += n
		}
		report := false
		if err != nil {
			p.readErr = err
			if p.peer == nil {
				p.reported = true
				report = true
			}
		}
		p.signal()
		for err == nil && p.peer != nil && !p.discard && p.queued >= maxPending && !p.stopped() {
			p.space.Wait()
		}
		p.mu.Unlock()

		if err != nil {
			if report {
				p.reportRemote(err)
			}
			return
		}
		if p.stopped() {
			return
		}
	}
}

// writePeer flushes queued remote data to the peer.
func (p *pump) writePeer(peer net.Conn) {
	for {
		select {
		case <-p.wake:
		case <-p.done:
			return
		}

		p.mu.Lock()
		chunks := p.pending
		p.pending, p.queued = nil, 0
		readErr := p.readErr
		p.space.Broadcast()
		p.mu.Unlock()

		for _, b := range chunks {
			if _, err := peer.Write(b); err != nil {
				p.peerFailed(peer, err)
				return
			}
			metrics.RelayedBytes.WithLabelValues(metrics.DirToLocal).Add(float64(len(b)))
		}
		if readErr != nil {
			p.mu.Lock()
			report := !p.reported
			p.reported = true
			p.mu.Unlock()
			if report {
				p.reportRemote(readErr)
			}
			return
		}
	}
}

// peerFailed drops the peer after a failed write. Later remote data is
// discarded and the end of the remote stream is reported by whoever sees it.
func (p *pump) peerFailed(peer net.Conn, err error) {
	if !p.stopped() {
		p.post(peerClosedEvt{gen: p.gen, conn: peer, err: err})
	}

	p.mu.Lock()
	p.peer = nil
	p.discard = true
	p.pending, p.queued = nil, 0
	readErr := p.readErr
	report := readErr != nil && !p.reported
	if report {
		p.reported = true
	}
	p.space.Broadcast()
	p.mu.Unlock()

	if report {
		p.reportRemote(readErr)
	}
}

func (p *pump) reportRemote(err error) {
	if p.stopped() {
		return
	}
	if errors.Is(err, io.EOF) {
		p.post(remoteClosedEvt{gen: p.gen})
	} else {
		p.post(remoteErrorEvt{gen: p.gen, err: err})
	}
}

// peerToRemote reads from the peer and writes to the remote. A failed write
// is a remote error. A failed read means the local client went away.
func (p *pump) peerToRemote(peer net.Conn) {
	buf := make([]byte, relayBufSize)

	for {
		n, err := peer.Read(buf)
		if n > 0 {
			if _, werr := p.remote.Write(buf[:n]); werr != nil {
				if !p.stopped() {
					p.post(remoteErrorEvt{gen: p.gen, err: werr})
				}
				return
			}
			metrics.RelayedBytes.WithLabelValues(metrics.DirToRemote).Add(float64(n))
		}
		if err != nil {
			if !p.stopped() {
				p.post(peerClosedEvt{gen: p.gen, conn: peer, err: err})
			}
			return
		}
	}
}
