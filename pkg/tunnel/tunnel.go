// Package tunnel relays a local protocol client to a remote daemon over an
// unreliable link and bounds how long any caller can be blocked by it.
//
// A Tunnel listens on an ephemeral loopback port, dials the remote, and pumps
// bytes between the single local client (the relay peer) and the remote link.
// All tunnel state is owned by one loop goroutine. Callers talk to it through
// a channel of commands and learn about progress from Events().
//
// Blocking calls of the protocol client are wrapped with Do, which admits one
// call at a time and aborts the tunnel if a call outlives the operation
// timeout. Aborting closes the relay, which is what unblocks the call.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
	"dominicbreuker/remotebus/pkg/metrics"
)

var (
	// ErrOperationTimeout wraps the error of a call that failed because it
	// hit the operation timeout.
	ErrOperationTimeout = errors.New("operation timed out")
	// ErrNotConnected is returned for requests that need a connected tunnel.
	ErrNotConnected = errors.New("tunnel not connected")
	// ErrShutdown is returned for requests made after Shutdown.
	ErrShutdown = errors.New("tunnel shut down")
)

// State is the lifecycle state of a Tunnel.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// linked reports whether a remote link exists in state s.
func linked(s State) bool {
	return s == Connected || s == Closing
}

// Options are the runtime collaborators of a Tunnel. All fields are optional.
type Options struct {
	Protocol config.Protocol
	Logger   *log.Logger
	Deps     *config.Dependencies
	Tuner    KeepaliveTuner
}

// Tunnel is a loopback relay to a remote daemon. The zero value is not
// usable; create one with New and release it with Shutdown.
type Tunnel struct {
	proto     config.Protocol
	logger    *log.Logger
	deps      *config.Dependencies
	tuner     KeepaliveTuner
	traceFile string

	cmds   chan command
	done   chan struct{}
	once   sync.Once
	events *eventQueue
	guard  *Guard
	state  atomic.Int32

	cfgMu    sync.Mutex
	timeouts config.Timeouts
	kaParams *config.KeepaliveParams

	// Owned by the loop goroutine.
	gen        uint64
	listener   net.Listener
	localPort  int
	peer       net.Conn
	remote     net.Conn
	rawRemote  net.Conn
	pump       *pump
	cancelDial context.CancelFunc
	link       deadline
	op         deadline
	opSeq      uint64
	keepalive  bool
	noDelay    bool
}

// New starts the loop of a new idle tunnel. cfg may be nil.
func New(cfg *config.Tunnel, opts Options) *Tunnel {
	if cfg == nil {
		cfg = &config.Tunnel{}
	}
	t := &Tunnel{
		proto:     opts.Protocol,
		logger:    opts.Logger,
		deps:      opts.Deps,
		tuner:     opts.Tuner,
		traceFile: cfg.TraceFile,
		cmds:      make(chan command, 64),
		done:      make(chan struct{}),
		guard:     newGuard(),
		timeouts:  cfg.Timeouts,
		keepalive: cfg.Keepalive,
		noDelay:   cfg.NoDelay,
	}
	if t.proto == 0 {
		t.proto = config.ProtoTCP
	}
	if t.tuner == nil {
		t.tuner = PlatformTuner()
	}
	if cfg.KeepaliveParams != nil {
		p := *cfg.KeepaliveParams
		t.kaParams = &p
	}
	t.events = newEventQueue(t.done)

	go t.run()
	return t
}

// Events delivers tunnel notifications in the order they happened. The
// channel is closed after Shutdown.
func (t *Tunnel) Events() <-chan Event {
	return t.events.out
}

// State returns the state as last set by the loop.
func (t *Tunnel) State() State {
	return State(t.state.Load())
}

// Open starts connecting to host:port. network is the address family hint
// (tcp, tcp4, tcp6). The outcome is reported by an EventOpened.
func (t *Tunnel) Open(host string, port int, network string) {
	t.post(openCmd{host: host, port: port, network: network})
}

// Close starts a graceful disconnect. The outcome is reported by an EventClosed.
func (t *Tunnel) Close() {
	t.post(closeCmd{})
}

// Abort tears the tunnel down immediately without emitting events. It
// returns once the tunnel is idle and may be called in any state.
func (t *Tunnel) Abort() {
	reply := make(chan error, 1)
	t.call(abortCmd{reply: reply}, reply)
}

// Shutdown aborts the tunnel and stops its loop. No events follow.
func (t *Tunnel) Shutdown() {
	t.once.Do(func() {
		reply := make(chan error, 1)
		t.call(shutdownCmd{reply: reply}, reply)
	})
	<-t.done
}

// ReportError queues an error event behind the events already pending.
func (t *Tunnel) ReportError(msg string) {
	t.events.push(errorEvent(msg))
}

// Timeouts returns the current connect and operation timeouts.
func (t *Tunnel) Timeouts() config.Timeouts {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	return t.timeouts
}

// SetConnectTimeout bounds connect and disconnect attempts started from now
// on. A non-positive value disables the bound.
func (t *Tunnel) SetConnectTimeout(d time.Duration) {
	t.cfgMu.Lock()
	t.timeouts.Connect = d
	t.cfgMu.Unlock()
}

// SetOperationTimeout bounds operations started from now on. A non-positive
// value disables the bound.
func (t *Tunnel) SetOperationTimeout(d time.Duration) {
	t.cfgMu.Lock()
	t.timeouts.Operation = d
	t.cfgMu.Unlock()
}

// SetKeepaliveEnabled toggles TCP keepalive on the remote link, now if it is
// up and on every later connection. On Windows the setting cannot change
// while connected and false is returned.
func (t *Tunnel) SetKeepaliveEnabled(on bool) bool {
	if runtime.GOOS == "windows" && linked(t.State()) {
		return false
	}
	reply := make(chan error, 1)
	if err := t.call(socketOptionsCmd{keepalive: &on, reply: reply}, reply); err != nil {
		t.logger.VerboseMsg("setting keepalive: %s", err)
	}
	return true
}

// SetNoDelay toggles TCP_NODELAY on the remote link, now if it is up and on
// every later connection.
func (t *Tunnel) SetNoDelay(on bool) error {
	reply := make(chan error, 1)
	return t.call(socketOptionsCmd{noDelay: &on, reply: reply}, reply)
}

// SetKeepaliveParameters stores the keepalive tuning and applies it right
// away if the tunnel is connected.
func (t *Tunnel) SetKeepaliveParameters(p config.KeepaliveParams) error {
	t.cfgMu.Lock()
	t.kaParams = &p
	t.cfgMu.Unlock()

	if !linked(t.State()) {
		return nil
	}
	reply := make(chan error, 1)
	return t.call(tuneKeepaliveCmd{reply: reply}, reply)
}

// UnsetKeepaliveParameters drops the keepalive tuning. A live connection keeps
// its current settings; the next one uses the system defaults.
func (t *Tunnel) UnsetKeepaliveParameters() {
	t.cfgMu.Lock()
	t.kaParams = nil
	t.cfgMu.Unlock()
}

// KeepaliveParameters returns a copy of the keepalive tuning, or nil.
func (t *Tunnel) KeepaliveParameters() *config.KeepaliveParams {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	if t.kaParams == nil {
		return nil
	}
	p := *t.kaParams
	return &p
}

// Begin blocks until no other operation runs, then arms the operation
// deadline. The returned token must be passed to End.
func (t *Tunnel) Begin() uint64 {
	seq := t.guard.acquire()
	reply := make(chan error, 1)
	t.call(beginOpCmd{seq: seq, reply: reply}, reply)
	return seq
}

// End finishes the operation started by Begin.
func (t *Tunnel) End(seq uint64) {
	drained := t.guard.release(seq)
	t.post(endOpCmd{seq: seq, drained: drained})
}

// TimedOut reports whether the current or most recent operation hit the
// operation timeout.
func (t *Tunnel) TimedOut() bool {
	return t.guard.TimedOut()
}

// Guard exposes the operation guard for inspection.
func (t *Tunnel) Guard() *Guard {
	return t.guard
}

// Do runs fn between Begin and End. If fn fails after the operation timed
// out, the returned error wraps ErrOperationTimeout.
func (t *Tunnel) Do(fn func() error) error {
	start := time.Now()
	seq := t.Begin()
	err := fn()
	timedOut := t.guard.TimedOut()
	t.End(seq)
	metrics.OperationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.Operations.WithLabelValues(metrics.ResultOK).Inc()
		return nil
	case timedOut:
		metrics.Operations.WithLabelValues(metrics.ResultTimeout).Inc()
		return fmt.Errorf("%w: %w", ErrOperationTimeout, err)
	default:
		metrics.Operations.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
}

// post hands c to the loop. It returns false once the loop has stopped.
func (t *Tunnel) post(c command) bool {
	select {
	case t.cmds <- c:
		return true
	case <-t.done:
		return false
	}
}

// call posts c and waits for the loop to answer on reply. It must never be
// used from the loop goroutine.
func (t *Tunnel) call(c command, reply chan error) error {
	if !t.post(c) {
		return ErrShutdown
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return ErrShutdown
	}
}

func (t *Tunnel) fireLink(seq uint64) { t.post(linkDeadlineEvt{seq: seq}) }
func (t *Tunnel) fireOp(seq uint64)   { t.post(opDeadlineEvt{seq: seq}) }

func (t *Tunnel) run() {
	for c := range t.cmds {
		if t.handle(c) {
			return
		}
	}
}

// handle processes one command and reports whether the loop must stop.
func (t *Tunnel) handle(c command) bool {
	switch c := c.(type) {
	case openCmd:
		t.open(c)
	case closeCmd:
		t.close()
	case abortCmd:
		t.abort()
		c.reply <- nil
	case shutdownCmd:
		t.abort()
		t.op.cancel()
		close(t.done)
		c.reply <- nil
		return true
	case socketOptionsCmd:
		if c.keepalive != nil {
			t.keepalive = *c.keepalive
		}
		if c.noDelay != nil {
			t.noDelay = *c.noDelay
		}
		c.reply <- t.applySocketOptions()
	case tuneKeepaliveCmd:
		c.reply <- t.tuneKeepalive()
	case beginOpCmd:
		t.opSeq = c.seq
		t.op.arm(t.Timeouts().Operation, t.fireOp)
		c.reply <- nil
	case endOpCmd:
		if c.seq == t.opSeq {
			t.op.cancel()
		}
		if c.drained {
			t.emit(closedEvent(true))
		}
	case dialDoneEvt:
		t.dialDone(c)
	case peerAcceptedEvt:
		t.peerAccepted(c)
	case peerClosedEvt:
		if c.gen == t.gen && c.conn == t.peer {
			t.logger.VerboseMsg("relay peer disconnected: %s", c.err)
			t.peer.Close()
			t.peer = nil
		}
	case remoteClosedEvt:
		if c.gen == t.gen {
			t.remoteClosed()
		}
	case remoteErrorEvt:
		if c.gen == t.gen {
			t.remoteError(c.err)
		}
	case linkDeadlineEvt:
		if t.link.take(c.seq) {
			t.linkFailed(true)
		}
	case opDeadlineEvt:
		if t.op.take(c.seq) {
			t.opTimedOut()
		}
	default:
		panic(fmt.Sprintf("tunnel: unknown command %T", c))
	}
	return false
}

func (t *Tunnel) emit(e Event) {
	t.events.push(e)
}

func (t *Tunnel) emitError(kind, msg string) {
	metrics.ErrorsTotal.WithLabelValues(kind).Inc()
	t.logger.VerboseMsg("%s", msg)
	t.emit(errorEvent(msg))
}

func (t *Tunnel) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old != s {
		t.logger.VerboseMsg("tunnel %s -> %s", old, s)
	}
	switch {
	case !linked(old) && linked(s):
		metrics.ActiveTunnels.Inc()
		metrics.TunnelOpenedTotal.Inc()
	case linked(old) && !linked(s):
		metrics.ActiveTunnels.Dec()
		metrics.TunnelClosedTotal.Inc()
	}
}

func (t *Tunnel) open(c openCmd) {
	if t.State() != Idle {
		t.emit(openedEvent(false, 0))
		return
	}

	ln, err := config.GetTCPListenerFunc(t.deps)("tcp", "127.0.0.1:0")
	if err == nil {
		t.localPort, err = portOf(ln.Addr())
		if err != nil {
			ln.Close()
		}
	}
	if err != nil {
		t.emitError("listen", fmt.Sprintf("internal error: failed to start local listener: %s", err))
		t.emit(openedEvent(false, 0))
		return
	}

	dialer, err := newDialer(t.proto, c.host, c.port, c.network, t.deps)
	if err != nil {
		ln.Close()
		t.emitError("remote", fmt.Sprintf("remote connection error: %s", err))
		t.emit(openedEvent(false, 0))
		return
	}

	t.gen++
	gen := t.gen
	t.listener = ln
	go t.acceptOne(gen, ln)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancelDial = cancel
	go func() {
		conn, err := dialer.Dial(ctx)
		if !t.post(dialDoneEvt{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()

	t.link.arm(t.Timeouts().Connect, t.fireLink)
	t.setState(Connecting)
	t.logger.VerboseMsg("connecting to %s:%d over %s, relay on 127.0.0.1:%d", c.host, c.port, t.proto, t.localPort)
}

func (t *Tunnel) close() {
	switch t.State() {
	case Idle:
		t.emit(closedEvent(false))
	case Connecting:
		t.teardown(true)
		t.emit(closedEvent(true))
	case Connected:
		err := t.halfClose()
		if errors.Is(err, errors.ErrUnsupported) {
			t.teardown(false)
			t.emit(closedEvent(true))
			return
		}
		if err != nil {
			t.remoteError(err)
			return
		}
		t.link.arm(t.Timeouts().Connect, t.fireLink)
		t.setState(Closing)
	case Closing:
	}
}

func (t *Tunnel) abort() {
	if t.State() != Idle {
		t.teardown(true)
	}
}

// halfClose signals end of data to the remote. The relay stays up so the
// remote can finish sending until it closes its side.
func (t *Tunnel) halfClose() error {
	cw, ok := t.remote.(interface{ CloseWrite() error })
	if !ok {
		return errors.ErrUnsupported
	}
	return cw.CloseWrite()
}

func (t *Tunnel) dialDone(c dialDoneEvt) {
	if c.gen != t.gen || t.State() != Connecting {
		if c.conn != nil {
			c.conn.Close()
		}
		return
	}
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	if c.err != nil {
		t.remoteError(c.err)
		return
	}
	t.remoteConnected(c.conn)
}

func (t *Tunnel) remoteConnected(conn net.Conn) {
	t.link.cancel()

	t.rawRemote, t.remote = conn, conn
	if t.traceFile != "" {
		traced, err := log.NewTracedConn(conn, t.traceFile)
		if err != nil {
			t.logger.ErrorMsg("tracing remote link to %s: %s", t.traceFile, err)
		} else {
			t.remote = traced
		}
	}
	if err := t.applySocketOptions(); err != nil {
		t.emitError("socket_option", fmt.Sprintf("failed to set socket options for remote socket: %s", err))
	}
	if err := t.tuneKeepalive(); err != nil {
		t.emitError("socket_option", fmt.Sprintf("failed to set keepalive options for remote socket: %s", err))
	}

	if t.listener == nil {
		panic("tunnel: remote connected without a relay listener")
	}
	t.pump = newPump(t.gen, t.remote, t.post)
	if t.peer != nil {
		t.pump.attach(t.peer)
	}

	t.setState(Connected)
	t.emit(openedEvent(true, t.localPort))
}

func (t *Tunnel) peerAccepted(c peerAcceptedEvt) {
	if c.gen != t.gen || t.listener == nil {
		c.conn.Close()
		return
	}
	if t.peer != nil {
		panic("tunnel: second relay peer accepted")
	}
	t.logger.VerboseMsg("relay peer connected from %s", c.conn.RemoteAddr())
	t.peer = c.conn
	if t.pump != nil {
		t.pump.attach(c.conn)
	}
}

func (t *Tunnel) remoteClosed() {
	if !linked(t.State()) {
		return
	}
	t.logger.VerboseMsg("remote disconnected")
	t.teardown(false)
	t.emit(closedEvent(true))
}

func (t *Tunnel) remoteError(err error) {
	t.emitError("remote", fmt.Sprintf("remote connection error: %s", err))
	t.linkFailed(false)
}

// linkFailed aborts after a remote error or, with timedOut set, after the
// connect or disconnect deadline fired.
func (t *Tunnel) linkFailed(timedOut bool) {
	switch t.State() {
	case Connecting:
		t.teardown(true)
		if timedOut {
			t.emitError("connect_timeout", "remote connect attempt timed out")
		}
		t.emit(openedEvent(false, 0))
	case Connected:
		t.teardown(true)
		t.emit(closedEvent(true))
	case Closing:
		t.teardown(true)
		if timedOut {
			t.emitError("disconnect_timeout", "remote disconnect attempt timed out, aborting")
		}
		t.emit(closedEvent(true))
	default:
		panic("tunnel: remote link failure while idle")
	}
}

func (t *Tunnel) opTimedOut() {
	connected := t.State() == Connected
	if !t.guard.expire(t.opSeq, connected) {
		return
	}
	metrics.ErrorsTotal.WithLabelValues("operation_timeout").Inc()
	if connected {
		t.logger.VerboseMsg("operation timed out, aborting tunnel")
		t.teardown(true)
	}
}

// teardown releases the remote link and the relay. With hard set pending
// outbound data is discarded.
func (t *Tunnel) teardown(hard bool) {
	t.link.cancel()
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	if t.pump != nil {
		t.pump.stop()
		t.pump = nil
	}
	if t.remote != nil {
		if tc, ok := t.rawRemote.(*net.TCPConn); ok && hard {
			tc.SetLinger(0)
		}
		t.remote.Close()
		t.remote, t.rawRemote = nil, nil
	}
	if t.peer != nil {
		t.peer.Close()
		t.peer = nil
	}
	if t.listener != nil {
		t.listener.Close()
		t.listener = nil
	}
	t.localPort = 0
	t.gen++
	t.setState(Idle)
}

func (t *Tunnel) applySocketOptions() error {
	tc, ok := t.rawRemote.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetKeepAlive(t.keepalive); err != nil {
		return fmt.Errorf("SetKeepAlive(%v): %w", t.keepalive, err)
	}
	if err := tc.SetNoDelay(t.noDelay); err != nil {
		return fmt.Errorf("SetNoDelay(%v): %w", t.noDelay, err)
	}
	return nil
}

func (t *Tunnel) tuneKeepalive() error {
	p := t.KeepaliveParameters()
	if p == nil || t.rawRemote == nil {
		return nil
	}
	err := t.tuner.TuneKeepalive(t.rawRemote, *p)
	if errors.Is(err, ErrKeepaliveUnsupported) {
		t.logger.VerboseMsg("keepalive tuning skipped: %s", err)
		return nil
	}
	return err
}

func portOf(addr net.Addr) (int, error) {
	if a, ok := addr.(*net.TCPAddr); ok {
		return a.Port, nil
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
