package tunnel

import "net"

// command is anything the loop consumes. Caller requests and I/O
// completions share one channel so the loop sees them in arrival order.
type command interface {
	command()
}

// Caller requests. Those with a reply channel are synchronous.

type openCmd struct {
	host    string
	port    int
	network string
}

type closeCmd struct{}

type abortCmd struct {
	reply chan error
}

type shutdownCmd struct {
	reply chan error
}

type socketOptionsCmd struct {
	keepalive *bool
	noDelay   *bool
	reply     chan error
}

type tuneKeepaliveCmd struct {
	reply chan error
}

type beginOpCmd struct {
	seq   uint64
	reply chan error
}

type endOpCmd struct {
	seq     uint64
	drained bool
}

// I/O completions. gen ties each one to the relay that produced it; the loop
// drops completions from a generation it already tore down.

type dialDoneEvt struct {
	gen  uint64
	conn net.Conn
	err  error
}

type peerAcceptedEvt struct {
	gen  uint64
	conn net.Conn
}

type peerClosedEvt struct {
	gen  uint64
	conn net.Conn
	err  error
}

type remoteClosedEvt struct {
	gen uint64
}

type remoteErrorEvt struct {
	gen uint64
	err error
}

type linkDeadlineEvt struct {
	seq uint64
}

type opDeadlineEvt struct {
	seq uint64
}

func (openCmd) command()          {}
func (closeCmd) command()         {}
func (abortCmd) command()         {}
func (shutdownCmd) command()      {}
func (socketOptionsCmd) command() {}
func (tuneKeepaliveCmd) command() {}
func (beginOpCmd) command()       {}
func (endOpCmd) command()         {}
func (dialDoneEvt) command()      {}
func (peerAcceptedEvt) command()  {}
func (peerClosedEvt) command()    {}
func (remoteClosedEvt) command()  {}
func (remoteErrorEvt) command()   {}
func (linkDeadlineEvt) command()  {}
func (opDeadlineEvt) command()    {}
