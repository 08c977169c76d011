// Package pipeio joins byte streams: a bidirectional Pipe between two
// connections and a cancellable Stdio for interactive sessions.
package pipeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/muesli/cancelreader"
)

type closeWriter interface {
	CloseWrite() error
}

// Pipe copies between rwc1 and rwc2 in both directions until both
// directions ended, one of them failed or ctx is cancelled. Both sides are
// closed before Pipe returns.
//
// A clean EOF on one side is forwarded as a half-close when the other side
// supports CloseWrite, so data still flowing the opposite way is delivered.
// Errors that only report the other side going away are not logged.
//
// sent counts bytes written to rwc2, received bytes written to rwc1.
func Pipe(ctx context.Context, rwc1, rwc2 io.ReadWriteCloser, logfunc func(error)) (sent, received int64) {
	var once sync.Once
	done := make(chan struct{})
	closeBoth := func() {
		once.Do(func() {
			rwc1.Close()
			rwc2.Close()
			close(done)
		})
	}

	var toRWC1, toRWC2 atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		copyHalf(rwc1, rwc2, &toRWC1, "rwc2 -> rwc1", logfunc, closeBoth)
	}()
	go func() {
		defer wg.Done()
		copyHalf(rwc2, rwc1, &toRWC2, "rwc1 -> rwc2", logfunc, closeBoth)
	}()
	go func() {
		wg.Wait()
		closeBoth()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		closeBoth()
	}
	return toRWC2.Load(), toRWC1.Load()
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

func copyHalf(dst, src io.ReadWriteCloser, n *atomic.Int64, dir string, logfunc func(error), closeBoth func()) {
	_, err := io.Copy(countingWriter{dst, n}, src)
	if err != nil {
		if logfunc != nil && !isBenign(err) {
			logfunc(fmt.Errorf("io.Copy(%s): %w", dir, err))
		}
		closeBoth()
		return
	}

	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	closeBoth()
}

func isBenign(err error) bool {
	return errors.Is(err, cancelreader.ErrCanceled) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
