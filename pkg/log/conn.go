package log

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
)

// tracedConn wraps a net.Conn and appends every byte read or written to a file.
// Reads are prefixed with "<" and writes with ">" on separate lines so the
// direction of each chunk stays visible.
type tracedConn struct {
	net.Conn
	logFile *os.File
	mu      sync.Mutex
}

func (tc *tracedConn) Read(b []byte) (int, error) {
	n, err := tc.Conn.Read(b)
	if n > 0 {
		if werr := tc.trace('<', b[:n]); werr != nil {
			return n, fmt.Errorf("tracing read: %w", werr)
		}
	}
	return n, err
}

func (tc *tracedConn) Write(b []byte) (int, error) {
	n, err := tc.Conn.Write(b)
	if n > 0 {
		if werr := tc.trace('>', b[:n]); werr != nil {
			return n, fmt.Errorf("tracing write: %w", werr)
		}
	}
	return n, err
}

func (tc *tracedConn) trace(dir byte, b []byte) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, err := fmt.Fprintf(tc.logFile, "%c %d\n", dir, len(b)); err != nil {
		return err
	}
	if _, err := tc.logFile.Write(b); err != nil {
		return err
	}
	_, err := tc.logFile.Write([]byte{'\n'})
	return err
}

// Close closes both the connection and the trace file.
func (tc *tracedConn) Close() error {
	err := tc.Conn.Close()

	tc.mu.Lock()
	tc.logFile.Close()
	tc.mu.Unlock()

	return err
}

// CloseWrite half-closes the wrapped connection. It returns errors.ErrUnsupported
// if the wrapped connection cannot be half-closed.
func (tc *tracedConn) CloseWrite() error {
	if cw, ok := tc.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// NewTracedConn wraps a network connection to trace all data read from and written to it.
// The trace file is created or appended to at the specified path.
func NewTracedConn(conn net.Conn, logFilePath string) (net.Conn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &tracedConn{Conn: conn, logFile: logFile}, nil
}
