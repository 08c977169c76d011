package entrypoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	godbus "github.com/godbus/dbus/v5"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/dbus"
	"dominicbreuker/remotebus/pkg/pipeio"
)

const shellPrompt = "remotebus> "

const shellHelp = `Commands:
  call <dest> <path> <interface.method> [args...]
  emit <path> <interface.signal> [args...]
  names
  introspect <dest> <path>
  request <name>
  release <name>
  status
  open
  close
  help
  quit
Arguments take an optional type prefix such as u:42 or o:/org/example.`

// Shell connects to the remote bus and executes commands read line by line
// from stdin until EOF, quit or ctx is cancelled. A prompt is shown when
// stdin is a terminal.
func Shell(ctx context.Context, cfg *config.Shared, tCfg *config.Tunnel) error {
	stdin := config.GetStdinFunc(cfg.Deps)()
	stdio := pipeio.NewStdio(stdin, config.GetStdoutFunc(cfg.Deps)())
	defer stdio.Close()

	return withMetrics(ctx, cfg, func(ctx context.Context) error {
		return shell(ctx, cfg, tCfg, realBusFactory(), stdio, isTerminal(stdin))
	})
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func shell(
	ctx context.Context,
	cfg *config.Shared,
	tCfg *config.Tunnel,
	newBus busFactory,
	stdio io.ReadWriteCloser,
	interactive bool,
) error {
	bus, err := newBus(cfg, tCfg)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	defer bus.Shutdown()

	if err := openBus(ctx, cfg, bus); err != nil {
		return err
	}

	// unblocks the pending read when cancellable
	stop := context.AfterFunc(ctx, func() { _ = stdio.Close() })
	defer stop()

	s := &session{cfg: cfg, bus: bus, out: stdio}
	sc := bufio.NewScanner(stdio)
	for {
		if interactive {
			fmt.Fprint(stdio, shellPrompt)
		}
		if !sc.Scan() {
			break
		}
		if quit := s.exec(ctx, sc.Text()); quit {
			break
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
		return fmt.Errorf("reading commands: %w", err)
	}

	if err := bus.CloseWait(ctx); err != nil {
		cfg.Logger.VerboseMsg("Disconnecting: %s", err)
	}
	return nil
}

// session executes shell commands against one bus connection.
type session struct {
	cfg *config.Shared
	bus busInterface
	out io.Writer
}

// exec runs one command line and reports whether the shell should exit.
func (s *session) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, shellHelp)
	case "status":
		s.status()
	case "open":
		if s.bus.IsOpen() {
			err = errors.New("already open")
		} else {
			err = openBus(ctx, s.cfg, s.bus)
		}
	case "close":
		err = s.bus.CloseWait(ctx)
	case "names":
		err = s.names()
	case "introspect":
		err = s.introspect(args)
	case "request", "release":
		err = s.name(cmd, args)
	case "call":
		err = s.call(args)
	case "emit":
		err = s.emit(args)
	default:
		err = fmt.Errorf("unknown command %q, try help", cmd)
	}

	if err != nil {
		fmt.Fprintf(s.out, "error: %s\n", err)
	}
	return false
}

func (s *session) status() {
	state := "closed"
	if s.bus.IsOpen() {
		state = "open"
	}
	fmt.Fprintf(s.out, "%s: %s\n", s.bus.Name(), state)
	if err := s.bus.LastError(); err != nil {
		fmt.Fprintf(s.out, "last error: %s\n", err)
	}
}

func (s *session) names() error {
	names, err := s.bus.ListNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(s.out, n)
	}
	return nil
}

func (s *session) introspect(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: introspect <dest> <path>")
	}
	xml, err := s.bus.Introspect(args[0], godbus.ObjectPath(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, xml)
	return nil
}

func (s *session) name(cmd string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <name>", cmd)
	}

	var ok bool
	var err error
	if cmd == "request" {
		ok, err = s.bus.RequestName(args[0])
	} else {
		ok, err = s.bus.ReleaseName(args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s %s: %t\n", cmd, args[0], ok)
	return nil
}

func (s *session) call(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: call <dest> <path> <interface.method> [args...]")
	}
	values, err := dbus.ParseArgs(args[3:])
	if err != nil {
		return err
	}

	body, err := s.bus.Call(args[0], godbus.ObjectPath(args[1]), args[2], values...)
	if err != nil {
		return err
	}
	for _, v := range body {
		fmt.Fprintln(s.out, dbus.FormatValue(v))
	}
	return nil
}

func (s *session) emit(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: emit <path> <interface.signal> [args...]")
	}
	values, err := dbus.ParseArgs(args[2:])
	if err != nil {
		return err
	}
	return s.bus.Emit(godbus.ObjectPath(args[0]), args[1], values...)
}
