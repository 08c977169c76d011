package shared

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
)

func TestGetBaseDescription(t *testing.T) {
	t.Parallel()

	desc := GetBaseDescription()
	for _, proto := range []string{"tcp", "ws", "udp"} {
		if !strings.Contains(desc, proto) {
			t.Errorf("description should mention %s", proto)
		}
	}
}

func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool)
	for _, flag := range flags {
		if n := flag.Names(); len(n) > 0 {
			names[n[0]] = true
		}
	}
	return names
}

func TestFlagSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags []cli.Flag
		want  []string
	}{
		{"common", GetCommonFlags(), []string{VerboseFlag, MetricsFlag}},
		{"tunnel", GetTunnelFlags(), []string{NameFlag, FamilyFlag, ConnectTimeoutFlag, OperationTimeoutFlag, KeepaliveFlag, KeepaliveParamsFlag, NoDelayFlag, TraceFlag, AuthFlag}},
		{"gateway", GetGatewayFlags(), []string{TargetFlag, MaxLinksFlag, QueueTimeoutFlag, DialRetriesFlag}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			names := flagNames(tc.flags)
			for _, want := range tc.want {
				if !names[want] {
					t.Errorf("expected flag %q not found", want)
				}
			}
		})
	}
}

// runWith parses args with all flag sets and runs fn inside the action.
func runWith(t *testing.T, args []string, fn func(cmd *cli.Command) error) error {
	t.Helper()

	var flags []cli.Flag
	flags = append(flags, GetCommonFlags()...)
	flags = append(flags, GetTunnelFlags()...)
	flags = append(flags, GetGatewayFlags()...)

	cmd := &cli.Command{
		Name:  "test",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return fn(cmd)
		},
	}
	return cmd.Run(context.Background(), append([]string{"test"}, args...))
}

func TestBuildSharedAndTunnel(t *testing.T) {
	t.Parallel()

	args := []string{
		"--verbose", "--metrics", "127.0.0.1:9100",
		"--name", "session", "--family", "tcp6",
		"--connect-timeout", "3s", "--op-timeout", "0",
		"--keepalive", "--keepalive-params", "4:20s:2s", "--nodelay",
		"--trace", "/tmp/trace.bin", "--auth", "anonymous",
		"tcp://[::1]:55556",
	}

	var cfg *config.Shared
	var tCfg *config.Tunnel
	err := runWith(t, args, func(cmd *cli.Command) error {
		var err error
		cfg, err = BuildShared(cmd, cmd.Args().Get(0))
		if err != nil {
			return err
		}
		tCfg, err = BuildTunnel(cmd, cfg)
		return err
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cfg.Protocol != config.ProtoTCP || cfg.Host != "::1" || cfg.Port != 55556 || cfg.Family != "tcp6" {
		t.Errorf("shared = %+v", cfg)
	}
	if !cfg.Verbose || cfg.MetricsAddr != "127.0.0.1:9100" || cfg.Logger == nil {
		t.Errorf("shared ambient settings = %+v", cfg)
	}

	want := config.Tunnel{
		Timeouts:        config.Timeouts{Connect: 3 * time.Second, Operation: 0},
		Name:            "session",
		Auth:            "anonymous",
		Keepalive:       true,
		KeepaliveParams: &config.KeepaliveParams{Count: 4, Idle: 20 * time.Second, Interval: 2 * time.Second},
		NoDelay:         true,
		TraceFile:       "/tmp/trace.bin",
	}
	got := *tCfg
	if got.KeepaliveParams == nil || *got.KeepaliveParams != *want.KeepaliveParams {
		t.Fatalf("keepalive params = %+v, want %+v", got.KeepaliveParams, want.KeepaliveParams)
	}
	got.KeepaliveParams, want.KeepaliveParams = nil, nil
	if got != want {
		t.Errorf("tunnel = %+v, want %+v", got, want)
	}
}

func TestBuildTunnel_Defaults(t *testing.T) {
	t.Parallel()

	var tCfg *config.Tunnel
	err := runWith(t, nil, func(cmd *cli.Command) error {
		var err error
		tCfg, err = BuildTunnel(cmd, &config.Shared{})
		return err
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if tCfg.Name != "remotebus" || tCfg.Connect != 10*time.Second || tCfg.Operation != 10*time.Second {
		t.Errorf("defaults = %+v", tCfg)
	}
	if tCfg.KeepaliveParams != nil {
		t.Errorf("keepalive params = %+v, want nil", tCfg.KeepaliveParams)
	}
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		fn   func(cmd *cli.Command) error
	}{
		{"bad transport", []string{"http://x:1"}, func(cmd *cli.Command) error {
			_, err := BuildShared(cmd, cmd.Args().Get(0))
			return err
		}},
		{"bad keepalive params", []string{"--keepalive-params", "3"}, func(cmd *cli.Command) error {
			_, err := BuildTunnel(cmd, &config.Shared{})
			return err
		}},
		{"bad target", []string{"--target", "udp://x:1"}, func(cmd *cli.Command) error {
			_, err := BuildGateway(cmd)
			return err
		}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := runWith(t, tc.args, tc.fn); err == nil {
				t.Error("Run() error = nil, want build failure")
			}
		})
	}
}

func TestBuildGateway(t *testing.T) {
	t.Parallel()

	var gCfg *config.Gateway
	err := runWith(t, []string{"--target", "tcp://127.0.0.1:55556", "--max-links", "2", "--queue-timeout", "1s"}, func(cmd *cli.Command) error {
		var err error
		gCfg, err = BuildGateway(cmd)
		return err
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := config.Gateway{TargetNetwork: "tcp", TargetAddress: "127.0.0.1:55556", MaxLinks: 2, QueueTimeout: time.Second, DialRetries: 3}
	if *gCfg != want {
		t.Errorf("gateway = %+v, want %+v", *gCfg, want)
	}
}

func TestValidateConfigs(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := log.NewLoggerTo(&buf, false)

	if err := ValidateConfigs(logger, &config.Tunnel{Name: "ok"}); err != nil {
		t.Errorf("ValidateConfigs() error = %v, want nil", err)
	}

	if err := ValidateConfigs(logger, &config.Tunnel{}); err == nil {
		t.Fatal("ValidateConfigs() error = nil, want failure")
	}
	if !strings.Contains(buf.String(), "binding name must not be empty") {
		t.Errorf("log = %q, want the validation error", buf.String())
	}
}
