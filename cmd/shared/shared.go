// Package shared provides common CLI flag definitions and utility functions
// used across remotebus's command-line interface.
package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"dominicbreuker/remotebus/pkg/config"
	"dominicbreuker/remotebus/pkg/log"
)

const categoryCommon = "common"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// MetricsFlag is the name of the flag to serve Prometheus metrics.
const MetricsFlag = "metrics"

// GetBaseDescription returns the base description text for transport
// specifications used in CLI commands.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify transport like this: tcp://127.0.0.1:55556 (supports tcp|ws|udp)",
		"tcp reaches a D-Bus daemon directly, ws and udp need a remotebus gateway on the remote side.",
	}, "\n")
}

// GetCommonFlags returns the flags every command accepts.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
		},
		&cli.StringFlag{
			Name:     MetricsFlag,
			Usage:    "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9100",
			Category: categoryCommon,
			Value:    "",
		},
	}
}

const categoryTunnel = "tunnel"

// NameFlag is the name of the flag for the binding name.
const NameFlag = "name"

// FamilyFlag is the name of the flag for the address family hint.
const FamilyFlag = "family"

// ConnectTimeoutFlag is the name of the flag bounding connect and disconnect attempts.
const ConnectTimeoutFlag = "connect-timeout"

// OperationTimeoutFlag is the name of the flag bounding each bus operation.
const OperationTimeoutFlag = "op-timeout"

// KeepaliveFlag is the name of the flag enabling TCP keepalive on the remote link.
const KeepaliveFlag = "keepalive"

// KeepaliveParamsFlag is the name of the flag tuning TCP keepalive.
const KeepaliveParamsFlag = "keepalive-params"

// NoDelayFlag is the name of the flag disabling Nagle's algorithm on the remote link.
const NoDelayFlag = "nodelay"

// TraceFlag is the name of the flag to record relayed bytes in a file.
const TraceFlag = "trace"

// AuthFlag is the name of the flag selecting D-Bus authentication.
const AuthFlag = "auth"

// GetTunnelFlags returns the flags of commands that open a tunnel.
func GetTunnelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     NameFlag,
			Usage:    "Unique name of the bus connection",
			Category: categoryTunnel,
			Value:    "remotebus",
		},
		&cli.StringFlag{
			Name:     FamilyFlag,
			Usage:    "Address family for tcp transports: tcp, tcp4 or tcp6",
			Category: categoryTunnel,
			Value:    "",
		},
		&cli.DurationFlag{
			Name:     ConnectTimeoutFlag,
			Usage:    "Connect and disconnect timeout, 0 disables it",
			Category: categoryTunnel,
			Value:    10 * time.Second,
		},
		&cli.DurationFlag{
			Name:     OperationTimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Timeout of each bus operation, 0 disables it",
			Category: categoryTunnel,
			Value:    10 * time.Second,
		},
		&cli.BoolFlag{
			Name:     KeepaliveFlag,
			Usage:    "Enable TCP keepalive on the remote link",
			Category: categoryTunnel,
			Value:    false,
		},
		&cli.StringFlag{
			Name:     KeepaliveParamsFlag,
			Usage:    "Keepalive tuning <count>:<idle>:<interval>, e.g. 3:30s:5s (Linux only)",
			Category: categoryTunnel,
			Value:    "",
		},
		&cli.BoolFlag{
			Name:     NoDelayFlag,
			Usage:    "Disable Nagle's algorithm on the remote link",
			Category: categoryTunnel,
			Value:    false,
		},
		&cli.StringFlag{
			Name:     TraceFlag,
			Aliases:  []string{"l"},
			Usage:    "Append all relayed bytes to this file",
			Category: categoryTunnel,
			Value:    "",
		},
		&cli.StringFlag{
			Name:     AuthFlag,
			Usage:    "D-Bus authentication: default, anonymous or external",
			Category: categoryTunnel,
			Value:    "default",
		},
	}
}

const categoryGateway = "gateway"

// TargetFlag is the name of the flag naming the daemon socket.
const TargetFlag = "target"

// MaxLinksFlag is the name of the flag limiting concurrent links.
const MaxLinksFlag = "max-links"

// QueueTimeoutFlag is the name of the flag for waiting on a free link slot.
const QueueTimeoutFlag = "queue-timeout"

// DialRetriesFlag is the name of the flag for retrying the daemon dial.
const DialRetriesFlag = "dial-retries"

// GetGatewayFlags returns the flags of the gateway command.
func GetGatewayFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     TargetFlag,
			Usage:    "Daemon socket: tcp://host:port or unix:///path",
			Category: categoryGateway,
			Value:    "unix:///run/dbus/system_bus_socket",
		},
		&cli.IntFlag{
			Name:     MaxLinksFlag,
			Usage:    "Maximum number of concurrent links",
			Category: categoryGateway,
			Value:    16,
		},
		&cli.DurationFlag{
			Name:     QueueTimeoutFlag,
			Usage:    "How long a link waits for a free slot, 0 rejects at once",
			Category: categoryGateway,
			Value:    0,
		},
		&cli.IntFlag{
			Name:     DialRetriesFlag,
			Usage:    "Retries with backoff when the daemon socket refuses a link",
			Category: categoryGateway,
			Value:    3,
		},
	}
}

// BuildShared builds the endpoint configuration from a transport argument
// and the common flags.
func BuildShared(cmd *cli.Command, transport string) (*config.Shared, error) {
	proto, host, port, err := ParseTransport(transport)
	if err != nil {
		return nil, fmt.Errorf("parsing transport: %w", err)
	}

	verbose := cmd.Bool(VerboseFlag)
	return &config.Shared{
		Protocol:    proto,
		Host:        host,
		Port:        port,
		Verbose:     verbose,
		MetricsAddr: cmd.String(MetricsFlag),
		Logger:      log.NewLogger(verbose),
	}, nil
}

// BuildTunnel builds the tunnel configuration from the tunnel flags and
// sets the address family hint on cfg.
func BuildTunnel(cmd *cli.Command, cfg *config.Shared) (*config.Tunnel, error) {
	cfg.Family = cmd.String(FamilyFlag)

	tCfg := &config.Tunnel{
		Timeouts: config.Timeouts{
			Connect:   cmd.Duration(ConnectTimeoutFlag),
			Operation: cmd.Duration(OperationTimeoutFlag),
		},
		Name:      cmd.String(NameFlag),
		Auth:      cmd.String(AuthFlag),
		Keepalive: cmd.Bool(KeepaliveFlag),
		NoDelay:   cmd.Bool(NoDelayFlag),
		TraceFile: cmd.String(TraceFlag),
	}

	if spec := cmd.String(KeepaliveParamsFlag); spec != "" {
		p, err := ParseKeepaliveParams(spec)
		if err != nil {
			return nil, err
		}
		tCfg.KeepaliveParams = p
	}

	return tCfg, nil
}

// BuildGateway builds the gateway configuration from the gateway flags.
func BuildGateway(cmd *cli.Command) (*config.Gateway, error) {
	gCfg := &config.Gateway{
		MaxLinks:     int(cmd.Int(MaxLinksFlag)),
		QueueTimeout: cmd.Duration(QueueTimeoutFlag),
		DialRetries:  int(cmd.Int(DialRetriesFlag)),
	}
	if err := gCfg.ParseTarget(cmd.String(TargetFlag)); err != nil {
		return nil, err
	}
	return gCfg, nil
}

// ValidateConfigs logs every validation error and returns an error if
// there was any.
func ValidateConfigs(logger *log.Logger, cfgs ...config.ValidatableConfig) error {
	errors := config.Validate(cfgs...)
	if len(errors) == 0 {
		return nil
	}

	logger.ErrorMsg("Argument validation errors:")
	for _, err := range errors {
		logger.ErrorMsg(" - %s", err)
	}
	return fmt.Errorf("exiting")
}
