// Package metrics exposes Prometheus collectors for tunnels, wrapped
// operations and gateway links.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay directions used as the "direction" label of RelayedBytes.
const (
	DirToRemote = "to_remote"
	DirToLocal  = "to_local"
)

// Operation results used as the "result" label of Operations.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

var (
	ActiveTunnels        = promauto.NewGauge(prometheus.GaugeOpts{Name: "remotebus_active_tunnels", Help: "Tunnels with a connected remote link"})
	TunnelOpenedTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "remotebus_tunnel_opened_total", Help: "Remote links established"})
	TunnelClosedTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "remotebus_tunnel_closed_total", Help: "Remote links torn down after being established"})
	ErrorsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "remotebus_errors_total", Help: "Errors by type"}, []string{"type"})
	RelayedBytes         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "remotebus_relayed_bytes_total", Help: "Bytes relayed between relay peer and remote"}, []string{"direction"})
	Operations           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "remotebus_operations_total", Help: "Wrapped operations by result"}, []string{"result"})
	OperationDuration    = promauto.NewHistogram(prometheus.HistogramOpts{Name: "remotebus_operation_duration_seconds", Help: "Wrapped operation duration seconds", Buckets: prometheus.ExponentialBuckets(0.001, 2, 16)})
	GatewayActiveLinks   = promauto.NewGauge(prometheus.GaugeOpts{Name: "remotebus_gateway_active_links", Help: "Tunnel links currently bridged by the gateway"})
	GatewayBytes         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "remotebus_gateway_bytes_total", Help: "Bytes bridged by the gateway"}, []string{"direction"})
	GatewayDialRetries   = promauto.NewCounter(prometheus.CounterOpts{Name: "remotebus_gateway_dial_retries_total", Help: "Daemon dials retried after a failure"})
	GatewayRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "remotebus_gateway_rejected_total", Help: "Tunnel links rejected because the link limit was reached"})
)
