package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all tunnel metrics.
type Registry struct {
	// Privileged shell
	ShellStarts          *prometheus.CounterVec
	ShellCommands        *prometheus.CounterVec
	ShellCommandDuration prometheus.Histogram

	// Backend transitions
	TunnelTransitions *prometheus.CounterVec
	TunnelRollbacks   *prometheus.CounterVec
	TunnelsUp         *prometheus.GaugeVec
	EndpointLookups   *prometheus.CounterVec

	// Traffic
	PeerRxBytes       *prometheus.GaugeVec
	PeerTxBytes       *prometheus.GaugeVec
	PeerLastHandshake *prometheus.GaugeVec
	StatsQueries      *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.ShellStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_shell_starts_total",
		Help: "Privileged shell start attempts by result",
	}, []string{"result"})

	r.ShellCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_shell_commands_total",
		Help: "Commands run through the privileged shell by outcome",
	}, []string{"outcome"})

	r.ShellCommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wgtunnel_shell_command_duration_seconds",
		Help:    "Wall time of privileged shell commands",
		Buckets: prometheus.DefBuckets,
	})

	r.TunnelTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_transitions_total",
		Help: "Tunnel state transitions by backend, direction and result",
	}, []string{"backend", "direction", "result"})

	r.TunnelRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_rollbacks_total",
		Help: "Rollback attempts after a failed activation",
	}, []string{"backend", "result"})

	r.TunnelsUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgtunnel_tunnels_up",
		Help: "Number of tunnels currently up",
	}, []string{"backend"})

	r.EndpointLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_endpoint_lookups_total",
		Help: "Peer endpoint DNS lookups by result",
	}, []string{"result"})

	r.PeerRxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgtunnel_peer_rx_bytes",
		Help: "Bytes received from a peer",
	}, []string{"tunnel", "peer"})

	r.PeerTxBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgtunnel_peer_tx_bytes",
		Help: "Bytes sent to a peer",
	}, []string{"tunnel", "peer"})

	r.PeerLastHandshake = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgtunnel_peer_last_handshake_seconds",
		Help: "Unix time of the latest handshake with a peer",
	}, []string{"tunnel", "peer"})

	r.StatsQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wgtunnel_stats_queries_total",
		Help: "Statistics queries by backend and result",
	}, []string{"backend", "result"})

	return r
}

// RecordShellCommand records one command and its exit code. A negative code
// means the protocol failed and no exit code was recovered.
func (r *Registry) RecordShellCommand(code int, duration time.Duration) {
	r.ShellCommands.WithLabelValues(outcome(code)).Inc()
	r.ShellCommandDuration.Observe(duration.Seconds())
}

// RecordTransition records a state change attempt.
func (r *Registry) RecordTransition(backend, direction string, err error) {
	r.TunnelTransitions.WithLabelValues(backend, direction, resultString(err)).Inc()
}

// RecordRollback records a rollback attempt.
func (r *Registry) RecordRollback(backend string, err error) {
	r.TunnelRollbacks.WithLabelValues(backend, resultString(err)).Inc()
}

// RecordPeer updates the traffic gauges for one peer.
func (r *Registry) RecordPeer(tunnel, peer string, rx, tx int64, handshake time.Time) {
	r.PeerRxBytes.WithLabelValues(tunnel, peer).Set(float64(rx))
	r.PeerTxBytes.WithLabelValues(tunnel, peer).Set(float64(tx))
	if !handshake.IsZero() {
		r.PeerLastHandshake.WithLabelValues(tunnel, peer).Set(float64(handshake.Unix()))
	}
}

func (r *Registry) forgetPeer(tunnel, peer string) {
	r.PeerRxBytes.DeleteLabelValues(tunnel, peer)
	r.PeerTxBytes.DeleteLabelValues(tunnel, peer)
	r.PeerLastHandshake.DeleteLabelValues(tunnel, peer)
}

func outcome(code int) string {
	switch {
	case code < 0:
		return "protocol_error"
	case code == 0:
		return "ok"
	default:
		return "exit_" + strconv.Itoa(code)
	}
}

func resultString(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
