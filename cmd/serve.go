package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/health"
	"grimm.is/wgtunnel/internal/metrics"
	"grimm.is/wgtunnel/internal/state"
	"grimm.is/wgtunnel/internal/tunnel"
)

// RunServe keeps the tunnel stack running: saved tunnels are restored when
// restore_on_boot is set, engine sessions are watched, and metrics and
// health endpoints are served when configured. SIGHUP re-reads tunnel
// states; SIGINT and SIGTERM save the running set and exit. Engine
// tunnels are brought down on exit and come back on the next start.
func RunServe(configFile string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.Logger.WithComponent("serve")

	if eb, ok := app.Backend.(*backend.EngineBackend); ok {
		go eb.Watch(ctx)
	}
	if err := app.Manager.RestoreState(ctx, false); err != nil {
		logger.Error("Failed to restore tunnels", "error", err)
	}

	var srv *http.Server
	var collector *metrics.Collector
	if cfg.Metrics != nil {
		collector = metrics.NewCollector(app.Manager, logger, cfg.MetricsInterval())
		go collector.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/tunnels", tunnelsHandler(app.Manager))
		checker := newHealthChecker(app.Backend, app.Running, app.Config.MetricsInterval())
		mux.Handle("/healthz", checker.Handler())
		mux.Handle("/readyz", checker.ReadinessHandler())
		mux.Handle("/livez", health.LivenessHandler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", "listen", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("Refreshing tunnel states")
			if err := app.Manager.RefreshTunnelStates(ctx); err != nil {
				logger.Warn("Failed to refresh tunnel states", "error", err)
			}
			continue
		}
		logger.Info("Shutting down", "signal", sig.String())
		break
	}

	if collector != nil {
		collector.Stop()
	}
	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutdownCtx)
		stop()
	}
	return app.Manager.Shutdown(context.Background(), app.IsEngine())
}

// newHealthChecker registers the checks served on /healthz. Tunnel states
// are read from the backend directly so probes never record a state.
func newHealthChecker(b backend.Backend, running *state.RunningTunnels, ttl time.Duration) *health.Checker {
	checker := health.NewChecker(ttl)
	checker.Register("backend", health.BackendCheck(b))
	checker.Register("state", health.StoreCheck(func() error {
		_, err := running.Load()
		return err
	}))
	checker.Register("tunnels", health.DriftCheck(running.Names, func(ctx context.Context, name string) bool {
		st, err := b.GetState(ctx, &backend.NamedTunnel{TunnelName: name})
		return err == nil && st == backend.StateUp
	}))
	return checker
}

type tunnelStatus struct {
	Name    string     `json:"name"`
	State   string     `json:"state"`
	UpSince *time.Time `json:"up_since,omitempty"`
	RxBytes int64      `json:"rx_bytes"`
	TxBytes int64      `json:"tx_bytes"`
}

// tunnelsHandler reports every tunnel as JSON.
func tunnelsHandler(m *tunnel.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var out []tunnelStatus
		for _, t := range m.Tunnels() {
			ts := tunnelStatus{Name: t.Name(), State: t.State().String()}
			if t.State() == backend.StateUp {
				since := t.UpSince()
				ts.UpSince = &since
				if stats, err := m.GetTunnelStatistics(r.Context(), t.Name()); err == nil {
					ts.RxBytes, ts.TxBytes = stats.TotalRx(), stats.TotalTx()
				}
			}
			out = append(out, ts)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
}
