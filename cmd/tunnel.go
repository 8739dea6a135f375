package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/config"
)

// RunSetState brings a tunnel up, down or toggles it. With the embedded
// engine the tunnel only lives as long as this process, so an activated
// tunnel is held until interrupted.
func RunSetState(configFile, name string, want backend.State) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()

	lost := make(chan struct{}, 1)
	app, err := NewApp(ctx, cfg, AppOptions{OnStateChange: func(n string, st backend.State) {
		if n == name && st == backend.StateDown {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	}})
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Manager.SetTunnelState(ctx, name, want)
	if err != nil {
		return fmt.Errorf("failed to bring %s %s: %w", name, want, err)
	}
	Printer.Printf("%s is %s\n", name, st)

	if !app.IsEngine() || st != backend.StateUp {
		return nil
	}
	// Drain the notifications from the transition itself.
	select {
	case <-lost:
	default:
	}
	return holdEngine(ctx, app, name, lost)
}

func holdEngine(ctx context.Context, app *App, name string, lost <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if eb, ok := app.Backend.(*backend.EngineBackend); ok {
		go eb.Watch(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	Printer.Printf("Holding %s; interrupt to bring it down\n", name)
	select {
	case <-sigCh:
		_, err := app.Manager.SetTunnelState(context.Background(), name, backend.StateDown)
		return err
	case <-lost:
		return fmt.Errorf("%s went down: host session lost", name)
	}
}

// RunStatus lists the configured tunnels and their state.
func RunStatus(configFile string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	tunnels := app.Manager.Tunnels()
	if len(tunnels) == 0 {
		Printer.Printf("No tunnels in %s\n", cfg.ConfigDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	Printer.Fprintf(w, "TUNNEL\tSTATE\tUPTIME\tRX\tTX\n")
	for _, t := range tunnels {
		uptime, rx, tx := "-", "-", "-"
		if t.State() == backend.StateUp {
			if since := t.UpSince(); !since.IsZero() {
				uptime = clock.Since(since).Truncate(time.Second).String()
			}
			if stats, err := app.Manager.GetTunnelStatistics(ctx, t.Name()); err == nil {
				rx = Printer.Sprintf("%d", stats.TotalRx())
				tx = Printer.Sprintf("%d", stats.TotalTx())
			}
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Name(), t.State(), uptime, rx, tx)
	}
	w.Flush()

	if last := app.Manager.LastUsed(); last != nil {
		Printer.Printf("\nLast used: %s\n", last.Name())
	}
	Printer.Printf("Backend:   %s\n", app.Backend.Kind())
	return nil
}

// RunStats prints per-peer traffic of a running tunnel.
func RunStats(configFile, name string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.Manager.GetTunnelStatistics(ctx, name)
	if err != nil {
		return err
	}
	peers := stats.Peers()
	if len(peers) == 0 {
		Printer.Printf("%s: no peer statistics (tunnel down?)\n", name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	Printer.Fprintf(w, "PEER\tRX\tTX\tHANDSHAKE\t\n")
	for _, key := range peers {
		p := stats.Peer(key)
		handshake := "never"
		if !p.LatestHandshake.IsZero() {
			handshake = clock.Since(p.LatestHandshake).Truncate(time.Second).String() + " ago"
		}
		Printer.Fprintf(w, "%s\t%d\t%d\t%s\t\n", key.Base64(), p.RxBytes, p.TxBytes, handshake)
	}
	Printer.Fprintf(w, "total\t%d\t%d\t\t\n", stats.TotalRx(), stats.TotalTx())
	return w.Flush()
}

// RunShow prints the stored configuration of a tunnel, either in wg-quick
// format or as engine settings.
func RunShow(configFile, name string, userspace bool) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	app, err := NewApp(context.Background(), cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	tc, err := app.Manager.Config(name)
	if err != nil {
		return err
	}
	if userspace {
		fmt.Print(tc.UserspaceString())
	} else {
		fmt.Print(tc.WgQuickString())
	}
	return nil
}

// RunRestore brings up the tunnels that were running when state was last
// saved, regardless of restore_on_boot.
func RunRestore(configFile string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := NewApp(ctx, cfg, AppOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	if app.IsEngine() {
		return fmt.Errorf("restore needs the %s backend; run serve to restore engine tunnels", config.BackendWgQuick)
	}
	if err := app.Manager.RestoreState(ctx, true); err != nil {
		return err
	}
	for _, t := range app.Manager.Tunnels() {
		if t.State() == backend.StateUp {
			Printer.Printf("%s is up\n", t.Name())
		}
	}
	return nil
}
