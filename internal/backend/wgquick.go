package backend

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/metrics"
	"grimm.is/wgtunnel/internal/wgconf"
)

const kernelVersionCommand = "cat /sys/module/wireguard/version"

type runningTunnel struct {
	tunnel Tunnel
	config *wgconf.Config
}

// WgQuickBackend drives the kernel implementation with wg-quick through the
// privileged shell. Unless multiple tunnels are enabled, bringing a tunnel
// up first brings every other running tunnel down.
type WgQuickBackend struct {
	shell   Shell
	tools   ToolsInstaller
	tempDir string
	logger  *logging.Logger
	metrics *metrics.Registry

	mu              sync.Mutex
	running         map[string]runningTunnel
	multipleTunnels bool
}

// NewWgQuickBackend returns a backend writing temporary configs to tempDir.
func NewWgQuickBackend(shell Shell, tools ToolsInstaller, tempDir string, logger *logging.Logger) *WgQuickBackend {
	if logger == nil {
		logger = logging.WithComponent("wgquick")
	}
	return &WgQuickBackend{
		shell:   shell,
		tools:   tools,
		tempDir: tempDir,
		logger:  logger,
		metrics: metrics.Get(),
		running: make(map[string]runningTunnel),
	}
}

// Kind implements Backend.
func (b *WgQuickBackend) Kind() string { return "wg-quick" }

// SetMultipleTunnels allows more than one tunnel to be up at a time.
func (b *WgQuickBackend) SetMultipleTunnels(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.multipleTunnels = on
}

// GetRunningTunnelNames lists interfaces known to wg. Failures yield an
// empty list.
func (b *WgQuickBackend) GetRunningTunnelNames(ctx context.Context) ([]string, error) {
	var output []string
	code, err := b.shell.Run(ctx, &output, "wg show interfaces")
	if err != nil || code != 0 || len(output) == 0 {
		if err != nil {
			b.logger.Debug("Unable to list running tunnels", "error", err)
		}
		return []string{}, nil
	}
	names := strings.Fields(output[0])
	slices.Sort(names)
	return names, nil
}

// GetState implements Backend.
func (b *WgQuickBackend) GetState(ctx context.Context, tunnel Tunnel) (State, error) {
	names, err := b.GetRunningTunnelNames(ctx)
	if err != nil {
		return StateDown, err
	}
	return StateOf(slices.Contains(names, tunnel.Name())), nil
}

// GetStatistics implements Backend.
func (b *WgQuickBackend) GetStatistics(ctx context.Context, tunnel Tunnel) (*Statistics, error) {
	var output []string
	code, err := b.shell.Run(ctx, &output, fmt.Sprintf("wg show '%s' dump", tunnel.Name()))
	if err != nil || code != 0 {
		b.metrics.StatsQueries.WithLabelValues(b.Kind(), "unavailable").Inc()
		return NewStatistics(), nil
	}
	b.metrics.StatsQueries.WithLabelValues(b.Kind(), "success").Inc()
	return ParseWgDump(output), nil
}

// GetVersion returns the kernel module version.
func (b *WgQuickBackend) GetVersion(ctx context.Context) (string, error) {
	var output []string
	code, err := b.shell.Run(ctx, &output, kernelVersionCommand)
	if err != nil || code != 0 || len(output) == 0 {
		return "", newError(ReasonUnknownKernelModule, err)
	}
	return output[0], nil
}

// SetState implements Backend.
func (b *WgQuickBackend) SetState(ctx context.Context, tunnel Tunnel, state State, cfg *wgconf.Config) (State, error) {
	if err := ValidateName(tunnel.Name()); err != nil {
		return StateDown, err
	}
	originalState, err := b.GetState(ctx, tunnel)
	if err != nil {
		return originalState, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	original, hadConfig := b.running[tunnel.Name()]
	snapshot := maps.Clone(b.running)
	state = state.resolve(originalState)

	if state == StateUp && originalState == StateUp && hadConfig && original.config.Equal(cfg) {
		return originalState, nil
	}
	if state == StateDown && originalState == StateDown {
		return originalState, nil
	}

	switch state {
	case StateUp:
		if cfg == nil {
			return originalState, newError(ReasonMissingConfig, nil)
		}
		if b.tools != nil {
			if err := b.tools.EnsureToolsAvailable(ctx); err != nil {
				return originalState, err
			}
		}
		exclusive := !b.multipleTunnels && originalState == StateDown
		if exclusive {
			delete(snapshot, tunnel.Name())
			if err := b.bringOthersDown(ctx, snapshot); err != nil {
				return originalState, err
			}
		}
		if originalState == StateUp {
			downCfg := cfg
			if hadConfig {
				downCfg = original.config
			}
			if err := b.setStateInternal(ctx, tunnel, downCfg, StateDown); err != nil {
				return originalState, err
			}
		}
		if err := b.setStateInternal(ctx, tunnel, cfg, StateUp); err != nil {
			b.restore(ctx, tunnel, original, hadConfig && originalState == StateUp, exclusive, snapshot)
			return originalState, err
		}
	case StateDown:
		downCfg := cfg
		if hadConfig {
			downCfg = original.config
		}
		if downCfg == nil {
			return originalState, newError(ReasonMissingConfig, nil)
		}
		if err := b.setStateInternal(ctx, tunnel, downCfg, StateDown); err != nil {
			return originalState, err
		}
	}
	return state, nil
}

// bringOthersDown stops every tunnel in snapshot. If one fails, the ones
// already stopped are started again and the failure is returned.
func (b *WgQuickBackend) bringOthersDown(ctx context.Context, snapshot map[string]runningTunnel) error {
	var rewind []runningTunnel
	for _, name := range slices.Sorted(maps.Keys(snapshot)) {
		rt := snapshot[name]
		if err := b.setStateInternal(ctx, rt.tunnel, rt.config, StateDown); err != nil {
			for _, r := range rewind {
				rbErr := b.setStateInternal(ctx, r.tunnel, r.config, StateUp)
				b.metrics.RecordRollback(b.Kind(), rbErr)
				if rbErr != nil {
					b.logger.Error("Failed to restore tunnel", "tunnel", r.tunnel.Name(), "error", rbErr)
				}
			}
			return err
		}
		rewind = append(rewind, rt)
	}
	return nil
}

// restore undoes a failed activation: the target's previous config is
// re-applied if it was up, then every tunnel stopped for exclusivity is
// started again. Failures are logged and do not stop the remaining steps.
func (b *WgQuickBackend) restore(ctx context.Context, tunnel Tunnel, original runningTunnel, targetWasUp, exclusive bool, snapshot map[string]runningTunnel) {
	if targetWasUp {
		err := b.setStateInternal(ctx, tunnel, original.config, StateUp)
		b.metrics.RecordRollback(b.Kind(), err)
		if err != nil {
			b.logger.Error("Failed to restore previous configuration", "tunnel", tunnel.Name(), "error", err)
		}
	}
	if !exclusive {
		return
	}
	for _, name := range slices.Sorted(maps.Keys(snapshot)) {
		rt := snapshot[name]
		err := b.setStateInternal(ctx, rt.tunnel, rt.config, StateUp)
		b.metrics.RecordRollback(b.Kind(), err)
		if err != nil {
			b.logger.Error("Failed to restore tunnel", "tunnel", name, "error", err)
		}
	}
}

func (b *WgQuickBackend) setStateInternal(ctx context.Context, tunnel Tunnel, cfg *wgconf.Config, state State) error {
	if cfg == nil {
		return newError(ReasonMissingConfig, nil)
	}
	b.logger.Info("Bringing tunnel "+state.String(), "tunnel", tunnel.Name())

	if err := os.MkdirAll(b.tempDir, 0o700); err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	path := filepath.Join(b.tempDir, tunnel.Name()+".conf")
	if err := os.WriteFile(path, []byte(cfg.WgQuickString()), 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config: %w", err)
	}
	command := fmt.Sprintf("wg-quick %s '%s'", state, path)
	if state == StateUp {
		command = kernelVersionCommand + " && " + command
	}
	code, err := b.shell.Run(ctx, nil, command)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		b.logger.Warn("Failed to remove temporary config", "path", path, "error", rmErr)
	}
	if err == nil && code != 0 {
		err = newError(ReasonToolConfigError, nil, code)
	}
	b.metrics.RecordTransition(b.Kind(), state.String(), err)
	if err != nil {
		return err
	}

	if state == StateUp {
		b.running[tunnel.Name()] = runningTunnel{tunnel: tunnel, config: cfg}
	} else {
		delete(b.running, tunnel.Name())
	}
	b.metrics.TunnelsUp.WithLabelValues(b.Kind()).Set(float64(len(b.running)))
	tunnel.OnStateChange(state)
	return nil
}
