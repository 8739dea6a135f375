package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/engine"
	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/metrics"
	"grimm.is/wgtunnel/internal/platform"
	"grimm.is/wgtunnel/internal/wgconf"

	"golang.org/x/sys/unix"
)

const (
	defaultMTU          = 1280
	serviceStartTimeout = 2 * time.Second
	resolveAttempts     = 10
	resolveDelay        = time.Second
	noHandle            = -1
)

// EngineBackend runs the userspace engine in-process on a device created by
// the host platform. At most one tunnel is active at a time.
type EngineBackend struct {
	engine   engine.Engine
	platform platform.Platform
	actions  ActionHandler
	resolver wgconf.Resolver
	logger   *logging.Logger
	metrics  *metrics.Registry

	mu            sync.Mutex
	current       Tunnel
	currentConfig *wgconf.Config
	handle        int
}

// NewEngineBackend wires an engine to a host platform. actions may be nil.
func NewEngineBackend(eng engine.Engine, plat platform.Platform, actions ActionHandler, resolver wgconf.Resolver, logger *logging.Logger) *EngineBackend {
	if actions == nil {
		actions = NoopActionHandler{}
	}
	if resolver == nil {
		resolver = wgconf.NewDNSResolver()
	}
	if logger == nil {
		logger = logging.WithComponent("engine-backend")
	}
	return &EngineBackend{
		engine:   eng,
		platform: plat,
		actions:  actions,
		resolver: resolver,
		logger:   logger,
		metrics:  metrics.Get(),
		handle:   noHandle,
	}
}

// Kind implements Backend.
func (b *EngineBackend) Kind() string { return "engine" }

// GetRunningTunnelNames implements Backend.
func (b *EngineBackend) GetRunningTunnelNames(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return []string{}, nil
	}
	return []string{b.current.Name()}, nil
}

// GetState implements Backend.
func (b *EngineBackend) GetState(_ context.Context, tunnel Tunnel) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateOf(tunnel), nil
}

func (b *EngineBackend) stateOf(tunnel Tunnel) State {
	return StateOf(b.current != nil && b.current.Name() == tunnel.Name())
}

// GetStatistics implements Backend.
func (b *EngineBackend) GetStatistics(_ context.Context, tunnel Tunnel) (*Statistics, error) {
	b.mu.Lock()
	handle := noHandle
	if b.stateOf(tunnel) == StateUp {
		handle = b.handle
	}
	b.mu.Unlock()

	if handle == noHandle {
		return NewStatistics(), nil
	}
	dump, err := b.engine.QueryConfig(handle)
	if err != nil {
		b.metrics.StatsQueries.WithLabelValues(b.Kind(), "unavailable").Inc()
		b.logger.Debug("Unable to query engine", "tunnel", tunnel.Name(), "error", err)
		return NewStatistics(), nil
	}
	b.metrics.StatsQueries.WithLabelValues(b.Kind(), "success").Inc()
	return ParseUserspaceDump(dump), nil
}

// GetVersion implements Backend.
func (b *EngineBackend) GetVersion(context.Context) (string, error) {
	return b.engine.Version(), nil
}

// SetState implements Backend. When another tunnel is active it is brought
// down first and brought back up if the new tunnel fails to start.
func (b *EngineBackend) SetState(ctx context.Context, tunnel Tunnel, state State, cfg *wgconf.Config) (State, error) {
	if err := ValidateName(tunnel.Name()); err != nil {
		return StateDown, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	originalState := b.stateOf(tunnel)
	state = state.resolve(originalState)
	if state == StateUp && originalState == StateUp && b.currentConfig.Equal(cfg) {
		return originalState, nil
	}
	if state == StateDown && originalState == StateDown {
		return originalState, nil
	}
	if state == StateUp && cfg == nil {
		return originalState, newError(ReasonMissingConfig, nil)
	}

	b.logger.Info("Changing tunnel state", "tunnel", tunnel.Name(), "state", state)
	if state == StateDown {
		if err := b.setStateInternal(ctx, tunnel, nil, StateDown); err != nil {
			return originalState, err
		}
		return StateDown, nil
	}

	previous, previousConfig := b.current, b.currentConfig
	if previous != nil {
		if err := b.setStateInternal(ctx, previous, previousConfig, StateDown); err != nil {
			return originalState, err
		}
	}
	if err := b.setStateInternal(ctx, tunnel, cfg, StateUp); err != nil {
		if previous != nil {
			rbErr := b.setStateInternal(ctx, previous, previousConfig, StateUp)
			b.metrics.RecordRollback(b.Kind(), rbErr)
			if rbErr != nil {
				b.logger.Error("Failed to restore previous tunnel", "tunnel", previous.Name(), "error", rbErr)
			}
		}
		return originalState, err
	}
	return StateUp, nil
}

func (b *EngineBackend) setStateInternal(ctx context.Context, tunnel Tunnel, cfg *wgconf.Config, state State) error {
	var err error
	if state == StateUp {
		err = b.up(ctx, tunnel, cfg)
	} else {
		err = b.down(ctx, tunnel)
	}
	b.metrics.RecordTransition(b.Kind(), state.String(), err)
	return err
}

func (b *EngineBackend) up(ctx context.Context, tunnel Tunnel, cfg *wgconf.Config) error {
	b.logger.Info("Bringing tunnel up", "tunnel", tunnel.Name())
	if cfg == nil {
		return newError(ReasonMissingConfig, nil)
	}
	if err := b.platform.Prepare(ctx); err != nil {
		return newError(ReasonNotAuthorized, err)
	}
	startCtx, cancel := context.WithTimeout(ctx, serviceStartTimeout)
	err := b.platform.Start(startCtx)
	cancel()
	if err != nil {
		return newError(ReasonServiceStartTimeout, err)
	}
	if b.handle != noHandle {
		b.logger.Warn("Tunnel already up", "tunnel", tunnel.Name())
		return nil
	}

	if err := b.resolveEndpoints(ctx, cfg); err != nil {
		return err
	}
	settings := cfg.UserspaceString()
	if mark := b.platform.FirewallMark(); mark != 0 {
		settings = fmt.Sprintf("fwmark=%d\n", mark) + settings
	}

	dev, err := b.platform.Establish(ctx, BuildSession(tunnel.Name(), cfg))
	if err != nil || dev == nil {
		return newError(ReasonTunCreation, err)
	}

	iface := cfg.Interface()
	b.actions.RunPreUp(ctx, iface.PreUp())
	b.logger.Debug("Activating engine", "tunnel", tunnel.Name(), "version", b.engine.Version())
	handle, err := b.engine.Activate(tunnel.Name(), dev, settings)
	if err == nil && handle < 0 {
		err = fmt.Errorf("engine returned handle %d", handle)
	}
	if err != nil {
		code := handle
		var aerr *engine.ActivationError
		if errors.As(err, &aerr) {
			code = aerr.Code
		}
		return newError(ReasonEngineActivation, err, code)
	}
	b.actions.RunPostUp(ctx, iface.PostUp())

	b.handle = handle
	b.current = tunnel
	b.currentConfig = cfg
	b.metrics.TunnelsUp.WithLabelValues(b.Kind()).Set(1)
	tunnel.OnStateChange(StateUp)
	return nil
}

func (b *EngineBackend) down(ctx context.Context, tunnel Tunnel) error {
	b.logger.Info("Bringing tunnel down", "tunnel", tunnel.Name())
	if b.handle == noHandle {
		b.logger.Warn("Tunnel already down", "tunnel", tunnel.Name())
		return nil
	}
	var iface *wgconf.Interface
	if b.currentConfig != nil {
		iface = b.currentConfig.Interface()
		b.actions.RunPreDown(ctx, iface.PreDown())
	}
	if err := b.engine.Deactivate(b.handle); err != nil {
		b.logger.Warn("Engine deactivation failed", "tunnel", tunnel.Name(), "error", err)
	}
	if iface != nil {
		b.actions.RunPostDown(ctx, iface.PostDown())
	}

	b.handle = noHandle
	b.current = nil
	b.currentConfig = nil
	b.metrics.TunnelsUp.WithLabelValues(b.Kind()).Set(0)
	tunnel.OnStateChange(StateDown)
	return nil
}

// resolveEndpoints fills every peer's resolution cache, retrying each peer a
// bounded number of times.
func (b *EngineBackend) resolveEndpoints(ctx context.Context, cfg *wgconf.Config) error {
	for _, peer := range cfg.Peers() {
		ep := peer.Endpoint()
		if ep == nil {
			continue
		}
		var err error
		for attempt := 1; attempt <= resolveAttempts; attempt++ {
			if _, err = ep.Resolve(ctx, b.resolver); err == nil {
				break
			}
			b.metrics.EndpointLookups.WithLabelValues("retry").Inc()
			b.logger.Debug("Endpoint resolution failed", "host", ep.Host(), "attempt", attempt, "error", err)
			if attempt < resolveAttempts {
				clock.Sleep(resolveDelay)
			}
		}
		if err != nil {
			b.metrics.EndpointLookups.WithLabelValues("failure").Inc()
			return newError(ReasonDNSResolution, err, ep.Host())
		}
		b.metrics.EndpointLookups.WithLabelValues("success").Inc()
	}
	return nil
}

// BuildSession describes the device for cfg. Unless the tunnel has a single
// peer routing everything, both address families may bypass it.
func BuildSession(name string, cfg *wgconf.Config) *platform.Session {
	iface := cfg.Interface()
	s := &platform.Session{
		Name:                 name,
		Addresses:            iface.Addresses(),
		DNSServers:           iface.DNSServers(),
		SearchDomains:        iface.DNSSearchDomains(),
		ExcludedApplications: iface.ExcludedApplications(),
		IncludedApplications: iface.IncludedApplications(),
		MTU:                  defaultMTU,
	}
	if mtu, ok := iface.MTU(); ok {
		s.MTU = mtu
	}
	peers := cfg.Peers()
	for _, p := range peers {
		s.Routes = append(s.Routes, p.AllowedIPs()...)
	}
	// Allowing a family lifts the restriction on it. A single full-tunnel
	// peer leaves both restricted, so only the families it carries pass.
	if len(peers) != 1 || !peers[0].HasDefaultRoute() {
		s.AllowFamily(unix.AF_INET)
		s.AllowFamily(unix.AF_INET6)
	}
	return s
}

// OnSessionLost deactivates the active tunnel when the host platform tore
// its device down. An empty name matches any tunnel.
func (b *EngineBackend) OnSessionLost(ctx context.Context, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || (name != "" && b.current.Name() != name) {
		return
	}
	b.logger.Warn("Host session lost, deactivating tunnel", "tunnel", b.current.Name())
	if err := b.setStateInternal(ctx, b.current, nil, StateDown); err != nil {
		b.logger.Error("Failed to deactivate tunnel", "error", err)
	}
}

// Watch handles session loss notifications until ctx is done.
func (b *EngineBackend) Watch(ctx context.Context) {
	lost := b.platform.SessionLost()
	for {
		select {
		case <-ctx.Done():
			return
		case name, ok := <-lost:
			if !ok {
				return
			}
			b.OnSessionLost(ctx, name)
		}
	}
}
