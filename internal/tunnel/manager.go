// Package tunnel mediates changes to the set of configured tunnels.
//
// A Manager owns one backend. Every call that changes tunnel state runs on a
// single worker goroutine in submission order, so backends never see two
// transitions at once. Statistics are served from a per-tunnel cache that is
// refreshed when stale; concurrent refreshes of one tunnel are collapsed.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/metrics"
	"grimm.is/wgtunnel/internal/state"
	"grimm.is/wgtunnel/internal/wgconf"
)

// Errors returned by the Manager.
var (
	ErrUnknownTunnel = errors.New("unknown tunnel")
	ErrTunnelExists  = errors.New("tunnel already exists")
	ErrClosed        = errors.New("tunnel manager is closed")
)

// Options configures a Manager.
type Options struct {
	// RestoreOnBoot makes RestoreState(ctx, false) bring saved tunnels up.
	RestoreOnBoot bool
	// Running persists the running set. Optional.
	Running *state.RunningTunnels
	Logger  *logging.Logger
	// OnStateChange is called after every state change of any tunnel.
	OnStateChange func(name string, st backend.State)
}

type task struct {
	fn   func(context.Context) error
	ctx  context.Context
	done chan error
}

// Manager tracks tunnels and serializes their state changes.
type Manager struct {
	backend backend.Backend
	configs ConfigStore
	running *state.RunningTunnels
	restore bool
	logger  *logging.Logger
	notify  func(string, backend.State)

	mu       sync.RWMutex
	tunnels  map[string]*Tunnel
	lastUsed *Tunnel
	loaded   bool
	// frozen stops the running set from being saved during Shutdown.
	frozen bool

	stats singleflight.Group

	tasks     chan task
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager starts a manager. Call Load before using it and Close when done.
func NewManager(b backend.Backend, configs ConfigStore, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("tunnel")
	}
	m := &Manager{
		backend: b,
		configs: configs,
		running: opts.Running,
		restore: opts.RestoreOnBoot,
		logger:  logger,
		notify:  opts.OnStateChange,
		tunnels: make(map[string]*Tunnel),
		tasks:   make(chan task),
		quit:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case t := <-m.tasks:
			t.done <- t.fn(t.ctx)
		case <-m.quit:
			return
		}
	}
}

// exec runs fn on the worker and waits for it.
func (m *Manager) exec(ctx context.Context, fn func(context.Context) error) error {
	t := task{fn: fn, ctx: ctx, done: make(chan error, 1)}
	select {
	case m.tasks <- t:
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-t.done
}

// Close stops the worker. Pending calls fail with ErrClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.quit) })
	m.wg.Wait()
}

// Load enumerates configurations and marks the ones the backend reports as
// running.
func (m *Manager) Load(ctx context.Context) error {
	names, err := m.configs.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate tunnels: %w", err)
	}
	running, err := m.backend.GetRunningTunnelNames(ctx)
	if err != nil {
		m.logger.Warn("Failed to query running tunnels", "error", err)
	}

	m.mu.Lock()
	for _, name := range names {
		if _, ok := m.tunnels[name]; ok {
			continue
		}
		t := m.add(name, nil)
		t.setState(backend.StateOf(slices.Contains(running, name)))
	}
	if m.running != nil {
		if name, err := m.running.LastUsed(); err == nil {
			m.lastUsed = m.tunnels[name]
		}
	}
	m.loaded = true
	m.mu.Unlock()

	m.logger.Info("Loaded tunnels", "count", len(names), "running", len(running))
	return nil
}

// add registers a tunnel. Callers hold m.mu.
func (m *Manager) add(name string, cfg *wgconf.Config) *Tunnel {
	t := &Tunnel{manager: m, name: name, state: backend.StateDown, config: cfg}
	m.tunnels[name] = t
	return t
}

// Tunnels returns every known tunnel ordered by name.
func (m *Manager) Tunnels() []*Tunnel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		list = append(list, t)
	}
	slices.SortFunc(list, func(a, b *Tunnel) int { return compareNames(a.Name(), b.Name()) })
	return list
}

// Get returns the tunnel called name.
func (m *Manager) Get(name string) (*Tunnel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tunnels[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownTunnel)
	}
	return t, nil
}

// LastUsed returns the tunnel most recently brought up, or nil.
func (m *Manager) LastUsed() *Tunnel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUsed
}

func (m *Manager) setLastUsed(t *Tunnel) {
	m.mu.Lock()
	if m.lastUsed == t {
		m.mu.Unlock()
		return
	}
	m.lastUsed = t
	m.mu.Unlock()

	if m.running == nil {
		return
	}
	name := ""
	if t != nil {
		name = t.Name()
	}
	if err := m.running.SetLastUsed(name); err != nil {
		m.logger.Warn("Failed to record last used tunnel", "error", err)
	}
}

// Create stores cfg under name and registers a tunnel in the down state.
func (m *Manager) Create(name string, cfg *wgconf.Config) (*Tunnel, error) {
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("missing configuration")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tunnels[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTunnelExists)
	}
	if err := m.configs.Create(name, cfg); err != nil {
		return nil, err
	}
	return m.add(name, cfg), nil
}

// Delete brings the tunnel down and removes its configuration. If removal
// fails a tunnel that was up is brought back up.
func (m *Manager) Delete(ctx context.Context, name string) error {
	t, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.exec(ctx, func(ctx context.Context) error {
		original := t.State()
		wasLastUsed := m.LastUsed() == t
		if wasLastUsed {
			m.setLastUsed(nil)
		}
		m.mu.Lock()
		delete(m.tunnels, name)
		m.mu.Unlock()

		err := m.deleteLocked(ctx, t, original)
		if err != nil {
			m.mu.Lock()
			m.tunnels[name] = t
			m.mu.Unlock()
			if wasLastUsed {
				m.setLastUsed(t)
			}
			return err
		}
		m.saveState()
		return nil
	})
}

func (m *Manager) deleteLocked(ctx context.Context, t *Tunnel, original backend.State) error {
	cfg := t.cachedConfig()
	if original == backend.StateUp {
		if _, err := m.backend.SetState(ctx, t, backend.StateDown, cfg); err != nil {
			return err
		}
	}
	if err := m.configs.Delete(t.Name()); err != nil {
		if original == backend.StateUp {
			if _, upErr := m.backend.SetState(ctx, t, backend.StateUp, cfg); upErr != nil {
				m.logger.Error("Failed to restore tunnel after delete failure", "tunnel", t.Name(), "error", upErr)
			}
		}
		return err
	}
	return nil
}

// Rename moves a tunnel to a new name. A tunnel that was up is brought down
// for the rename and up again under its new name.
func (m *Manager) Rename(ctx context.Context, name, replacement string) error {
	if err := backend.ValidateName(replacement); err != nil {
		return err
	}
	t, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.exec(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		if _, ok := m.tunnels[replacement]; ok {
			m.mu.Unlock()
			return fmt.Errorf("%s: %w", replacement, ErrTunnelExists)
		}
		delete(m.tunnels, name)
		m.mu.Unlock()

		err := m.renameLocked(ctx, t, replacement)
		if err != nil {
			// The backend may have been left in any state; ask it.
			if st, stErr := m.backend.GetState(ctx, t); stErr == nil {
				t.OnStateChange(st)
			}
		}
		m.mu.Lock()
		m.tunnels[t.Name()] = t
		m.mu.Unlock()
		m.saveState()
		return err
	})
}

func (m *Manager) renameLocked(ctx context.Context, t *Tunnel, replacement string) error {
	original := t.State()
	cfg, err := m.config(t)
	if err != nil {
		return err
	}
	if original == backend.StateUp {
		if _, err := m.backend.SetState(ctx, t, backend.StateDown, cfg); err != nil {
			return err
		}
	}
	if err := m.configs.Rename(t.Name(), replacement); err != nil {
		return err
	}
	t.setName(replacement)
	if original == backend.StateUp {
		if _, err := m.backend.SetState(ctx, t, backend.StateUp, cfg); err != nil {
			return err
		}
	}
	return nil
}

// config returns the cached configuration of t, loading it on first use.
func (m *Manager) config(t *Tunnel) (*wgconf.Config, error) {
	if cfg := t.cachedConfig(); cfg != nil {
		return cfg, nil
	}
	cfg, err := m.configs.Load(t.Name())
	if err != nil {
		return nil, err
	}
	t.setConfig(cfg)
	return cfg, nil
}

// Config returns the configuration of the named tunnel.
func (m *Manager) Config(name string) (*wgconf.Config, error) {
	t, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return m.config(t)
}

// SetTunnelConfig applies cfg to the tunnel in its current state and saves
// it.
func (m *Manager) SetTunnelConfig(ctx context.Context, name string, cfg *wgconf.Config) error {
	t, err := m.Get(name)
	if err != nil {
		return err
	}
	return m.exec(ctx, func(ctx context.Context) error {
		if _, err := m.backend.SetState(ctx, t, t.State(), cfg); err != nil {
			return err
		}
		if err := m.configs.Save(t.Name(), cfg); err != nil {
			return err
		}
		t.setConfig(cfg)
		return nil
	})
}

// SetTunnelState requests a transition and returns the resulting state.
// On failure the tunnel keeps its previous state and the running set is
// still saved.
func (m *Manager) SetTunnelState(ctx context.Context, name string, want backend.State) (backend.State, error) {
	t, err := m.Get(name)
	if err != nil {
		return backend.StateDown, err
	}
	result := t.State()
	err = m.exec(ctx, func(ctx context.Context) error {
		cfg, err := m.config(t)
		if err != nil {
			return err
		}
		result, err = m.backend.SetState(ctx, t, want, cfg)
		if err != nil {
			result = t.State()
		} else {
			t.OnStateChange(result)
			if result == backend.StateUp {
				m.setLastUsed(t)
			}
		}
		m.saveState()
		return err
	})
	return result, err
}

// GetTunnelState asks the backend for the state of name and records it.
func (m *Manager) GetTunnelState(ctx context.Context, name string) (backend.State, error) {
	t, err := m.Get(name)
	if err != nil {
		return backend.StateDown, err
	}
	st, err := m.backend.GetState(ctx, t)
	if err != nil {
		return t.State(), err
	}
	t.OnStateChange(st)
	return st, nil
}

// RefreshTunnelStates re-reads the running set from the backend.
func (m *Manager) RefreshTunnelStates(ctx context.Context) error {
	running, err := m.backend.GetRunningTunnelNames(ctx)
	if err != nil {
		return err
	}
	for _, t := range m.Tunnels() {
		t.OnStateChange(backend.StateOf(slices.Contains(running, t.Name())))
	}
	return nil
}

// GetTunnelStatistics returns cached statistics, refreshing them when stale.
func (m *Manager) GetTunnelStatistics(ctx context.Context, name string) (*backend.Statistics, error) {
	t, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if s := t.cachedStatistics(); s != nil {
		return s, nil
	}
	v, err, _ := m.stats.Do(name, func() (any, error) {
		s, err := m.backend.GetStatistics(ctx, t)
		if err != nil {
			return nil, err
		}
		t.setStatistics(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*backend.Statistics), nil
}

// PeerSamples implements metrics.Source over every running tunnel.
func (m *Manager) PeerSamples(ctx context.Context) ([]metrics.PeerSample, error) {
	var samples []metrics.PeerSample
	var errs []error
	for _, t := range m.Tunnels() {
		if t.State() != backend.StateUp {
			continue
		}
		stats, err := m.GetTunnelStatistics(ctx, t.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		for _, key := range stats.Peers() {
			p := stats.Peer(key)
			samples = append(samples, metrics.PeerSample{
				Tunnel:        t.Name(),
				Peer:          key.Base64(),
				RxBytes:       p.RxBytes,
				TxBytes:       p.TxBytes,
				LastHandshake: p.LatestHandshake,
			})
		}
	}
	return samples, errors.Join(errs...)
}

// SaveState records the tunnels that are currently up.
func (m *Manager) SaveState() error {
	if m.running == nil {
		return nil
	}
	var records []state.Record
	for _, t := range m.Tunnels() {
		if t.State() != backend.StateUp {
			continue
		}
		records = append(records, state.Record{
			Name:    t.Name(),
			Backend: m.backend.Kind(),
			UpSince: t.UpSince(),
		})
	}
	return m.running.Save(records)
}

func (m *Manager) saveState() {
	m.mu.RLock()
	frozen := m.frozen
	m.mu.RUnlock()
	if frozen {
		return
	}
	if err := m.SaveState(); err != nil {
		m.logger.Warn("Failed to save running tunnels", "error", err)
	}
}

// RestoreState brings up the tunnels that were running when state was last
// saved. Unless force is set this only happens when restore on boot is
// enabled. Tunnels that no longer exist are skipped.
func (m *Manager) RestoreState(ctx context.Context, force bool) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if !loaded || m.running == nil || (!force && !m.restore) {
		return nil
	}
	names, err := m.running.Names()
	if err != nil {
		return fmt.Errorf("failed to read running tunnels: %w", err)
	}
	var errs []error
	for _, name := range names {
		if _, err := m.Get(name); err != nil {
			m.logger.Warn("Skipping unknown tunnel during restore", "tunnel", name)
			continue
		}
		if _, err := m.SetTunnelState(ctx, name, backend.StateUp); err != nil {
			m.logger.Error("Failed to restore tunnel", "tunnel", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// stateChanged is called for transitions the backend reports on its own,
// for example when the host tears down a session.
func (m *Manager) stateChanged(t *Tunnel, st backend.State) {
	m.logger.Debug("Tunnel state changed", "tunnel", t.Name(), "state", st)
	m.saveState()
	if m.notify != nil {
		m.notify(t.Name(), st)
	}
}

// Shutdown saves the running set and stops the manager. With bringDown set,
// running tunnels are then brought down without changing the saved set, so
// RestoreState brings them back.
func (m *Manager) Shutdown(ctx context.Context, bringDown bool) error {
	err := m.SaveState()
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()

	if bringDown {
		var errs []error
		for _, t := range m.Tunnels() {
			if t.State() != backend.StateUp {
				continue
			}
			if _, downErr := m.SetTunnelState(ctx, t.Name(), backend.StateDown); downErr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), downErr))
			}
		}
		err = errors.Join(append([]error{err}, errs...)...)
	}
	m.Close()
	return err
}

// compareNames orders names case-insensitively, then by byte value.
func compareNames(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
