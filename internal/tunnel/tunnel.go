package tunnel

import (
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/wgconf"
)

// Tunnel is a named tunnel known to the Manager. Its state follows every
// change the backend reports, including implicit ones such as a lost host
// session.
type Tunnel struct {
	manager *Manager

	mu      sync.RWMutex
	name    string
	state   backend.State
	config  *wgconf.Config
	stats   *backend.Statistics
	upSince time.Time
}

// Name implements backend.Tunnel.
func (t *Tunnel) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// State returns the last known state.
func (t *Tunnel) State() backend.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// UpSince returns when the tunnel last came up, or the zero time when down.
func (t *Tunnel) UpSince() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.upSince
}

// OnStateChange implements backend.Tunnel.
func (t *Tunnel) OnStateChange(state backend.State) {
	if t.setState(state) && t.manager != nil {
		t.manager.stateChanged(t, state)
	}
}

// setState reports whether the state actually changed.
func (t *Tunnel) setState(state backend.State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == state {
		return false
	}
	t.state = state
	if state == backend.StateUp {
		t.upSince = clock.Now()
	} else {
		t.upSince = time.Time{}
		t.stats = nil
	}
	return true
}

func (t *Tunnel) setName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

func (t *Tunnel) cachedConfig() *wgconf.Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

func (t *Tunnel) setConfig(cfg *wgconf.Config) {
	t.mu.Lock()
	t.config = cfg
	t.mu.Unlock()
}

func (t *Tunnel) cachedStatistics() *backend.Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stats == nil || t.stats.IsStale() {
		return nil
	}
	return t.stats
}

func (t *Tunnel) setStatistics(s *backend.Statistics) {
	t.mu.Lock()
	t.stats = s
	t.mu.Unlock()
}
