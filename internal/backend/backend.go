// Package backend changes the state of WireGuard tunnels.
//
// Two strategies implement Backend. WgQuickBackend drives the wg and wg-quick
// tools through the privileged shell and can run several tunnels at once.
// EngineBackend runs the userspace engine in-process behind a host tunnel
// device and supports exactly one active tunnel.
//
// Backends are not safe for concurrent state changes; callers serialize
// SetState calls (the tunnel manager runs them on a single worker).
package backend

import (
	"context"
	"strings"

	"grimm.is/wgtunnel/internal/wgconf"
)

// State is the state of a tunnel, or a requested transition.
type State int

const (
	StateDown State = iota
	StateUp
	// StateToggle is only valid as a request.
	StateToggle
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateUp:
		return "up"
	case StateToggle:
		return "toggle"
	}
	return "unknown"
}

// ParseState accepts "up", "down" or "toggle" in any case.
func ParseState(s string) (State, bool) {
	switch strings.ToLower(s) {
	case "up":
		return StateUp, true
	case "down":
		return StateDown, true
	case "toggle":
		return StateToggle, true
	}
	return StateDown, false
}

// StateOf maps a running flag to a State.
func StateOf(running bool) State {
	if running {
		return StateUp
	}
	return StateDown
}

func (s State) resolve(current State) State {
	if s != StateToggle {
		return s
	}
	if current == StateUp {
		return StateDown
	}
	return StateUp
}

// Tunnel is the caller's handle for a named tunnel. OnStateChange is called
// after every successful transition, including those made during rollback.
type Tunnel interface {
	Name() string
	OnStateChange(State)
}

// Backend is the capability every strategy provides.
type Backend interface {
	// Kind names the strategy for logs and metrics.
	Kind() string
	// SetState brings tunnel to state and returns the resulting state. cfg
	// is required for StateUp and may be nil for StateDown.
	SetState(ctx context.Context, tunnel Tunnel, state State, cfg *wgconf.Config) (State, error)
	GetState(ctx context.Context, tunnel Tunnel) (State, error)
	// GetStatistics never fails because a tunnel is down or unreachable;
	// the result is then empty.
	GetStatistics(ctx context.Context, tunnel Tunnel) (*Statistics, error)
	GetRunningTunnelNames(ctx context.Context) ([]string, error)
	GetVersion(ctx context.Context) (string, error)
}

// Shell runs commands with elevated privilege. *rootshell.Shell satisfies it.
type Shell interface {
	Run(ctx context.Context, output *[]string, command string) (int, error)
}

// ToolsInstaller makes wg and wg-quick available to the shell.
type ToolsInstaller interface {
	EnsureToolsAvailable(ctx context.Context) error
}

// NamedTunnel is a minimal Tunnel for callers without their own type.
type NamedTunnel struct {
	TunnelName string
	OnChange   func(State)
}

func (t *NamedTunnel) Name() string { return t.TunnelName }

func (t *NamedTunnel) OnStateChange(s State) {
	if t.OnChange != nil {
		t.OnChange(s)
	}
}
