package health

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/wgtunnel/internal/clock"
)

// VersionProber is satisfied by tunnel backends.
type VersionProber interface {
	GetVersion(ctx context.Context) (string, error)
}

// BackendCheck reports unhealthy when the backend cannot report its version,
// which means the tooling or kernel module it depends on is unusable.
func BackendCheck(p VersionProber) CheckFunc {
	return func(ctx context.Context) Check {
		return timed(func() (Status, string) {
			v, err := p.GetVersion(ctx)
			if err != nil {
				return StatusUnhealthy, err.Error()
			}
			return StatusHealthy, v
		})
	}
}

// StoreCheck reports unhealthy when the saved state cannot be read.
func StoreCheck(read func() error) CheckFunc {
	return func(ctx context.Context) Check {
		return timed(func() (Status, string) {
			if err := read(); err != nil {
				return StatusUnhealthy, fmt.Sprintf("state store unreadable: %v", err)
			}
			return StatusHealthy, "state store readable"
		})
	}
}

// DriftCheck compares the tunnels that should be running with the ones that
// are. Missing tunnels degrade the report without failing it.
func DriftCheck(want func() ([]string, error), isUp func(ctx context.Context, name string) bool) CheckFunc {
	return func(ctx context.Context) Check {
		return timed(func() (Status, string) {
			names, err := want()
			if err != nil {
				return StatusDegraded, err.Error()
			}
			var missing []string
			for _, name := range names {
				if !isUp(ctx, name) {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				return StatusDegraded, "not running: " + strings.Join(missing, ", ")
			}
			return StatusHealthy, fmt.Sprintf("%d tunnels running", len(names))
		})
	}
}

func timed(fn func() (Status, string)) Check {
	start := clock.Now()
	status, msg := fn()
	return Check{
		Status:      status,
		Message:     msg,
		LastChecked: start,
		Duration:    clock.Since(start),
	}
}
