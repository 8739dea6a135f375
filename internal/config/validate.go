package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/wgtunnel/internal/logging"
)

// Validate checks attribute values. It expects defaults to be applied.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendAuto, BackendWgQuick, BackendEngine:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q", c.Backend))
	}
	if len(strings.Fields(c.Shell)) == 0 {
		errs = append(errs, errors.New("shell: must not be empty"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Engine != nil && (c.Engine.FirewallMark < 0 || c.Engine.FirewallMark > 0xffffffff) {
		errs = append(errs, fmt.Errorf("engine.fwmark: %d out of range", c.Engine.FirewallMark))
	}
	if c.Metrics != nil {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
		if d, err := time.ParseDuration(c.Metrics.Interval); err != nil {
			errs = append(errs, fmt.Errorf("metrics.interval: %w", err))
		} else if d <= 0 {
			errs = append(errs, errors.New("metrics.interval: must be positive"))
		}
	}
	return errors.Join(errs...)
}
