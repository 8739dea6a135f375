//go:build !linux

package platform

import (
	"errors"

	"grimm.is/wgtunnel/internal/logging"
)

// ErrUnsupported is returned where no host platform exists.
var ErrUnsupported = errors.New("platform: engine tunnels are only supported on Linux")

// NewHost returns the platform for this operating system.
func NewHost(*logging.Logger, uint32) (Platform, error) {
	return nil, ErrUnsupported
}
