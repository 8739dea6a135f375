//go:build linux

package platform

import "grimm.is/wgtunnel/internal/logging"

// NewHost returns the platform for this operating system. Engine sockets
// carry mark so the session's routes and firewall let them out.
func NewHost(logger *logging.Logger, mark uint32) (Platform, error) {
	return NewLinux(logger, WithMark(mark)), nil
}
