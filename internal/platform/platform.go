// Package platform creates the host side of an engine tunnel: the TUN
// device, its addresses and routes, and the firewall policy that keeps
// traffic from leaking around the tunnel.
package platform

import (
	"context"
	"errors"
	"net/netip"
	"slices"

	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/tun"
)

// ErrNotAuthorized is returned by Prepare when the process may not create
// tunnel devices.
var ErrNotAuthorized = errors.New("platform: not authorized to create tunnels")

// Session describes the tunnel device to establish.
type Session struct {
	Name          string
	Addresses     []netip.Prefix
	DNSServers    []netip.Addr
	SearchDomains []string
	Routes        []netip.Prefix
	// AllowedFamilies are address families (unix.AF_INET, unix.AF_INET6)
	// whose traffic may leave through other interfaces. A family that is
	// neither allowed nor carried by an address or route of the session is
	// blocked for as long as the session exists.
	AllowedFamilies      []int
	ExcludedApplications []string
	IncludedApplications []string
	MTU                  int
}

// AllowFamily lets traffic of family bypass the session.
func (s *Session) AllowFamily(family int) {
	if !slices.Contains(s.AllowedFamilies, family) {
		s.AllowedFamilies = append(s.AllowedFamilies, family)
	}
}

// Carries reports whether the session has an address or route of family.
func (s *Session) Carries(family int) bool {
	for _, p := range slices.Concat(s.Addresses, s.Routes) {
		if prefixFamily(p) == family {
			return true
		}
	}
	return false
}

// BlockedFamilies are the families the firewall must drop.
func (s *Session) BlockedFamilies() []int {
	var blocked []int
	for _, f := range []int{unix.AF_INET, unix.AF_INET6} {
		if !slices.Contains(s.AllowedFamilies, f) && !s.Carries(f) {
			blocked = append(blocked, f)
		}
	}
	return blocked
}

// Platform is the host tunneling service.
type Platform interface {
	// Prepare checks that the caller is authorized to create tunnels.
	Prepare(ctx context.Context) error
	// Start brings the service up and returns once it is ready.
	Start(ctx context.Context) error
	// Establish creates the device. Closing the device tears the session
	// down, including its firewall policy.
	Establish(ctx context.Context, s *Session) (tun.Device, error)
	// FirewallMark is the mark the engine must set on its own sockets so
	// that the firewall policy lets them through. Zero disables marking.
	FirewallMark() uint32
	// SessionLost delivers the name of a session whose device disappeared
	// without being closed through Establish's device.
	SessionLost() <-chan string
}

func prefixFamily(p netip.Prefix) int {
	if p.Addr().Unmap().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func familyName(family int) string {
	switch family {
	case unix.AF_INET:
		return "ipv4"
	case unix.AF_INET6:
		return "ipv6"
	}
	return "unknown"
}
