package wgconf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/clock"
)

// resolutionTTL is how long a successful lookup is reused.
const resolutionTTL = 60 * time.Second

// timeSource stamps resolutions; tests replace it with a mock clock.
var timeSource clock.Clock = clock.Real

// ErrUnresolved is returned when a hostname endpoint has no usable address.
var ErrUnresolved = errors.New("endpoint could not be resolved")

// Endpoint is the host and port of a remote peer. The host may be a literal
// address or a DNS name; names are resolved lazily by Resolve and the result
// is cached. Hosts containing an underscore are SRV names whose target and
// port come from DNS.
type Endpoint struct {
	host       string
	port       int
	isResolved bool

	mu             sync.Mutex
	lastResolution time.Time
	resolved       *Endpoint
}

// ParseEndpoint parses "host:port", "[v6]:port" or an SRV name.
// Characters that only make sense in a URI (/ ? #) are rejected outright.
func ParseEndpoint(s string) (*Endpoint, error) {
	if strings.ContainsAny(s, "/?#") {
		return nil, errors.New("forbidden characters")
	}
	if strings.Contains(s, "_") {
		host, _, _ := strings.Cut(s, ":")
		if host == "" {
			return nil, errors.New("missing host")
		}
		return &Endpoint{host: host}, nil
	}
	host, rawPort, err := net.SplitHostPort(s)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, errors.New("missing host")
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 0 || port > 65535 {
		return nil, errors.New("missing/invalid port number")
	}
	if addr, err := ParseAddr(host); err == nil {
		return &Endpoint{host: addr.String(), port: port, isResolved: true}, nil
	}
	return &Endpoint{host: host, port: port}, nil
}

// NewEndpoint builds an endpoint from a literal address and port.
func NewEndpoint(addr netip.Addr, port uint16) *Endpoint {
	return &Endpoint{host: addr.String(), port: int(port), isResolved: true}
}

// Host returns the host as written (address or name).
func (e *Endpoint) Host() string { return e.host }

// Port returns the port; zero for SRV names.
func (e *Endpoint) Port() int { return e.port }

// IsSRV reports whether the host is looked up as an SRV record.
func (e *Endpoint) IsSRV() bool { return strings.Contains(e.host, "_") }

// Equal compares host and port. Resolution state is not part of equality.
func (e *Endpoint) Equal(o *Endpoint) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.host == o.host && e.port == o.port
}

// String renders the endpoint the way it is written in a config file.
func (e *Endpoint) String() string {
	host := e.host
	if e.isResolved && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if e.port > 0 {
		return host + ":" + strconv.Itoa(e.port)
	}
	return host
}

// Cached returns the last successful resolution, or the endpoint itself when
// the host is already numeric. It never performs I/O.
func (e *Endpoint) Cached() (*Endpoint, bool) {
	if e.isResolved {
		return e, true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved, e.resolved != nil
}

// Resolve returns an endpoint with a numeric host, looking it up through r if
// the cached answer is missing or older than a minute. IPv4 answers are
// preferred over IPv6 to sidestep DNS64 and IPv6 NAT problems.
func (e *Endpoint) Resolve(ctx context.Context, r Resolver) (*Endpoint, error) {
	if e.isResolved {
		return e, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resolved != nil && timeSource.Since(e.lastResolution) <= resolutionTTL {
		return e.resolved, nil
	}
	e.resolved = nil

	target, port := e.host, e.port
	if e.IsSRV() {
		srvTarget, srvPort, err := r.LookupSRV(ctx, e.host)
		if err != nil {
			return nil, fmt.Errorf("%w: SRV %s: %v", ErrUnresolved, e.host, err)
		}
		target, port = srvTarget, int(srvPort)
		if addr, err := ParseAddr(target); err == nil {
			e.resolved = &Endpoint{host: addr.String(), port: port, isResolved: true}
			e.lastResolution = timeSource.Now()
			return e.resolved, nil
		}
	}

	addrs, err := r.LookupHost(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolved, target, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s: no addresses", ErrUnresolved, target)
	}
	chosen := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			chosen = a.Unmap()
			break
		}
	}
	e.resolved = &Endpoint{host: chosen.WithZone("").String(), port: port, isResolved: true}
	e.lastResolution = timeSource.Now()
	return e.resolved, nil
}
