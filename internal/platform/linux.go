//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"

	"grimm.is/wgtunnel/internal/logging"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/tun"
)

const (
	// DefaultMark is set by the engine on its own sockets.
	DefaultMark uint32 = 51820
	// DefaultTable holds the default routes of full tunnels.
	DefaultTable = 51820
)

// TUNCreator opens a TUN device.
type TUNCreator func(name string, mtu int) (tun.Device, error)

// Linux is the host tunneling service on Linux. Each session is a TUN
// device configured with netlink and guarded with nftables.
//
// Default routes are installed the way wg-quick does it: into a dedicated
// table consulted for unmarked packets, with the main table still used for
// everything more specific than a default route.
type Linux struct {
	nl        Netlinker
	createTUN TUNCreator
	logger    *logging.Logger
	mark      uint32
	table     int
	geteuid   func() int

	mu       sync.Mutex
	fw       Firewall
	newFW    func() (Firewall, error)
	started  bool
	sessions map[string]*sessionDevice
	lost     chan string
	done     chan struct{}
}

// Option configures a Linux platform.
type Option func(*Linux)

// WithNetlinker replaces the netlink implementation.
func WithNetlinker(nl Netlinker) Option {
	return func(l *Linux) { l.nl = nl }
}

// WithFirewall replaces the nftables firewall.
func WithFirewall(fw Firewall) Option {
	return func(l *Linux) { l.fw = fw }
}

// WithTUNCreator replaces tun.CreateTUN.
func WithTUNCreator(fn TUNCreator) Option {
	return func(l *Linux) { l.createTUN = fn }
}

// WithMark sets the firewall mark and routing table. Zero disables both.
func WithMark(mark uint32) Option {
	return func(l *Linux) {
		l.mark = mark
		l.table = int(mark)
	}
}

// NewLinux returns the Linux platform.
func NewLinux(logger *logging.Logger, opts ...Option) *Linux {
	if logger == nil {
		logger = logging.WithComponent("platform")
	}
	l := &Linux{
		nl:        RealNetlinker{},
		createTUN: tun.CreateTUN,
		logger:    logger,
		mark:      DefaultMark,
		table:     DefaultTable,
		geteuid:   os.Geteuid,
		newFW:     func() (Firewall, error) { return NewNFTFirewall() },
		sessions:  make(map[string]*sessionDevice),
		lost:      make(chan string, 4),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Prepare implements Platform. Creating devices needs root.
func (l *Linux) Prepare(context.Context) error {
	if l.geteuid() != 0 {
		return ErrNotAuthorized
	}
	return nil
}

// Start implements Platform. It opens the firewall and starts watching for
// sessions whose device disappears.
func (l *Linux) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if l.fw == nil {
		fw, err := l.newFW()
		if err != nil {
			return err
		}
		l.fw = fw
	}
	updates := make(chan netlink.LinkUpdate, 16)
	if err := l.nl.LinkSubscribe(updates, l.done); err != nil {
		return fmt.Errorf("failed to subscribe to link updates: %w", err)
	}
	go l.watch(updates)
	l.started = true
	return nil
}

// Stop ends the link watch. Established sessions are left alone.
func (l *Linux) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		close(l.done)
		l.started = false
		l.done = make(chan struct{})
	}
}

func (l *Linux) watch(updates <-chan netlink.LinkUpdate) {
	for u := range updates {
		if u.Header.Type != unix.RTM_DELLINK || u.Link == nil {
			continue
		}
		l.linkRemoved(u.Link.Attrs().Name)
	}
}

func (l *Linux) linkRemoved(name string) {
	l.mu.Lock()
	s, ok := l.sessions[name]
	l.mu.Unlock()
	if !ok || s.closing() {
		return
	}
	l.logger.Warn("Tunnel device removed outside of its session", "tunnel", name)
	s.Close()
	select {
	case l.lost <- name:
	default:
		l.logger.Warn("Dropped session loss notification", "tunnel", name)
	}
}

// FirewallMark implements Platform.
func (l *Linux) FirewallMark() uint32 { return l.mark }

// SessionLost implements Platform.
func (l *Linux) SessionLost() <-chan string { return l.lost }

// Establish implements Platform.
func (l *Linux) Establish(_ context.Context, s *Session) (tun.Device, error) {
	l.mu.Lock()
	fw := l.fw
	_, exists := l.sessions[s.Name]
	l.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("session %s already established", s.Name)
	}

	dev, err := l.createTUN(s.Name, s.MTU)
	if err != nil {
		return nil, fmt.Errorf("failed to create TUN device %s: %w", s.Name, err)
	}
	sd := &sessionDevice{Device: dev, name: s.Name, platform: l}

	if err := l.configure(sd, s, fw); err != nil {
		sd.Close()
		return nil, err
	}

	l.mu.Lock()
	l.sessions[s.Name] = sd
	l.mu.Unlock()

	if len(s.DNSServers) > 0 || len(s.SearchDomains) > 0 {
		l.logger.Info("DNS settings are not applied, configure the host resolver", "tunnel", s.Name,
			"servers", len(s.DNSServers), "search_domains", len(s.SearchDomains))
	}
	if len(s.ExcludedApplications) > 0 || len(s.IncludedApplications) > 0 {
		l.logger.Warn("Per-application routing is not supported on Linux", "tunnel", s.Name)
	}
	l.logger.Info("Session established", "tunnel", s.Name, "addresses", len(s.Addresses), "routes", len(s.Routes))
	return sd, nil
}

func (l *Linux) configure(sd *sessionDevice, s *Session, fw Firewall) error {
	link, err := l.nl.LinkByName(s.Name)
	if err != nil {
		return fmt.Errorf("failed to find link %s: %w", s.Name, err)
	}
	for _, p := range s.Addresses {
		if err := l.nl.AddrAdd(link, &netlink.Addr{IPNet: ipNet(p)}); err != nil && !isExist(err) {
			return fmt.Errorf("failed to add address %s: %w", p, err)
		}
	}
	if err := l.nl.LinkSetMTU(link, s.MTU); err != nil {
		l.logger.Warn("Failed to set MTU", "tunnel", s.Name, "mtu", s.MTU, "error", err)
	}
	if err := l.nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", s.Name, err)
	}

	index := link.Attrs().Index
	for _, p := range s.Routes {
		route := &netlink.Route{LinkIndex: index, Dst: ipNet(p.Masked()), Scope: netlink.SCOPE_LINK}
		if p.Bits() == 0 && l.table != 0 {
			route.Table = l.table
			if err := l.addDefaultRules(sd, prefixFamily(p)); err != nil {
				return err
			}
		}
		if err := l.nl.RouteAdd(route); err != nil && !isExist(err) {
			return fmt.Errorf("failed to add route %s: %w", p, err)
		}
	}

	if blocked := s.BlockedFamilies(); len(blocked) > 0 {
		if fw == nil {
			return errors.New("firewall not started")
		}
		if err := fw.Block(s.Name, blocked, l.mark); err != nil {
			return err
		}
		sd.blocked = true
		for _, f := range blocked {
			l.logger.Info("Blocking traffic outside the tunnel", "tunnel", s.Name, "family", familyName(f))
		}
	}
	return nil
}

// addDefaultRules sends unmarked traffic of family to the tunnel table
// while keeping more specific main table routes.
func (l *Linux) addDefaultRules(sd *sessionDevice, family int) error {
	for _, r := range sd.rules {
		if r.Family == family {
			return nil
		}
	}
	viaTunnel := netlink.NewRule()
	viaTunnel.Family = family
	viaTunnel.Table = l.table
	viaTunnel.Mark = l.mark
	viaTunnel.Invert = true

	keepSpecific := netlink.NewRule()
	keepSpecific.Family = family
	keepSpecific.Table = unix.RT_TABLE_MAIN
	keepSpecific.SuppressPrefixlen = 0

	for _, r := range []*netlink.Rule{viaTunnel, keepSpecific} {
		if err := l.nl.RuleAdd(r); err != nil && !isExist(err) {
			return fmt.Errorf("failed to add routing rule: %w", err)
		}
		sd.rules = append(sd.rules, r)
	}
	return nil
}

func (l *Linux) teardown(sd *sessionDevice) {
	for _, r := range sd.rules {
		if err := l.nl.RuleDel(r); err != nil {
			l.logger.Debug("Failed to remove routing rule", "tunnel", sd.name, "error", err)
		}
	}
	if sd.blocked {
		l.mu.Lock()
		fw := l.fw
		l.mu.Unlock()
		if err := fw.Unblock(sd.name); err != nil {
			l.logger.Error("Failed to remove firewall policy", "tunnel", sd.name, "error", err)
		}
	}
	l.mu.Lock()
	if l.sessions[sd.name] == sd {
		delete(l.sessions, sd.name)
	}
	l.mu.Unlock()
	l.logger.Info("Session closed", "tunnel", sd.name)
}

// sessionDevice removes the session's host state when the device closes.
// Routes through the device disappear with it.
type sessionDevice struct {
	tun.Device
	name     string
	platform *Linux
	rules    []*netlink.Rule
	blocked  bool

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (d *sessionDevice) closing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close closes the device and removes the session. It is safe to call more
// than once.
func (d *sessionDevice) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		err = d.Device.Close()
		d.platform.teardown(d)
	})
	return err
}

func ipNet(p netip.Prefix) *net.IPNet {
	addr := p.Addr().Unmap()
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return &net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(p.Bits(), bits)}
}

func isExist(err error) bool {
	return errors.Is(err, unix.EEXIST) || strings.Contains(err.Error(), "file exists")
}
