package wgconf

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

const maxUDPPort = 65535

// Interface is the [Interface] section: the local key pair, addresses, DNS,
// optional port and MTU, per-application routing and hook scripts.
type Interface struct {
	keyPair              KeyPair
	addresses            []netip.Prefix
	dnsServers           []netip.Addr
	dnsSearchDomains     []string
	excludedApplications []string
	includedApplications []string
	listenPort           int
	mtu                  int
	preUp                []string
	postUp               []string
	preDown              []string
	postDown             []string
}

// KeyPair returns the interface key pair.
func (i *Interface) KeyPair() KeyPair { return i.keyPair }

// Addresses returns the local addresses in configuration order.
func (i *Interface) Addresses() []netip.Prefix { return slices.Clone(i.addresses) }

// DNSServers returns the DNS server addresses.
func (i *Interface) DNSServers() []netip.Addr { return slices.Clone(i.dnsServers) }

// DNSSearchDomains returns the DNS search domains.
func (i *Interface) DNSSearchDomains() []string { return slices.Clone(i.dnsSearchDomains) }

// ExcludedApplications returns applications routed outside the tunnel.
func (i *Interface) ExcludedApplications() []string { return slices.Clone(i.excludedApplications) }

// IncludedApplications returns the only applications routed through the tunnel.
func (i *Interface) IncludedApplications() []string { return slices.Clone(i.includedApplications) }

// ListenPort returns the UDP listen port, if one is set.
func (i *Interface) ListenPort() (int, bool) { return i.listenPort, i.listenPort != 0 }

// MTU returns the MTU, if one is set.
func (i *Interface) MTU() (int, bool) { return i.mtu, i.mtu != 0 }

func (i *Interface) PreUp() []string    { return slices.Clone(i.preUp) }
func (i *Interface) PostUp() []string   { return slices.Clone(i.postUp) }
func (i *Interface) PreDown() []string  { return slices.Clone(i.preDown) }
func (i *Interface) PostDown() []string { return slices.Clone(i.postDown) }

// Equal reports whether every attribute of i and o is the same, in order.
func (i *Interface) Equal(o *Interface) bool {
	if i == nil || o == nil {
		return i == o
	}
	return i.keyPair == o.keyPair &&
		slices.Equal(i.addresses, o.addresses) &&
		slices.Equal(i.dnsServers, o.dnsServers) &&
		slices.Equal(i.dnsSearchDomains, o.dnsSearchDomains) &&
		slices.Equal(i.excludedApplications, o.excludedApplications) &&
		slices.Equal(i.includedApplications, o.includedApplications) &&
		i.listenPort == o.listenPort &&
		i.mtu == o.mtu &&
		slices.Equal(i.preUp, o.preUp) &&
		slices.Equal(i.postUp, o.postUp) &&
		slices.Equal(i.preDown, o.preDown) &&
		slices.Equal(i.postDown, o.postDown)
}

// String identifies the interface by public key and port for log lines.
func (i *Interface) String() string {
	var b strings.Builder
	b.WriteString("(Interface ")
	b.WriteString(i.keyPair.PublicKey().Base64())
	if i.listenPort != 0 {
		fmt.Fprintf(&b, " @%d", i.listenPort)
	}
	b.WriteByte(')')
	return b.String()
}

// WgQuickString renders the section body (without the header) in the
// wg-quick format. Only attributes with a value are emitted.
func (i *Interface) WgQuickString() string {
	var b strings.Builder
	if len(i.addresses) > 0 {
		writeAttr(&b, "Address", joinPrefixes(i.addresses))
	}
	if len(i.dnsServers)+len(i.dnsSearchDomains) > 0 {
		entries := make([]string, 0, len(i.dnsServers)+len(i.dnsSearchDomains))
		for _, a := range i.dnsServers {
			entries = append(entries, a.String())
		}
		entries = append(entries, i.dnsSearchDomains...)
		writeAttr(&b, "DNS", strings.Join(entries, ", "))
	}
	if len(i.excludedApplications) > 0 {
		writeAttr(&b, "ExcludedApplications", strings.Join(i.excludedApplications, ", "))
	}
	if len(i.includedApplications) > 0 {
		writeAttr(&b, "IncludedApplications", strings.Join(i.includedApplications, ", "))
	}
	if i.listenPort != 0 {
		writeAttr(&b, "ListenPort", strconv.Itoa(i.listenPort))
	}
	if i.mtu != 0 {
		writeAttr(&b, "MTU", strconv.Itoa(i.mtu))
	}
	writeAttr(&b, "PrivateKey", i.keyPair.PrivateKey().Base64())
	for _, s := range i.preUp {
		writeAttr(&b, "PreUp", s)
	}
	for _, s := range i.postUp {
		writeAttr(&b, "PostUp", s)
	}
	for _, s := range i.preDown {
		writeAttr(&b, "PreDown", s)
	}
	for _, s := range i.postDown {
		writeAttr(&b, "PostDown", s)
	}
	return b.String()
}

// UserspaceString renders the attributes the engine understands.
func (i *Interface) UserspaceString() string {
	var b strings.Builder
	b.WriteString("private_key=")
	b.WriteString(i.keyPair.PrivateKey().Hex())
	b.WriteByte('\n')
	if i.listenPort != 0 {
		fmt.Fprintf(&b, "listen_port=%d\n", i.listenPort)
	}
	return b.String()
}

// Edit returns a builder primed with a copy of i.
func (i *Interface) Edit() *InterfaceBuilder {
	kp := i.keyPair
	return &InterfaceBuilder{
		keyPair:              &kp,
		addresses:            slices.Clone(i.addresses),
		dnsServers:           slices.Clone(i.dnsServers),
		dnsSearchDomains:     slices.Clone(i.dnsSearchDomains),
		excludedApplications: slices.Clone(i.excludedApplications),
		includedApplications: slices.Clone(i.includedApplications),
		listenPort:           i.listenPort,
		mtu:                  i.mtu,
		preUp:                slices.Clone(i.preUp),
		postUp:               slices.Clone(i.postUp),
		preDown:              slices.Clone(i.preDown),
		postDown:             slices.Clone(i.postDown),
	}
}

// InterfaceBuilder validates an Interface attribute by attribute. Setters
// record the first invalid value; Build reports it.
type InterfaceBuilder struct {
	keyPair              *KeyPair
	addresses            []netip.Prefix
	dnsServers           []netip.Addr
	dnsSearchDomains     []string
	excludedApplications []string
	includedApplications []string
	listenPort           int
	mtu                  int
	preUp                []string
	postUp               []string
	preDown              []string
	postDown             []string
	err                  error
}

// NewInterfaceBuilder returns an empty builder.
func NewInterfaceBuilder() *InterfaceBuilder {
	return &InterfaceBuilder{}
}

func (b *InterfaceBuilder) fail(loc Location, reason Reason, text string, cause error) *InterfaceBuilder {
	if b.err == nil {
		b.err = newParseError(SectionInterface, loc, reason, text, cause)
	}
	return b
}

// SetKeyPair sets the interface key pair.
func (b *InterfaceBuilder) SetKeyPair(kp KeyPair) *InterfaceBuilder {
	b.keyPair = &kp
	return b
}

// AddAddress appends an address unless already present.
func (b *InterfaceBuilder) AddAddress(p netip.Prefix) *InterfaceBuilder {
	if !slices.Contains(b.addresses, p) {
		b.addresses = append(b.addresses, p)
	}
	return b
}

// AddDNSServer appends a DNS server unless already present.
func (b *InterfaceBuilder) AddDNSServer(a netip.Addr) *InterfaceBuilder {
	if !slices.Contains(b.dnsServers, a) {
		b.dnsServers = append(b.dnsServers, a)
	}
	return b
}

// AddDNSSearchDomain appends a search domain unless already present.
func (b *InterfaceBuilder) AddDNSSearchDomain(d string) *InterfaceBuilder {
	if !isSearchDomain(d) {
		return b.fail(LocationDNS, ReasonInvalidValue, d, nil)
	}
	if !slices.Contains(b.dnsSearchDomains, d) {
		b.dnsSearchDomains = append(b.dnsSearchDomains, d)
	}
	return b
}

// ExcludeApplication routes an application outside the tunnel.
func (b *InterfaceBuilder) ExcludeApplication(app string) *InterfaceBuilder {
	if !slices.Contains(b.excludedApplications, app) {
		b.excludedApplications = append(b.excludedApplications, app)
	}
	return b
}

// IncludeApplication restricts the tunnel to the named applications.
func (b *InterfaceBuilder) IncludeApplication(app string) *InterfaceBuilder {
	if !slices.Contains(b.includedApplications, app) {
		b.includedApplications = append(b.includedApplications, app)
	}
	return b
}

// SetListenPort sets the UDP port; 0 clears it.
func (b *InterfaceBuilder) SetListenPort(port int) *InterfaceBuilder {
	if port < 0 || port > maxUDPPort {
		return b.fail(LocationListenPort, ReasonInvalidValue, strconv.Itoa(port), nil)
	}
	b.listenPort = port
	return b
}

// SetMTU sets the MTU; 0 clears it.
func (b *InterfaceBuilder) SetMTU(mtu int) *InterfaceBuilder {
	if mtu < 0 {
		return b.fail(LocationMTU, ReasonInvalidValue, strconv.Itoa(mtu), nil)
	}
	b.mtu = mtu
	return b
}

func (b *InterfaceBuilder) AddPreUp(s string) *InterfaceBuilder {
	b.preUp = append(b.preUp, s)
	return b
}

func (b *InterfaceBuilder) AddPostUp(s string) *InterfaceBuilder {
	b.postUp = append(b.postUp, s)
	return b
}

func (b *InterfaceBuilder) AddPreDown(s string) *InterfaceBuilder {
	b.preDown = append(b.preDown, s)
	return b
}

func (b *InterfaceBuilder) AddPostDown(s string) *InterfaceBuilder {
	b.postDown = append(b.postDown, s)
	return b
}

// ParseAddresses adds every element of a comma separated Address value.
// A bad element fails the whole attribute and adds nothing.
func (b *InterfaceBuilder) ParseAddresses(value string) error {
	var parsed []netip.Prefix
	for _, s := range splitList(value) {
		p, err := ParsePrefix(s)
		if err != nil {
			return newParseError(SectionInterface, LocationAddress, ReasonInvalidValue, value, err)
		}
		parsed = append(parsed, p)
	}
	for _, p := range parsed {
		b.AddAddress(p)
	}
	return nil
}

// ParseDNS adds DNS servers and search domains from a comma separated value.
func (b *InterfaceBuilder) ParseDNS(value string) error {
	var servers []netip.Addr
	var domains []string
	for _, s := range splitList(value) {
		if a, err := ParseAddr(s); err == nil {
			servers = append(servers, a)
			continue
		}
		if !isSearchDomain(s) {
			return newParseError(SectionInterface, LocationDNS, ReasonInvalidValue, value, nil)
		}
		domains = append(domains, s)
	}
	for _, a := range servers {
		b.AddDNSServer(a)
	}
	for _, d := range domains {
		b.AddDNSSearchDomain(d)
	}
	return nil
}

func (b *InterfaceBuilder) parseApplications(value string, loc Location, add func(string) *InterfaceBuilder) error {
	for _, app := range splitList(value) {
		if app == "" {
			return newParseError(SectionInterface, loc, ReasonInvalidValue, value, nil)
		}
		add(app)
	}
	return nil
}

// ParseListenPort parses and sets ListenPort.
func (b *InterfaceBuilder) ParseListenPort(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return newParseError(SectionInterface, LocationListenPort, ReasonInvalidNumber, value, err)
	}
	if n < 0 || n > maxUDPPort {
		return newParseError(SectionInterface, LocationListenPort, ReasonInvalidValue, value, nil)
	}
	b.listenPort = n
	return nil
}

// ParseMTU parses and sets MTU.
func (b *InterfaceBuilder) ParseMTU(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return newParseError(SectionInterface, LocationMTU, ReasonInvalidNumber, value, err)
	}
	if n < 0 {
		return newParseError(SectionInterface, LocationMTU, ReasonInvalidValue, value, nil)
	}
	b.mtu = n
	return nil
}

// ParsePrivateKey parses a base64 private key and derives the key pair.
// The key text is never echoed in errors.
func (b *InterfaceBuilder) ParsePrivateKey(value string) error {
	k, err := ParseKeyBase64(value)
	if err != nil {
		return newParseError(SectionInterface, LocationPrivateKey, ReasonInvalidKey, "(omitted)", err)
	}
	b.SetKeyPair(NewKeyPair(k))
	return nil
}

// Build validates the accumulated attributes.
func (b *InterfaceBuilder) Build() (*Interface, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.keyPair == nil {
		return nil, newParseError(SectionInterface, LocationPrivateKey, ReasonMissingAttribute, "", nil)
	}
	if len(b.includedApplications) > 0 && len(b.excludedApplications) > 0 {
		return nil, newParseError(SectionInterface, LocationIncludedApplications, ReasonInvalidValue,
			strings.Join(b.includedApplications, ", "),
			fmt.Errorf("cannot be combined with ExcludedApplications"))
	}
	return &Interface{
		keyPair:              *b.keyPair,
		addresses:            slices.Clone(b.addresses),
		dnsServers:           slices.Clone(b.dnsServers),
		dnsSearchDomains:     slices.Clone(b.dnsSearchDomains),
		excludedApplications: slices.Clone(b.excludedApplications),
		includedApplications: slices.Clone(b.includedApplications),
		listenPort:           b.listenPort,
		mtu:                  b.mtu,
		preUp:                slices.Clone(b.preUp),
		postUp:               slices.Clone(b.postUp),
		preDown:              slices.Clone(b.preDown),
		postDown:             slices.Clone(b.postDown),
	}, nil
}

// parseInterface builds an Interface from the lines of one section.
func parseInterface(lines []string) (*Interface, error) {
	b := NewInterfaceBuilder()
	for _, line := range lines {
		attr, ok := parseAttribute(line)
		if !ok {
			return nil, newParseError(SectionInterface, LocationTopLevel, ReasonSyntaxError, line, nil)
		}
		var err error
		switch attr.key {
		case "Address":
			err = b.ParseAddresses(attr.value)
		case "DNS":
			err = b.ParseDNS(attr.value)
		case "ExcludedApplications":
			err = b.parseApplications(attr.value, LocationExcludedApplications, b.ExcludeApplication)
		case "IncludedApplications":
			err = b.parseApplications(attr.value, LocationIncludedApplications, b.IncludeApplication)
		case "ListenPort":
			err = b.ParseListenPort(attr.value)
		case "MTU":
			err = b.ParseMTU(attr.value)
		case "PrivateKey":
			err = b.ParsePrivateKey(attr.value)
		case "PreUp":
			b.AddPreUp(attr.value)
		case "PostUp":
			b.AddPostUp(attr.value)
		case "PreDown":
			b.AddPreDown(attr.value)
		case "PostDown":
			b.AddPostDown(attr.value)
		default:
			err = newParseError(SectionInterface, LocationTopLevel, ReasonUnknownAttribute, attr.key, nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.Build()
}
