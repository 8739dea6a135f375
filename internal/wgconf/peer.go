package wgconf

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
)

const maxKeepalive = 65535

// Peer is one [Peer] section.
type Peer struct {
	publicKey           Key
	presharedKey        Key
	hasPresharedKey     bool
	endpoint            *Endpoint
	allowedIPs          []netip.Prefix
	persistentKeepalive int
}

// PublicKey returns the peer's public key.
func (p *Peer) PublicKey() Key { return p.publicKey }

// PresharedKey returns the preshared key, if one is set.
func (p *Peer) PresharedKey() (Key, bool) { return p.presharedKey, p.hasPresharedKey }

// Endpoint returns the configured endpoint or nil.
func (p *Peer) Endpoint() *Endpoint { return p.endpoint }

// AllowedIPs returns the peer's allowed prefixes in configuration order.
func (p *Peer) AllowedIPs() []netip.Prefix { return slices.Clone(p.allowedIPs) }

// PersistentKeepalive returns the keepalive interval in seconds, if enabled.
func (p *Peer) PersistentKeepalive() (int, bool) {
	return p.persistentKeepalive, p.persistentKeepalive != 0
}

// HasDefaultRoute reports whether any allowed prefix covers a whole family.
func (p *Peer) HasDefaultRoute() bool {
	return slices.ContainsFunc(p.allowedIPs, IsDefaultRoute)
}

// Equal compares every attribute. Endpoints compare by host and port.
func (p *Peer) Equal(o *Peer) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.publicKey == o.publicKey &&
		p.hasPresharedKey == o.hasPresharedKey &&
		p.presharedKey == o.presharedKey &&
		p.endpoint.Equal(o.endpoint) &&
		slices.Equal(p.allowedIPs, o.allowedIPs) &&
		p.persistentKeepalive == o.persistentKeepalive
}

func (p *Peer) String() string {
	var b strings.Builder
	b.WriteString("(Peer ")
	b.WriteString(p.publicKey.Base64())
	if p.endpoint != nil {
		b.WriteString(" @")
		b.WriteString(p.endpoint.String())
	}
	b.WriteByte(')')
	return b.String()
}

// WgQuickString renders the section body in the wg-quick format.
func (p *Peer) WgQuickString() string {
	var b strings.Builder
	if len(p.allowedIPs) > 0 {
		writeAttr(&b, "AllowedIPs", joinPrefixes(p.allowedIPs))
	}
	if p.endpoint != nil {
		writeAttr(&b, "Endpoint", p.endpoint.String())
	}
	if p.persistentKeepalive != 0 {
		writeAttr(&b, "PersistentKeepalive", strconv.Itoa(p.persistentKeepalive))
	}
	if p.hasPresharedKey {
		writeAttr(&b, "PresharedKey", p.presharedKey.Base64())
	}
	writeAttr(&b, "PublicKey", p.publicKey.Base64())
	return b.String()
}

// UserspaceString renders the peer for the engine. The endpoint is taken
// from the resolution cache only; an unresolved name is left out.
func (p *Peer) UserspaceString() string {
	var b strings.Builder
	b.WriteString("public_key=")
	b.WriteString(p.publicKey.Hex())
	b.WriteByte('\n')
	if p.hasPresharedKey {
		b.WriteString("preshared_key=")
		b.WriteString(p.presharedKey.Hex())
		b.WriteByte('\n')
	}
	if p.endpoint != nil {
		if resolved, ok := p.endpoint.Cached(); ok {
			b.WriteString("endpoint=")
			b.WriteString(resolved.String())
			b.WriteByte('\n')
		}
	}
	if p.persistentKeepalive != 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", p.persistentKeepalive)
	}
	b.WriteString("replace_allowed_ips=true\n")
	for _, ip := range p.allowedIPs {
		b.WriteString("allowed_ip=")
		b.WriteString(ip.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Edit returns a builder primed with a copy of p.
func (p *Peer) Edit() *PeerBuilder {
	pub := p.publicKey
	b := &PeerBuilder{
		publicKey:           &pub,
		endpoint:            p.endpoint,
		allowedIPs:          slices.Clone(p.allowedIPs),
		persistentKeepalive: p.persistentKeepalive,
	}
	if p.hasPresharedKey {
		psk := p.presharedKey
		b.presharedKey = &psk
	}
	return b
}

// PeerBuilder validates a Peer attribute by attribute.
type PeerBuilder struct {
	publicKey           *Key
	presharedKey        *Key
	endpoint            *Endpoint
	allowedIPs          []netip.Prefix
	persistentKeepalive int
	err                 error
}

// NewPeerBuilder returns an empty builder.
func NewPeerBuilder() *PeerBuilder {
	return &PeerBuilder{}
}

func (b *PeerBuilder) fail(loc Location, reason Reason, text string) *PeerBuilder {
	if b.err == nil {
		b.err = newParseError(SectionPeer, loc, reason, text, nil)
	}
	return b
}

// SetPublicKey sets the peer public key. The all-zero key is rejected.
func (b *PeerBuilder) SetPublicKey(k Key) *PeerBuilder {
	if k.IsZero() {
		return b.fail(LocationPublicKey, ReasonInvalidKey, k.Base64())
	}
	b.publicKey = &k
	return b
}

// SetPresharedKey sets the preshared key. The zero key clears it.
func (b *PeerBuilder) SetPresharedKey(k Key) *PeerBuilder {
	if k.IsZero() {
		b.presharedKey = nil
		return b
	}
	b.presharedKey = &k
	return b
}

// SetEndpoint sets or clears (nil) the endpoint.
func (b *PeerBuilder) SetEndpoint(e *Endpoint) *PeerBuilder {
	b.endpoint = e
	return b
}

// AddAllowedIP appends a prefix unless already present.
func (b *PeerBuilder) AddAllowedIP(p netip.Prefix) *PeerBuilder {
	if !slices.Contains(b.allowedIPs, p) {
		b.allowedIPs = append(b.allowedIPs, p)
	}
	return b
}

// SetPersistentKeepalive sets the keepalive in seconds; 0 disables it.
func (b *PeerBuilder) SetPersistentKeepalive(seconds int) *PeerBuilder {
	if seconds < 0 || seconds > maxKeepalive {
		return b.fail(LocationPersistentKeepalive, ReasonInvalidValue, strconv.Itoa(seconds))
	}
	b.persistentKeepalive = seconds
	return b
}

// ParseAllowedIPs adds every prefix of a comma separated value.
func (b *PeerBuilder) ParseAllowedIPs(value string) error {
	var parsed []netip.Prefix
	for _, s := range splitList(value) {
		p, err := ParsePrefix(s)
		if err != nil {
			return newParseError(SectionPeer, LocationAllowedIPs, ReasonInvalidValue, value, err)
		}
		parsed = append(parsed, p)
	}
	for _, p := range parsed {
		b.AddAllowedIP(p)
	}
	return nil
}

// ParseEndpoint parses and sets the endpoint.
func (b *PeerBuilder) ParseEndpoint(value string) error {
	e, err := ParseEndpoint(value)
	if err != nil {
		return newParseError(SectionPeer, LocationEndpoint, ReasonSyntaxError, value, err)
	}
	b.endpoint = e
	return nil
}

// ParsePersistentKeepalive accepts a number of seconds or "off".
func (b *PeerBuilder) ParsePersistentKeepalive(value string) error {
	if strings.EqualFold(value, "off") {
		b.persistentKeepalive = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return newParseError(SectionPeer, LocationPersistentKeepalive, ReasonInvalidNumber, value, err)
	}
	if n < 0 || n > maxKeepalive {
		return newParseError(SectionPeer, LocationPersistentKeepalive, ReasonInvalidValue, value, nil)
	}
	b.persistentKeepalive = n
	return nil
}

// ParsePresharedKey parses a base64 preshared key.
func (b *PeerBuilder) ParsePresharedKey(value string) error {
	k, err := ParseKeyBase64(value)
	if err != nil {
		return newParseError(SectionPeer, LocationPresharedKey, ReasonInvalidKey, value, err)
	}
	b.SetPresharedKey(k)
	return nil
}

// ParsePublicKey parses a base64 public key.
func (b *PeerBuilder) ParsePublicKey(value string) error {
	k, err := ParseKeyBase64(value)
	if err != nil {
		return newParseError(SectionPeer, LocationPublicKey, ReasonInvalidKey, value, err)
	}
	if k.IsZero() {
		return newParseError(SectionPeer, LocationPublicKey, ReasonInvalidKey, value, nil)
	}
	b.publicKey = &k
	return nil
}

// Build validates the accumulated attributes.
func (b *PeerBuilder) Build() (*Peer, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.publicKey == nil {
		return nil, newParseError(SectionPeer, LocationPublicKey, ReasonMissingAttribute, "", nil)
	}
	p := &Peer{
		publicKey:           *b.publicKey,
		endpoint:            b.endpoint,
		allowedIPs:          slices.Clone(b.allowedIPs),
		persistentKeepalive: b.persistentKeepalive,
	}
	if b.presharedKey != nil {
		p.presharedKey = *b.presharedKey
		p.hasPresharedKey = true
	}
	return p, nil
}

func parsePeer(lines []string) (*Peer, error) {
	b := NewPeerBuilder()
	for _, line := range lines {
		attr, ok := parseAttribute(line)
		if !ok {
			return nil, newParseError(SectionPeer, LocationTopLevel, ReasonSyntaxError, line, nil)
		}
		var err error
		switch attr.key {
		case "AllowedIPs":
			err = b.ParseAllowedIPs(attr.value)
		case "Endpoint":
			err = b.ParseEndpoint(attr.value)
		case "PersistentKeepalive":
			err = b.ParsePersistentKeepalive(attr.value)
		case "PresharedKey":
			err = b.ParsePresharedKey(attr.value)
		case "PublicKey":
			err = b.ParsePublicKey(attr.value)
		default:
			err = newParseError(SectionPeer, LocationTopLevel, ReasonUnknownAttribute, attr.key, nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.Build()
}
