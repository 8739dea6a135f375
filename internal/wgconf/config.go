package wgconf

import (
	"bufio"
	"io"
	"slices"
	"strings"
)

// Config is an immutable tunnel configuration: one Interface and an ordered
// list of Peers. Use Edit to derive a changed copy.
type Config struct {
	iface *Interface
	peers []*Peer
}

// Interface returns the interface section.
func (c *Config) Interface() *Interface { return c.iface }

// Peers returns the peers in configuration order.
func (c *Config) Peers() []*Peer { return slices.Clone(c.peers) }

// Equal reports whether c and o describe the same configuration.
func (c *Config) Equal(o *Config) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	return c.iface.Equal(o.iface) && slices.EqualFunc(c.peers, o.peers, (*Peer).Equal)
}

// WgQuickString renders the configuration in the text format accepted by
// Parse and by wg-quick.
func (c *Config) WgQuickString() string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	b.WriteString(c.iface.WgQuickString())
	for _, p := range c.peers {
		b.WriteString("\n[Peer]\n")
		b.WriteString(p.WgQuickString())
	}
	return b.String()
}

// UserspaceString renders the configuration as an engine "set" request.
// Peer endpoints must have been resolved beforehand.
func (c *Config) UserspaceString() string {
	var b strings.Builder
	b.WriteString(c.iface.UserspaceString())
	b.WriteString("replace_peers=true\n")
	for _, p := range c.peers {
		b.WriteString(p.UserspaceString())
	}
	return b.String()
}

// Edit returns a builder primed with a copy of c.
func (c *Config) Edit() *ConfigBuilder {
	return &ConfigBuilder{iface: c.iface, peers: slices.Clone(c.peers)}
}

// ConfigBuilder assembles a Config from built sections.
type ConfigBuilder struct {
	iface *Interface
	peers []*Peer
}

// NewConfigBuilder returns an empty builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// SetInterface sets the interface section.
func (b *ConfigBuilder) SetInterface(i *Interface) *ConfigBuilder {
	b.iface = i
	return b
}

// AddPeer appends a peer.
func (b *ConfigBuilder) AddPeer(p *Peer) *ConfigBuilder {
	b.peers = append(b.peers, p)
	return b
}

// AddPeers appends peers in order.
func (b *ConfigBuilder) AddPeers(ps ...*Peer) *ConfigBuilder {
	b.peers = append(b.peers, ps...)
	return b
}

// Build checks that the interface is present and peer keys are unique.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.iface == nil {
		return nil, newParseError(SectionConfig, LocationTopLevel, ReasonMissingSection, "", nil)
	}
	seen := make(map[Key]struct{}, len(b.peers))
	for _, p := range b.peers {
		if _, dup := seen[p.publicKey]; dup {
			return nil, newParseError(SectionPeer, LocationPublicKey, ReasonInvalidKey, p.publicKey.Base64(), nil)
		}
		seen[p.publicKey] = struct{}{}
	}
	return &Config{iface: b.iface, peers: slices.Clone(b.peers)}, nil
}

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionInterface
	sectionPeer
)

// Parse reads a configuration in the wg-quick text format. Every line must
// belong to a known section and name a known attribute; the first problem is
// returned as a *ParseError.
func Parse(r io.Reader) (*Config, error) {
	var (
		current        = sectionNone
		sawInterface   bool
		interfaceLines []string
		peerLines      [][]string
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			switch strings.ToLower(line) {
			case "[interface]":
				current = sectionInterface
				sawInterface = true
			case "[peer]":
				current = sectionPeer
				peerLines = append(peerLines, nil)
			default:
				return nil, newParseError(SectionConfig, LocationTopLevel, ReasonUnknownSection, line, nil)
			}
			continue
		}
		switch current {
		case sectionInterface:
			interfaceLines = append(interfaceLines, line)
		case sectionPeer:
			last := len(peerLines) - 1
			peerLines[last] = append(peerLines[last], line)
		default:
			return nil, newParseError(SectionConfig, LocationTopLevel, ReasonSyntaxError, line, nil)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newParseError(SectionConfig, LocationTopLevel, ReasonSyntaxError, "", err)
	}
	if !sawInterface {
		return nil, newParseError(SectionConfig, LocationTopLevel, ReasonMissingSection, "", nil)
	}

	b := NewConfigBuilder()
	iface, err := parseInterface(interfaceLines)
	if err != nil {
		return nil, err
	}
	b.SetInterface(iface)
	for _, lines := range peerLines {
		p, err := parsePeer(lines)
		if err != nil {
			return nil, err
		}
		b.AddPeer(p)
	}
	return b.Build()
}

// ParseString is Parse on an in-memory string.
func ParseString(s string) (*Config, error) {
	return Parse(strings.NewReader(s))
}
