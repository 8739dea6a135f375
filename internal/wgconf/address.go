package wgconf

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9_]([A-Za-z0-9_.-]*[A-Za-z0-9_.])?$`)

// ParseAddr parses a numeric IPv4 or IPv6 address without any DNS lookup.
func ParseAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, errors.New("empty address")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.WithZone(""), nil
}

// ParsePrefix parses "address[/bits]". A missing length means a host route
// (32 or 128). A length outside the family's range is clamped to that same
// maximum instead of being rejected.
func ParsePrefix(s string) (netip.Prefix, error) {
	rawAddr := s
	bits := -1
	if slash := strings.LastIndexByte(s, '/'); slash >= 0 {
		n, err := strconv.Atoi(s[slash+1:])
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid prefix length %q", s[slash+1:])
		}
		bits = n
		rawAddr = s[:slash]
	}
	addr, err := ParseAddr(rawAddr)
	if err != nil {
		return netip.Prefix{}, err
	}
	maxBits := addr.BitLen()
	if bits < 0 || bits > maxBits {
		bits = maxBits
	}
	return netip.PrefixFrom(addr, bits), nil
}

// IsDefaultRoute reports whether p covers every address of its family.
func IsDefaultRoute(p netip.Prefix) bool {
	return p.Bits() == 0
}

func isSearchDomain(s string) bool {
	return len(s) <= 253 && hostnamePattern.MatchString(s)
}

// splitList splits a comma separated attribute value, trimming whitespace
// around every element.
func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func joinPrefixes(ps []netip.Prefix) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = p.String()
	}
	return strings.Join(s, ", ")
}
