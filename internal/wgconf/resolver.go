package wgconf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver performs the lookups an Endpoint needs.
type Resolver interface {
	LookupSRV(ctx context.Context, name string) (target string, port uint16, err error)
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// fallbackNameservers are used for SRV queries when resolv.conf is unusable.
var fallbackNameservers = []string{"223.5.5.5:53", "223.6.6.6:53"}

// DNSResolver resolves SRV records with a direct DNS query and host names
// through the system resolver.
type DNSResolver struct {
	Nameservers []string
	Timeout     time.Duration
	ResolvConf  string
}

// NewDNSResolver returns a resolver that reads its SRV nameservers from
// /etc/resolv.conf.
func NewDNSResolver() *DNSResolver {
	return &DNSResolver{Timeout: 5 * time.Second, ResolvConf: "/etc/resolv.conf"}
}

func (r *DNSResolver) nameservers() []string {
	if len(r.Nameservers) > 0 {
		return r.Nameservers
	}
	if r.ResolvConf != "" {
		if cc, err := dns.ClientConfigFromFile(r.ResolvConf); err == nil && len(cc.Servers) > 0 {
			servers := make([]string, 0, len(cc.Servers))
			for _, s := range cc.Servers {
				servers = append(servers, net.JoinHostPort(s, cc.Port))
			}
			return servers
		}
	}
	return fallbackNameservers
}

// LookupSRV returns the target and port of the first SRV answer.
func (r *DNSResolver) LookupSRV(ctx context.Context, name string) (string, uint16, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.Timeout}
	var lastErr error
	for _, server := range r.nameservers() {
		in, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
			continue
		}
		for _, rr := range in.Answer {
			if srv, ok := rr.(*dns.SRV); ok {
				return strings.TrimSuffix(srv.Target, "."), srv.Port, nil
			}
		}
		lastErr = errors.New("no SRV records")
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers")
	}
	return "", 0, lastErr
}

// LookupHost resolves host with the system resolver.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}
