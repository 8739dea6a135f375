//go:build linux

package platform

import (
	"github.com/vishvananda/netlink"
)

// Netlinker abstracts the netlink calls a session needs so they can be
// mocked in unit tests.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error

	AddrAdd(link netlink.Link, addr *netlink.Addr) error

	RouteAdd(route *netlink.Route) error

	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error

	LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
}

// RealNetlinker calls the netlink package directly.
type RealNetlinker struct{}

func (RealNetlinker) LinkByName(name string) (netlink.Link, error) {
	return netlink.LinkByName(name)
}

func (RealNetlinker) LinkSetUp(link netlink.Link) error {
	return netlink.LinkSetUp(link)
}

func (RealNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return netlink.LinkSetMTU(link, mtu)
}

func (RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}

func (RealNetlinker) RouteAdd(route *netlink.Route) error {
	return netlink.RouteAdd(route)
}

func (RealNetlinker) RuleAdd(rule *netlink.Rule) error {
	return netlink.RuleAdd(rule)
}

func (RealNetlinker) RuleDel(rule *netlink.Rule) error {
	return netlink.RuleDel(rule)
}

func (RealNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	return netlink.LinkSubscribe(ch, done)
}
