//go:build linux

package platform

import (
	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// MockNetlinker is a mock implementation of the Netlinker interface.
type MockNetlinker struct {
	mock.Mock
}

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}

func (m *MockNetlinker) LinkSetUp(link netlink.Link) error {
	return m.Called(link).Error(0)
}

func (m *MockNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return m.Called(link, mtu).Error(0)
}

func (m *MockNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}

func (m *MockNetlinker) RouteAdd(route *netlink.Route) error {
	return m.Called(route).Error(0)
}

func (m *MockNetlinker) RuleAdd(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}

func (m *MockNetlinker) RuleDel(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}

func (m *MockNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	return m.Called(ch, done).Error(0)
}

// MockFirewall is a mock implementation of the Firewall interface.
type MockFirewall struct {
	mock.Mock
}

func (m *MockFirewall) Block(name string, families []int, mark uint32) error {
	return m.Called(name, families, mark).Error(0)
}

func (m *MockFirewall) Unblock(name string) error {
	return m.Called(name).Error(0)
}
