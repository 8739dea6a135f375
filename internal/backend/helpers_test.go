package backend

import (
	"sync"
	"testing"

	"grimm.is/wgtunnel/internal/wgconf"

	"github.com/stretchr/testify/require"
)

const (
	privA = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
	privB = "gN65BkIKy1eCE9pP1wdc8ROUtkHLF2PfAqYdyYBz6EA="
	peer1 = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
	peer2 = "TrMvSoP4jYQlY6RIzBgbssQqY3vxI2Pi+y71lOWWXX0="
)

func mustParse(t *testing.T, text string) *wgconf.Config {
	t.Helper()
	cfg, err := wgconf.ParseString(text)
	require.NoError(t, err)
	return cfg
}

func splitConfig(t *testing.T, priv string) *wgconf.Config {
	return mustParse(t, `[Interface]
PrivateKey = `+priv+`
Address = 10.0.0.1/24

[Peer]
PublicKey = `+peer1+`
AllowedIPs = 10.0.0.0/24
Endpoint = 192.0.2.1:51820
`)
}

func fullTunnelConfig(t *testing.T) *wgconf.Config {
	return mustParse(t, `[Interface]
PrivateKey = `+privA+`
Address = 10.0.0.1/32
DNS = 10.0.0.53, example.internal
MTU = 1420

[Peer]
PublicKey = `+peer1+`
AllowedIPs = 0.0.0.0/0
Endpoint = 192.0.2.1:51820
`)
}

func twoPeerConfig(t *testing.T) *wgconf.Config {
	return mustParse(t, `[Interface]
PrivateKey = `+privA+`
Address = 10.0.0.1/24

[Peer]
PublicKey = `+peer1+`
AllowedIPs = 10.0.1.0/24

[Peer]
PublicKey = `+peer2+`
AllowedIPs = 10.0.2.0/24
`)
}

// recordingTunnel remembers every state change it is notified of.
type recordingTunnel struct {
	name string

	mu     sync.Mutex
	states []State
}

func newTunnel(name string) *recordingTunnel {
	return &recordingTunnel{name: name}
}

func (r *recordingTunnel) Name() string { return r.name }

func (r *recordingTunnel) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingTunnel) changes() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
