package engine

import (
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"testing"

	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/wgconf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/tun"
)

// fakeTUN is an in-memory tun.Device that never carries packets.
type fakeTUN struct {
	events chan tun.Event
	done   chan struct{}
	once   sync.Once
}

func newFakeTUN() *fakeTUN {
	t := &fakeTUN{events: make(chan tun.Event, 1), done: make(chan struct{})}
	t.events <- tun.EventUp
	return t
}

func (t *fakeTUN) File() *os.File { return nil }

func (t *fakeTUN) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	<-t.done
	return 0, os.ErrClosed
}

func (t *fakeTUN) Write(bufs [][]byte, offset int) (int, error) { return len(bufs), nil }
func (t *fakeTUN) MTU() (int, error)                             { return 1280, nil }
func (t *fakeTUN) Name() (string, error)                         { return "wgtest0", nil }
func (t *fakeTUN) Events() <-chan tun.Event                      { return t.events }
func (t *fakeTUN) BatchSize() int                                { return 1 }

func (t *fakeTUN) Close() error {
	t.once.Do(func() {
		close(t.done)
		close(t.events)
	})
	return nil
}

func (t *fakeTUN) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func uapiConfig(t *testing.T) (string, wgconf.Key) {
	t.Helper()
	priv, err := wgconf.GeneratePrivateKey()
	require.NoError(t, err)
	peerPriv, err := wgconf.GeneratePrivateKey()
	require.NoError(t, err)
	peer := peerPriv.PublicKey()

	var b strings.Builder
	b.WriteString("private_key=" + priv.Hex() + "\n")
	b.WriteString("listen_port=0\n")
	b.WriteString("replace_peers=true\n")
	b.WriteString("public_key=" + peer.Hex() + "\n")
	b.WriteString("allowed_ip=10.0.0.2/32\n")
	return b.String(), peer
}

func TestActivateQueryDeactivate(t *testing.T) {
	e := New(logging.Discard())
	cfg, peer := uapiConfig(t)
	dev := newFakeTUN()

	h, err := e.Activate("wg0", dev, cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h, 0)

	dump, err := e.QueryConfig(h)
	require.NoError(t, err)
	assert.Contains(t, dump, "public_key="+hex.EncodeToString(peer[:]))
	assert.Contains(t, dump, "allowed_ip=10.0.0.2/32")

	require.NoError(t, e.Deactivate(h))
	assert.True(t, dev.closed())

	_, err = e.QueryConfig(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, e.Deactivate(h), ErrUnknownHandle)
}

func TestHandlesAreReused(t *testing.T) {
	e := New(logging.Discard())
	cfg, _ := uapiConfig(t)

	h1, err := e.Activate("a", newFakeTUN(), cfg)
	require.NoError(t, err)
	h2, err := e.Activate("b", newFakeTUN(), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	require.NoError(t, e.Deactivate(h1))
	h3, err := e.Activate("c", newFakeTUN(), cfg)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	require.NoError(t, e.Deactivate(h2))
	require.NoError(t, e.Deactivate(h3))
}

func TestActivateRejectsBadConfig(t *testing.T) {
	e := New(logging.Discard())
	dev := newFakeTUN()

	h, err := e.Activate("wg0", dev, "private_key=nothex\n")
	require.Error(t, err)
	assert.Equal(t, CodeConfig, h)

	var aerr *ActivationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, CodeConfig, aerr.Code)
	assert.True(t, dev.closed())
}

func TestActivateWithoutDevice(t *testing.T) {
	e := New(logging.Discard())
	h, err := e.Activate("wg0", nil, "")
	assert.Equal(t, CodeNoDevice, h)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, New(nil).Version())
}
