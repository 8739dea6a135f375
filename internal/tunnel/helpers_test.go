package tunnel

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/wgtunnel/internal/backend"
	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/state"
	"grimm.is/wgtunnel/internal/wgconf"
)

const (
	privKey = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
	peerKey = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
)

func testConfig(t *testing.T, address string) *wgconf.Config {
	t.Helper()
	cfg, err := wgconf.ParseString(`[Interface]
PrivateKey = ` + privKey + `
Address = ` + address + `

[Peer]
PublicKey = ` + peerKey + `
AllowedIPs = 10.9.0.0/24
`)
	require.NoError(t, err)
	return cfg
}

// fakeBackend keeps a running set in memory and notifies tunnels the way
// the real backends do.
type fakeBackend struct {
	mu        sync.Mutex
	running   map[string]*wgconf.Config
	failUp    map[string]error
	calls     []string
	statCalls int
	block     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{running: make(map[string]*wgconf.Config), failUp: make(map[string]error)}
}

func (f *fakeBackend) Kind() string { return "fake" }

func (f *fakeBackend) SetState(_ context.Context, t backend.Tunnel, want backend.State, cfg *wgconf.Config) (backend.State, error) {
	f.mu.Lock()
	_, up := f.running[t.Name()]
	current := backend.StateOf(up)
	if want == backend.StateToggle {
		want = backend.StateOf(!up)
	}
	f.calls = append(f.calls, t.Name()+":"+want.String())
	if want == backend.StateUp {
		if err := f.failUp[t.Name()]; err != nil {
			f.mu.Unlock()
			return current, err
		}
		f.running[t.Name()] = cfg
	} else {
		delete(f.running, t.Name())
	}
	f.mu.Unlock()
	if want != current {
		t.OnStateChange(want)
	}
	return want, nil
}

func (f *fakeBackend) GetState(_ context.Context, t backend.Tunnel) (backend.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, up := f.running[t.Name()]
	return backend.StateOf(up), nil
}

func (f *fakeBackend) GetStatistics(_ context.Context, t backend.Tunnel) (*backend.Statistics, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statCalls++
	stats := backend.NewStatistics()
	if _, up := f.running[t.Name()]; up {
		key, _ := wgconf.ParseKeyBase64(peerKey)
		stats.Add(key, backend.PeerStats{RxBytes: int64(100 * f.statCalls), TxBytes: 50})
	}
	return stats, nil
}

func (f *fakeBackend) GetRunningTunnelNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.running))
	for n := range f.running {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeBackend) GetVersion(context.Context) (string, error) { return "test", nil }

func (f *fakeBackend) isUp(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[name]
	return ok
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type fixture struct {
	backend *fakeBackend
	configs *FileConfigStore
	running *state.RunningTunnels
	manager *Manager
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{
		backend: newFakeBackend(),
		configs: NewFileConfigStore(t.TempDir()),
	}
	for i, name := range names {
		require.NoError(t, f.configs.Create(name, testConfig(t, "10.9.0."+string(rune('1'+i))+"/32")))
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.running = state.NewRunningTunnels(store)
	return f
}

func (f *fixture) start(t *testing.T, opts Options) *Manager {
	t.Helper()
	opts.Running = f.running
	opts.Logger = logging.Discard()
	f.manager = NewManager(f.backend, f.configs, opts)
	t.Cleanup(f.manager.Close)
	require.NoError(t, f.manager.Load(context.Background()))
	return f.manager
}

func useMockClock(t *testing.T) *clock.MockClock {
	t.Helper()
	mc := clock.NewMockClock(time.Unix(1700000000, 0))
	prev := clock.Real
	clock.Real = mc
	t.Cleanup(func() { clock.Real = prev })
	return mc
}

var errBoom = errors.New("boom")
