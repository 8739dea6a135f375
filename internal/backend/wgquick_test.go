package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"grimm.is/wgtunnel/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var wgQuickCommand = regexp.MustCompile(`wg-quick (up|down) '([^']+)'$`)

// fakeWg simulates wg and wg-quick behind the privileged shell.
type fakeWg struct {
	mu       sync.Mutex
	running  map[string]string // interface -> config text it was started with
	failUp   map[string]int    // interface -> remaining failing "up" calls
	commands []string
	noModule bool
	shellErr error
}

func newFakeWg() *fakeWg {
	return &fakeWg{running: map[string]string{}, failUp: map[string]int{}}
}

func (f *fakeWg) Run(_ context.Context, output *[]string, command string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.shellErr != nil {
		return -1, f.shellErr
	}
	emit := func(lines ...string) {
		if output != nil {
			*output = append(*output, lines...)
		}
	}

	switch {
	case command == "wg show interfaces":
		names := slices.Sorted(func(yield func(string) bool) {
			for n := range f.running {
				if !yield(n) {
					return
				}
			}
		})
		emit(strings.Join(names, " "))
		return 0, nil
	case strings.HasPrefix(command, "wg show '"):
		name := strings.TrimSuffix(strings.TrimPrefix(command, "wg show '"), "' dump")
		if _, ok := f.running[name]; !ok {
			return 1, nil
		}
		emit(
			"cHJpdmF0ZQ==\tcHVibGlj\t51820\toff",
			peer1+"\t(none)\t192.0.2.1:51820\t10.0.0.0/24\t1700000000\t1024\t2048\toff",
		)
		return 0, nil
	case command == kernelVersionCommand:
		if f.noModule {
			return 1, nil
		}
		emit("1.0.20220627")
		return 0, nil
	}

	m := wgQuickCommand.FindStringSubmatch(command)
	if m == nil {
		return 127, nil
	}
	if strings.HasPrefix(command, kernelVersionCommand) && f.noModule {
		return 1, nil
	}
	path := m[2]
	name := strings.TrimSuffix(filepath.Base(path), ".conf")
	text, err := os.ReadFile(path)
	if err != nil {
		return 1, nil
	}
	if m[1] == "up" {
		if f.failUp[name] > 0 {
			f.failUp[name]--
			return 1, nil
		}
		if _, ok := f.running[name]; ok {
			return 1, nil
		}
		f.running[name] = string(text)
		return 0, nil
	}
	if _, ok := f.running[name]; !ok {
		return 1, nil
	}
	delete(f.running, name)
	return 0, nil
}

func (f *fakeWg) runningNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.running))
	for n := range f.running {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (f *fakeWg) quickCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		if m := wgQuickCommand.FindStringSubmatch(c); m != nil {
			out = append(out, m[1]+" "+strings.TrimSuffix(filepath.Base(m[2]), ".conf"))
		}
	}
	return out
}

type MockTools struct {
	mock.Mock
}

func (m *MockTools) EnsureToolsAvailable(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newWgQuick(t *testing.T) (*WgQuickBackend, *fakeWg, string) {
	t.Helper()
	wg := newFakeWg()
	dir := t.TempDir()
	return NewWgQuickBackend(wg, nil, dir, logging.Discard()), wg, dir
}

func TestWgQuickUpDown(t *testing.T) {
	ctx := context.Background()
	b, wg, dir := newWgQuick(t)
	a := newTunnel("a")
	cfg := splitConfig(t, privA)

	state, err := b.SetState(ctx, a, StateUp, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUp, state)
	assert.Equal(t, []string{"a"}, wg.runningNames())
	assert.Equal(t, cfg.WgQuickString(), wg.running["a"])

	names, err := b.GetRunningTunnelNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary config must be removed")

	state, err = b.SetState(ctx, a, StateDown, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDown, state)
	assert.Empty(t, wg.runningNames())
	assert.Equal(t, []State{StateUp, StateDown}, a.changes())
}

func TestWgQuickUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	a := newTunnel("a")
	cfg := splitConfig(t, privA)

	for range 2 {
		state, err := b.SetState(ctx, a, StateUp, cfg)
		require.NoError(t, err)
		assert.Equal(t, StateUp, state)
	}
	assert.Equal(t, []string{"up a"}, wg.quickCommands())

	state, err := b.SetState(ctx, newTunnel("b"), StateDown, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDown, state)
	assert.Equal(t, []string{"up a"}, wg.quickCommands())
}

func TestWgQuickExclusivity(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	a, bt := newTunnel("a"), newTunnel("b")

	_, err := b.SetState(ctx, a, StateUp, splitConfig(t, privA))
	require.NoError(t, err)
	_, err = b.SetState(ctx, bt, StateUp, splitConfig(t, privB))
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, wg.runningNames())
	assert.Equal(t, []string{"up a", "down a", "up b"}, wg.quickCommands())
	assert.Equal(t, []State{StateUp, StateDown}, a.changes())
}

func TestWgQuickExclusivityRollback(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	a, bt := newTunnel("a"), newTunnel("b")
	cfgA := splitConfig(t, privA)

	_, err := b.SetState(ctx, a, StateUp, cfgA)
	require.NoError(t, err)

	wg.failUp["b"] = 1
	state, err := b.SetState(ctx, bt, StateUp, splitConfig(t, privB))
	require.Error(t, err)
	assert.Equal(t, StateDown, state)

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, ReasonToolConfigError, berr.Reason)
	assert.Equal(t, []any{1}, berr.Args)

	assert.Equal(t, []string{"a"}, wg.runningNames())
	assert.Equal(t, cfgA.WgQuickString(), wg.running["a"])
	assert.Equal(t, []string{"up a", "down a", "up b", "up a"}, wg.quickCommands())

	got, err := b.GetState(ctx, bt)
	require.NoError(t, err)
	assert.Equal(t, StateDown, got)
	assert.Empty(t, bt.changes())
	assert.Equal(t, []State{StateUp, StateDown, StateUp}, a.changes())
}

func TestWgQuickMultipleTunnels(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	b.SetMultipleTunnels(true)

	_, err := b.SetState(ctx, newTunnel("a"), StateUp, splitConfig(t, privA))
	require.NoError(t, err)
	_, err = b.SetState(ctx, newTunnel("b"), StateUp, splitConfig(t, privB))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, wg.runningNames())
}

func TestWgQuickStaleConfigRestoredOnFailure(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	a := newTunnel("a")
	stale := splitConfig(t, privA)

	_, err := b.SetState(ctx, a, StateUp, stale)
	require.NoError(t, err)

	wg.failUp["a"] = 1
	state, err := b.SetState(ctx, a, StateUp, splitConfig(t, privB))
	require.Error(t, err)
	assert.Equal(t, StateUp, state)

	assert.Equal(t, []string{"a"}, wg.runningNames())
	assert.Equal(t, stale.WgQuickString(), wg.running["a"])
	assert.Equal(t, []string{"up a", "down a", "up a", "up a"}, wg.quickCommands())
}

func TestWgQuickToggle(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)
	a := newTunnel("a")
	cfg := splitConfig(t, privA)

	state, err := b.SetState(ctx, a, StateToggle, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUp, state)

	state, err = b.SetState(ctx, a, StateToggle, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateDown, state)
	assert.Empty(t, wg.runningNames())
}

func TestWgQuickMissingConfig(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)

	_, err := b.SetState(ctx, newTunnel("a"), StateUp, nil)
	assert.ErrorIs(t, err, &Error{Reason: ReasonMissingConfig})

	// Started outside this backend, so there is no config to bring it down with.
	wg.running["x"] = ""
	state, err := b.SetState(ctx, newTunnel("x"), StateDown, nil)
	assert.ErrorIs(t, err, &Error{Reason: ReasonMissingConfig})
	assert.Equal(t, StateUp, state)
}

func TestWgQuickRejectsInvalidName(t *testing.T) {
	b, wg, _ := newWgQuick(t)
	_, err := b.SetState(context.Background(), newTunnel("this-name-is-too-long"), StateUp, splitConfig(t, privA))
	assert.Error(t, err)
	assert.Empty(t, wg.commands)
}

func TestWgQuickToolsUnavailable(t *testing.T) {
	ctx := context.Background()
	wg := newFakeWg()
	tools := new(MockTools)
	tools.On("EnsureToolsAvailable", mock.Anything).Return(errors.New("no tools")).Once()
	b := NewWgQuickBackend(wg, tools, t.TempDir(), logging.Discard())

	_, err := b.SetState(ctx, newTunnel("a"), StateUp, splitConfig(t, privA))
	assert.EqualError(t, err, "no tools")
	assert.Empty(t, wg.quickCommands())
	tools.AssertExpectations(t)
}

func TestWgQuickStatistics(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newWgQuick(t)
	a := newTunnel("a")

	stats, err := b.GetStatistics(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Empty(t, stats.Peers())
	assert.Zero(t, stats.TotalRx())

	_, err = b.SetState(ctx, a, StateUp, splitConfig(t, privA))
	require.NoError(t, err)

	stats, err = b.GetStatistics(ctx, a)
	require.NoError(t, err)
	require.Len(t, stats.Peers(), 1)
	assert.Equal(t, int64(1024), stats.TotalRx())
	assert.Equal(t, int64(2048), stats.TotalTx())
}

func TestWgQuickVersion(t *testing.T) {
	ctx := context.Background()
	b, wg, _ := newWgQuick(t)

	v, err := b.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.20220627", v)

	wg.noModule = true
	_, err = b.GetVersion(ctx)
	assert.ErrorIs(t, err, &Error{Reason: ReasonUnknownKernelModule})
}

func TestWgQuickShellFailureMeansNothingRuns(t *testing.T) {
	b, wg, _ := newWgQuick(t)
	wg.shellErr = errors.New("shell lost")

	names, err := b.GetRunningTunnelNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
