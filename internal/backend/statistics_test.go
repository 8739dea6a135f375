package backend

import (
	"testing"
	"time"

	"grimm.is/wgtunnel/internal/wgconf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, b64 string) wgconf.Key {
	t.Helper()
	k, err := wgconf.ParseKeyBase64(b64)
	require.NoError(t, err)
	return k
}

func TestParseWgDump(t *testing.T) {
	lines := []string{
		"cHJpdmF0ZQ==\tcHVibGlj\t51820\toff",
		peer1 + "\t(none)\t192.0.2.1:51820\t10.0.0.0/24\t1700000000\t100\t200\t25",
		peer2 + "\t(none)\t(none)\t10.0.1.0/24\t0\t0\t0\toff",
		"garbage\tline",
		"bm90IGEga2V5\t(none)\t(none)\t(none)\t0\t1\t2\toff",
	}
	stats := ParseWgDump(lines)

	require.Len(t, stats.Peers(), 2)
	p1 := stats.Peer(mustKey(t, peer1))
	assert.Equal(t, int64(100), p1.RxBytes)
	assert.Equal(t, int64(200), p1.TxBytes)
	assert.Equal(t, time.Unix(1700000000, 0), p1.LatestHandshake)

	p2 := stats.Peer(mustKey(t, peer2))
	assert.True(t, p2.LatestHandshake.IsZero())
	assert.Equal(t, int64(100), stats.TotalRx())
	assert.Equal(t, int64(200), stats.TotalTx())
}

func TestParseUserspaceDump(t *testing.T) {
	k1, k2 := mustKey(t, peer1), mustKey(t, peer2)
	dump := "private_key=" + k1.Hex() + "\n" +
		"listen_port=51820\n" +
		"public_key=" + k1.Hex() + "\n" +
		"endpoint=192.0.2.1:51820\n" +
		"last_handshake_time_sec=1700000000\n" +
		"last_handshake_time_nsec=500\n" +
		"rx_bytes=1000\n" +
		"tx_bytes=2000\n" +
		"allowed_ip=10.0.0.0/24\n" +
		"public_key=zz\n" +
		"rx_bytes=99\n" +
		"public_key=" + k2.Hex() + "\n" +
		"rx_bytes=1\n" +
		"tx_bytes=2\n" +
		"errno=0\n"

	stats := ParseUserspaceDump(dump)
	require.Len(t, stats.Peers(), 2, "malformed key drops only that peer")

	p1 := stats.Peer(k1)
	assert.Equal(t, PeerStats{RxBytes: 1000, TxBytes: 2000, LatestHandshake: time.Unix(1700000000, 500)}, p1)
	assert.Equal(t, PeerStats{RxBytes: 1, TxBytes: 2}, stats.Peer(k2))
	assert.Equal(t, int64(1001), stats.TotalRx())
}

func TestStatisticsMissingPeerReadsZero(t *testing.T) {
	stats := NewStatistics()
	assert.Equal(t, PeerStats{}, stats.Peer(mustKey(t, peer1)))
	assert.Zero(t, stats.TotalRx())
}

func TestStatisticsStaleness(t *testing.T) {
	mc := useMockClock(t)
	stats := NewStatistics()
	assert.False(t, stats.IsStale())

	mc.Advance(800 * time.Millisecond)
	assert.False(t, stats.IsStale())

	mc.Advance(200 * time.Millisecond)
	assert.True(t, stats.IsStale())

	stats.Add(mustKey(t, peer1), PeerStats{RxBytes: 1})
	assert.False(t, stats.IsStale())
}
