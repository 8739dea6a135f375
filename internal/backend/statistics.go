package backend

import (
	"bytes"
	"slices"
	"strconv"
	"strings"
	"time"

	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/wgconf"
)

// staleAfter is how long a snapshot is served before it is refreshed.
const staleAfter = 900 * time.Millisecond

// PeerStats is the traffic of one peer.
type PeerStats struct {
	RxBytes int64
	TxBytes int64
	// LatestHandshake is zero when no handshake has completed.
	LatestHandshake time.Time
}

// Statistics is a snapshot of per-peer traffic for one tunnel. Peers that
// are not present read as zero.
type Statistics struct {
	peers   map[wgconf.Key]PeerStats
	touched time.Time
}

// NewStatistics returns an empty snapshot taken now.
func NewStatistics() *Statistics {
	return &Statistics{peers: make(map[wgconf.Key]PeerStats), touched: clock.Now()}
}

// Add records the counters of one peer.
func (s *Statistics) Add(key wgconf.Key, stats PeerStats) {
	s.peers[key] = stats
	s.touched = clock.Now()
}

// Peer returns the counters of key, or zeros.
func (s *Statistics) Peer(key wgconf.Key) PeerStats {
	return s.peers[key]
}

// Peers returns the keys present in the snapshot in a stable order.
func (s *Statistics) Peers() []wgconf.Key {
	keys := make([]wgconf.Key, 0, len(s.peers))
	for k := range s.peers {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b wgconf.Key) int { return bytes.Compare(a[:], b[:]) })
	return keys
}

// TotalRx sums received bytes over all peers.
func (s *Statistics) TotalRx() int64 {
	var n int64
	for _, p := range s.peers {
		n += p.RxBytes
	}
	return n
}

// TotalTx sums transmitted bytes over all peers.
func (s *Statistics) TotalTx() int64 {
	var n int64
	for _, p := range s.peers {
		n += p.TxBytes
	}
	return n
}

// IsStale reports whether the snapshot should be refreshed.
func (s *Statistics) IsStale() bool {
	return clock.Since(s.touched) > staleAfter
}

// ParseWgDump reads the output of "wg show <name> dump". Peer lines have
// eight tab separated fields; the interface line and anything malformed are
// skipped.
func ParseWgDump(lines []string) *Statistics {
	stats := NewStatistics()
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		if len(parts) != 8 {
			continue
		}
		key, err := wgconf.ParseKeyBase64(parts[0])
		if err != nil {
			continue
		}
		handshake, err1 := strconv.ParseInt(parts[4], 10, 64)
		rx, err2 := strconv.ParseInt(parts[5], 10, 64)
		tx, err3 := strconv.ParseInt(parts[6], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		ps := PeerStats{RxBytes: rx, TxBytes: tx}
		if handshake > 0 {
			ps.LatestHandshake = time.Unix(handshake, 0)
		}
		stats.Add(key, ps)
	}
	return stats
}

// ParseUserspaceDump reads the key=value output of an engine "get" request.
// A public_key line starts a new peer; a peer whose key does not parse is
// dropped without affecting the others.
func ParseUserspaceDump(text string) *Statistics {
	stats := NewStatistics()
	var (
		current *wgconf.Key
		ps      PeerStats
		sec     int64
		nsec    int64
	)
	flush := func() {
		if current != nil {
			if sec != 0 || nsec != 0 {
				ps.LatestHandshake = time.Unix(sec, nsec)
			}
			stats.Add(*current, ps)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k == "public_key" {
			flush()
			current, ps, sec, nsec = nil, PeerStats{}, 0, 0
			if key, err := wgconf.ParseKeyHex(v); err == nil {
				current = &key
			}
			continue
		}
		if current == nil {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			n = 0
		}
		switch k {
		case "rx_bytes":
			ps.RxBytes = n
		case "tx_bytes":
			ps.TxBytes = n
		case "last_handshake_time_sec":
			sec = n
		case "last_handshake_time_nsec":
			nsec = n
		}
	}
	flush()
	return stats
}
