package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"grimm.is/wgtunnel/internal/logging"
)

type stubSource struct {
	mu      sync.Mutex
	samples []PeerSample
	err     error
	polls   int
}

func (s *stubSource) PeerSamples(context.Context) ([]PeerSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.samples, s.err
}

func (s *stubSource) set(samples []PeerSample, err error) {
	s.mu.Lock()
	s.samples, s.err = samples, err
	s.mu.Unlock()
}

func (s *stubSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func TestCollector_RecordsPeers(t *testing.T) {
	src := &stubSource{}
	c := NewCollector(src, logging.Discard(), time.Minute)
	r := Get()

	handshake := time.Unix(1700000000, 0)
	src.set([]PeerSample{
		{Tunnel: "col-a", Peer: "p1", RxBytes: 10, TxBytes: 20, LastHandshake: handshake},
		{Tunnel: "col-a", Peer: "p2", RxBytes: 30, TxBytes: 40},
	}, nil)
	c.Collect()

	if got := testutil.ToFloat64(r.PeerRxBytes.WithLabelValues("col-a", "p1")); got != 10 {
		t.Errorf("rx = %v, want 10", got)
	}
	if got := testutil.ToFloat64(r.PeerTxBytes.WithLabelValues("col-a", "p2")); got != 40 {
		t.Errorf("tx = %v, want 40", got)
	}
	if got := testutil.ToFloat64(r.PeerLastHandshake.WithLabelValues("col-a", "p1")); got != float64(handshake.Unix()) {
		t.Errorf("handshake = %v", got)
	}
	if len(c.GetPeerSamples()) != 2 {
		t.Errorf("expected 2 samples, got %d", len(c.GetPeerSamples()))
	}
	if c.GetLastUpdate().IsZero() {
		t.Error("expected last update to be set")
	}
}

func TestCollector_ForgetsVanishedPeers(t *testing.T) {
	src := &stubSource{}
	c := NewCollector(src, logging.Discard(), time.Minute)
	r := Get()

	src.set([]PeerSample{{Tunnel: "col-b", Peer: "p1", RxBytes: 1}}, nil)
	c.Collect()
	before := testutil.CollectAndCount(r.PeerRxBytes)
	if before == 0 {
		t.Fatal("expected a series to exist")
	}

	// A failed poll must not drop series.
	src.set(nil, errors.New("backend unreachable"))
	c.Collect()
	if got := testutil.CollectAndCount(r.PeerRxBytes); got != before {
		t.Errorf("series changed on failed poll: %d -> %d", before, got)
	}

	src.set(nil, nil)
	c.Collect()
	if got := testutil.CollectAndCount(r.PeerRxBytes); got != before-1 {
		t.Errorf("expected vanished peer to be removed: %d -> %d", before, got)
	}
}

func TestCollector_Lifecycle(t *testing.T) {
	src := &stubSource{}
	c := NewCollector(src, logging.Discard(), 10*time.Millisecond)

	if !c.GetLastUpdate().IsZero() {
		t.Error("Expected initial lastUpdate to be zero")
	}

	done := make(chan struct{})
	go func() {
		c.Start()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	c.Stop()
	<-done

	if src.pollCount() == 0 {
		t.Error("expected the collector to poll at least once")
	}
}
