package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/clock"
	"grimm.is/wgtunnel/internal/logging"
)

// PeerSample is the traffic of one peer of one running tunnel.
type PeerSample struct {
	Tunnel        string    `json:"tunnel"`
	Peer          string    `json:"peer"`
	RxBytes       int64     `json:"rx_bytes"`
	TxBytes       int64     `json:"tx_bytes"`
	LastHandshake time.Time `json:"last_handshake,omitempty"`
}

// Source reports the current peer traffic.
type Source interface {
	PeerSamples(ctx context.Context) ([]PeerSample, error)
}

type peerLabel struct{ tunnel, peer string }

// Collector polls a Source and updates the Prometheus registry.
type Collector struct {
	registry *Registry
	source   Source
	logger   *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	lastUpdate time.Time
	samples    []PeerSample
	seen       map[peerLabel]bool
}

// NewCollector creates a new metrics collector.
func NewCollector(source Source, logger *logging.Logger, interval time.Duration) *Collector {
	return &Collector{
		registry: Get(),
		source:   source,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[peerLabel]bool),
	}
}

// Start runs the collection loop until Stop is called.
func (c *Collector) Start() {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			c.logger.Info("Stopping metrics collector")
			return
		}
	}
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect polls the source once. Series of peers that disappeared are
// removed from the registry.
func (c *Collector) Collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	samples, err := c.source.PeerSamples(ctx)
	if err != nil {
		c.logger.Warn("Failed to collect peer statistics", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[peerLabel]bool, len(samples))
	for _, s := range samples {
		c.registry.RecordPeer(s.Tunnel, s.Peer, s.RxBytes, s.TxBytes, s.LastHandshake)
		current[peerLabel{s.Tunnel, s.Peer}] = true
	}
	// A failed poll keeps the previous series.
	if err == nil {
		for l := range c.seen {
			if !current[l] {
				c.registry.forgetPeer(l.tunnel, l.peer)
			}
		}
		c.seen = current
	} else {
		for l := range current {
			c.seen[l] = true
		}
	}
	c.samples = samples
	c.lastUpdate = clock.Now()
}

// GetPeerSamples returns the samples of the last poll.
func (c *Collector) GetPeerSamples() []PeerSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerSample, len(c.samples))
	copy(out, c.samples)
	return out
}

// GetLastUpdate returns the time of the last poll.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
