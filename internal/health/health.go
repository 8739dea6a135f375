// Package health reports whether the tunnel daemon can do its job. A
// Checker runs registered checks concurrently, caches the report briefly,
// and serves it over HTTP for probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/clock"
)

// Status of a single check or of the whole report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) worse(o Status) bool {
	return rank(s) > rank(o)
}

func rank(s Status) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// Check is the outcome of one registered check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report aggregates every check. Status is the worst check status.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Failing lists the checks that are not healthy, sorted by name.
func (r Report) Failing() []string {
	var out []string
	for name, c := range r.Checks {
		if c.Status != StatusHealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CheckFunc performs one check.
type CheckFunc func(ctx context.Context) Check

// Checker holds the registered checks and the last report.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	last   *Report
	ttl    time.Duration
}

// NewChecker creates a health checker with no checks registered. Reports
// are cached for ttl; zero means five seconds.
func NewChecker(ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    ttl,
	}
}

// Register adds or replaces a check and drops the cached report.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.last = nil
}

// Check returns the cached report while it is fresh, otherwise runs every
// check in parallel.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	if c.last != nil && clock.Since(c.last.Timestamp) < c.ttl {
		report := *c.last
		c.mu.Unlock()
		return report
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.Unlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(funcs)),
		Timestamp: clock.Now(),
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := fn(ctx)
			check.Name = name
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = check
			if check.Status.worse(report.Status) {
				report.Status = check.Status
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.last = &report
	c.mu.Unlock()
	return report
}

// Handler serves the full report as JSON. Degraded still answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler answers READY unless a check is unhealthy.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if c.Check(ctx).Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}
		w.Write([]byte("READY"))
	}
}

// LivenessHandler answers OK while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}
}
