package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grimm.is/wgtunnel/internal/clock"
)

type prober struct {
	version string
	err     error
}

func (p prober) GetVersion(context.Context) (string, error) { return p.version, p.err }

func TestHealthRegistry(t *testing.T) {
	ctx := context.Background()

	checker := NewChecker(0)
	if checker == nil {
		t.Fatal("NewChecker returned nil")
	}

	checker.Register("test_check", func(ctx context.Context) Check {
		return Check{Status: StatusHealthy, Message: "OK"}
	})

	report := checker.Check(ctx)
	if len(report.Checks) != 1 {
		t.Errorf("Expected 1 result, got %d", len(report.Checks))
	}
	if report.Checks["test_check"].Status != StatusHealthy {
		t.Error("Check failed")
	}
	if report.Checks["test_check"].Name != "test_check" {
		t.Errorf("Name = %q", report.Checks["test_check"].Name)
	}
}

func TestOverallStatus(t *testing.T) {
	checker := NewChecker(0)
	checker.Register("ok", BackendCheck(prober{version: "v1.0.0"}))
	checker.Register("drift", DriftCheck(
		func() ([]string, error) { return []string{"home", "work"}, nil },
		func(_ context.Context, name string) bool { return name == "home" },
	))

	report := checker.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("Status = %s, want degraded", report.Status)
	}
	if got := report.Checks["drift"].Message; got != "not running: work" {
		t.Errorf("drift message = %q", got)
	}

	checker = NewChecker(0)
	checker.Register("backend", BackendCheck(prober{err: errors.New("wg not found")}))
	checker.Register("drift", DriftCheck(
		func() ([]string, error) { return []string{"work"}, nil },
		func(context.Context, string) bool { return false },
	))
	if report := checker.Check(context.Background()); report.Status != StatusUnhealthy {
		t.Fatalf("Status = %s, want unhealthy", report.Status)
	}
}

func TestStoreCheck(t *testing.T) {
	ok := StoreCheck(func() error { return nil })(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("Status = %s", ok.Status)
	}
	bad := StoreCheck(func() error { return errors.New("locked") })(context.Background())
	if bad.Status != StatusUnhealthy {
		t.Errorf("Status = %s", bad.Status)
	}
}

func TestReportCached(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	old := clock.Real
	clock.Real = mock
	t.Cleanup(func() { clock.Real = old })

	calls := 0
	checker := NewChecker(time.Minute)
	checker.Register("count", func(context.Context) Check {
		calls++
		return Check{Status: StatusHealthy}
	})

	checker.Check(context.Background())
	checker.Check(context.Background())
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 while cached", calls)
	}
	mock.Advance(2 * time.Minute)
	checker.Check(context.Background())
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 after expiry", calls)
	}
}

func TestHandlers(t *testing.T) {
	checker := NewChecker(0)
	checker.Register("backend", BackendCheck(prober{err: errors.New("missing")}))

	rec := httptest.NewRecorder()
	checker.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Handler code = %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Checks["backend"].Message != "missing" {
		t.Errorf("message = %q", report.Checks["backend"].Message)
	}

	rec = httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "NOT READY" {
		t.Errorf("readiness = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness code = %d", rec.Code)
	}
}

func TestRegisterDropsCachedReport(t *testing.T) {
	checker := NewChecker(time.Hour)
	checker.Register("a", func(context.Context) Check { return Check{Status: StatusHealthy} })
	if got := checker.Check(context.Background()).Failing(); len(got) != 0 {
		t.Fatalf("Failing() = %v", got)
	}

	checker.Register("b", func(context.Context) Check { return Check{Status: StatusDegraded} })
	report := checker.Check(context.Background())
	if got := report.Failing(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Failing() = %v, want [b]", got)
	}
}
