// Package health reports the operational state of the prompt router and its dependencies.
package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
)

// Overall statuses, from best to worst.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Service statuses.
const (
	ServiceRunning  = "running"
	ServiceDegraded = "degraded"
	ServiceDown     = "down"
	ServiceDisabled = "disabled"
)

// Pinger is anything that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelCounter reports how many catalog models can currently take traffic.
type ModelCounter interface {
	AvailableCount() int
}

// BudgetSource exposes the ledger's current state.
type BudgetSource interface {
	Snapshot() budget.Snapshot
}

// ServiceHealth is the result of one probe.
type ServiceHealth struct {
	ServiceName string    `json:"service_name"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	LatencyMs   float64   `json:"latency_ms"`
	LastChecked time.Time `json:"last_checked"`
}

// PerformanceMetrics are process runtime figures.
type PerformanceMetrics struct {
	HeapInUseBytes uint64  `json:"heap_in_use_bytes"`
	HeapObjects    uint64  `json:"heap_objects"`
	Goroutines     int     `json:"goroutines"`
	NumGC          uint32  `json:"num_gc"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Report is a full system health snapshot.
type Report struct {
	OverallStatus      string             `json:"overall_status"`
	Services           []ServiceHealth    `json:"services"`
	Alerts             []string           `json:"alerts"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	CheckedAt          time.Time          `json:"checked_at"`
}

// Deps are the components a Monitor probes. Cache may be nil when Redis is not configured.
type Deps struct {
	Store    Pinger
	Cache    Pinger
	Registry ModelCounter
	Ledger   BudgetSource
}

// Monitor runs health probes.
type Monitor struct {
	deps    Deps
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// NewMonitor creates a Monitor. Each probe is bounded by timeout.
func NewMonitor(deps Deps, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{deps: deps, timeout: timeout, started: time.Now(), now: time.Now}
}

// probe returns the service result, any alert it raises, and the overall
// status it implies.
type probe func(ctx context.Context) (ServiceHealth, string, string)

// Check runs every probe concurrently and folds the results into a Report.
// Probe failures are reported, never returned as errors.
func (m *Monitor) Check(ctx context.Context) *Report {
	probes := []probe{m.checkStore, m.checkCache, m.checkRegistry, m.checkLedger}

	type result struct {
		svc    ServiceHealth
		alert  string
		status string
	}
	results := make([]result, len(probes))

	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gCtx, m.timeout)
			defer cancel()
			start := time.Now()
			svc, alert, status := p(pctx)
			svc.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
			svc.LastChecked = m.now().UTC()
			results[i] = result{svc: svc, alert: alert, status: status}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		OverallStatus:      StatusOK,
		Services:           make([]ServiceHealth, 0, len(results)),
		Alerts:             []string{},
		PerformanceMetrics: m.performance(),
		CheckedAt:          m.now().UTC(),
	}
	for _, r := range results {
		report.Services = append(report.Services, r.svc)
		if r.alert != "" {
			report.Alerts = append(report.Alerts, r.alert)
		}
		report.OverallStatus = worse(report.OverallStatus, r.status)
	}
	return report
}

func (m *Monitor) checkStore(ctx context.Context) (ServiceHealth, string, string) {
	svc := ServiceHealth{ServiceName: "database"}
	if m.deps.Store == nil {
		svc.Status = ServiceDown
		return svc, "Database is not configured", StatusCritical
	}
	if err := m.deps.Store.Ping(ctx); err != nil {
		svc.Status, svc.Detail = ServiceDown, err.Error()
		return svc, "Database is unreachable", StatusCritical
	}
	svc.Status = ServiceRunning
	return svc, "", StatusOK
}

func (m *Monitor) checkCache(ctx context.Context) (ServiceHealth, string, string) {
	svc := ServiceHealth{ServiceName: "redis"}
	if m.deps.Cache == nil {
		svc.Status = ServiceDisabled
		return svc, "", StatusOK
	}
	if err := m.deps.Cache.Ping(ctx); err != nil {
		svc.Status, svc.Detail = ServiceDegraded, err.Error()
		return svc, "Redis is unreachable; rate limiting and checkpoints are local only", StatusWarning
	}
	svc.Status = ServiceRunning
	return svc, "", StatusOK
}

func (m *Monitor) checkRegistry(_ context.Context) (ServiceHealth, string, string) {
	svc := ServiceHealth{ServiceName: "model_registry"}
	n := m.deps.Registry.AvailableCount()
	svc.Detail = fmt.Sprintf("%d models available", n)
	if n == 0 {
		svc.Status = ServiceDown
		return svc, "No models are available for routing", StatusCritical
	}
	svc.Status = ServiceRunning
	return svc, "", StatusOK
}

func (m *Monitor) checkLedger(_ context.Context) (ServiceHealth, string, string) {
	svc := ServiceHealth{ServiceName: "budget_ledger", Status: ServiceRunning}
	snap := m.deps.Ledger.Snapshot()
	svc.Detail = fmt.Sprintf("%.2f of %.2f cents remaining", snap.RemainingCents, snap.MonthlyCapCents)
	if len(snap.Alerts) == 0 {
		return svc, "", StatusOK
	}
	svc.Status = ServiceDegraded
	status := StatusWarning
	for _, a := range snap.Alerts {
		if a == budget.AlertOverCap {
			status = StatusCritical
		}
	}
	return svc, snap.Alerts[len(snap.Alerts)-1], status
}

func (m *Monitor) performance() PerformanceMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return PerformanceMetrics{
		HeapInUseBytes: ms.HeapInuse,
		HeapObjects:    ms.HeapObjects,
		Goroutines:     runtime.NumGoroutine(),
		NumGC:          ms.NumGC,
		UptimeSeconds:  m.now().Sub(m.started).Seconds(),
	}
}

func worse(a, b string) string {
	rank := map[string]int{StatusOK: 0, StatusWarning: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
