// Package metrics tracks invocation statistics in process and exports them
// to Prometheus.
package metrics

import (
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// latency aggregates durations in milliseconds.
type latency struct {
	count atomic.Int64
	total atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

func (l *latency) init() { l.min.Store(math.MaxInt64) }

func (l *latency) observe(ms int64) {
	l.count.Add(1)
	l.total.Add(ms)
	for {
		cur := l.min.Load()
		if ms >= cur || l.min.CompareAndSwap(cur, ms) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if ms <= cur || l.max.CompareAndSwap(cur, ms) {
			break
		}
	}
}

func (l *latency) snapshot() LatencyStats {
	n := l.count.Load()
	if n == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		AvgMs: float64(l.total.Load()) / float64(n),
		MinMs: l.min.Load(),
		MaxMs: l.max.Load(),
	}
}

// LatencyStats summarizes observed durations. All fields are zero before
// the first observation.
type LatencyStats struct {
	AvgMs float64 `json:"avg_ms"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
}

// Metrics collects runtime statistics.
type Metrics struct {
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64
	ColdStarts         atomic.Int64
	InitErrors         atomic.Int64

	latency   latency
	handlers  sync.Map // handler -> *handlerMetrics
	startTime time.Time
}

type handlerMetrics struct {
	failures atomic.Int64
	latency  latency
}

var global = New()

// New returns an empty collector.
func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.latency.init()
	return m
}

// Global returns the process-wide collector.
func Global() *Metrics {
	return global
}

// RecordInvocation records an invocation result, also in Prometheus.
func (m *Metrics) RecordInvocation(handler, mode string, durationMs int64, coldStart bool, success bool) {
	m.TotalInvocations.Add(1)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}
	if coldStart {
		m.ColdStarts.Add(1)
	}
	m.latency.observe(durationMs)

	hm := m.handler(handler)
	hm.latency.observe(durationMs)
	if !success {
		hm.failures.Add(1)
	}

	RecordPrometheusInvocation(handler, mode, durationMs, coldStart, success)
}

// RecordInitError records an error reported during init.
func (m *Metrics) RecordInitError(errorType string) {
	m.InitErrors.Add(1)
	RecordInitError(errorType)
}

func (m *Metrics) handler(name string) *handlerMetrics {
	if v, ok := m.handlers.Load(name); ok {
		return v.(*handlerMetrics)
	}
	hm := &handlerMetrics{}
	hm.latency.init()
	actual, _ := m.handlers.LoadOrStore(name, hm)
	return actual.(*handlerMetrics)
}

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Invocations   int64          `json:"invocations"`
	Successes     int64          `json:"successes"`
	Failures      int64          `json:"failures"`
	ColdStarts    int64          `json:"cold_starts"`
	ColdStartPct  float64        `json:"cold_start_pct"`
	InitErrors    int64          `json:"init_errors"`
	Latency       LatencyStats   `json:"latency"`
	Handlers      []HandlerStats `json:"handlers"`
}

// HandlerStats is the per-handler part of a Snapshot.
type HandlerStats struct {
	Handler     string       `json:"handler"`
	Invocations int64        `json:"invocations"`
	Failures    int64        `json:"failures"`
	Latency     LatencyStats `json:"latency"`
}

// Snapshot returns the current counters. Handlers are sorted by name.
func (m *Metrics) Snapshot() Snapshot {
	total := m.TotalInvocations.Load()
	cold := m.ColdStarts.Load()
	s := Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Invocations:   total,
		Successes:     m.SuccessInvocations.Load(),
		Failures:      m.FailedInvocations.Load(),
		ColdStarts:    cold,
		InitErrors:    m.InitErrors.Load(),
		Latency:       m.latency.snapshot(),
		Handlers:      []HandlerStats{},
	}
	if total > 0 {
		s.ColdStartPct = float64(cold) / float64(total) * 100
	}
	m.handlers.Range(func(key, value any) bool {
		hm := value.(*handlerMetrics)
		s.Handlers = append(s.Handlers, HandlerStats{
			Handler:     key.(string),
			Invocations: hm.latency.count.Load(),
			Failures:    hm.failures.Load(),
			Latency:     hm.latency.snapshot(),
		})
		return true
	})
	sort.Slice(s.Handlers, func(i, j int) bool { return s.Handlers[i].Handler < s.Handlers[j].Handler })
	return s
}

// JSONHandler serves Snapshot as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
