package observability

import (
	"sort"
	"sync"
)

// OperationMetricsSnapshot is a read-only view of an operation's metrics for
// the admin status endpoint and dashboards.
type OperationMetricsSnapshot struct {
	Operation  string         `json:"operation"`
	Requests   int            `json:"requests"`
	Success    int            `json:"success"`
	NoOutcome  int            `json:"no_outcome"`
	Timeout    int            `json:"timeout"`
	Errors     map[string]int `json:"errors,omitempty"`
	LatencyP50 float64        `json:"latency_p50_ms"`
	LatencyP95 float64        `json:"latency_p95_ms"`
	LatencyP99 float64        `json:"latency_p99_ms"`
}

// RollingMetricsRecorder keeps a rolling window of latency observations per
// operation and computes percentiles in-process. Intended for local dev and
// tests; production wiring prefers the Prometheus-backed recorder in
// prometheus.go. Ported from the teacher's RollingMetricsRecorder.
type RollingMetricsRecorder struct {
	mu sync.Mutex

	req       map[string]int
	succ      map[string]int
	err       map[string]map[string]int
	noOutcome map[string]int
	timeout   map[string]int

	lat map[string][]float64

	windowSize int
}

// NewRollingMetricsRecorder creates a recorder with a per-operation rolling
// window size. windowSize <= 0 defaults to 512.
func NewRollingMetricsRecorder(windowSize int) *RollingMetricsRecorder {
	if windowSize <= 0 {
		windowSize = 512
	}
	return &RollingMetricsRecorder{
		req:       map[string]int{},
		succ:      map[string]int{},
		err:       map[string]map[string]int{},
		noOutcome: map[string]int{},
		timeout:   map[string]int{},
		lat:       map[string][]float64{},
		windowSize: windowSize,
	}
}

func (r *RollingMetricsRecorder) IncRequest(op string)   { r.inc(&r.req, op) }
func (r *RollingMetricsRecorder) IncSuccess(op string)   { r.inc(&r.succ, op) }
func (r *RollingMetricsRecorder) IncNoOutcome(op string) { r.inc(&r.noOutcome, op) }
func (r *RollingMetricsRecorder) IncTimeout(op string)   { r.inc(&r.timeout, op) }
func (r *RollingMetricsRecorder) IncError(op, reason string) { r.incErr(op, reason) }
func (r *RollingMetricsRecorder) ObserveLatencyMS(op string, ms float64) {
	r.addLatency(op, ms)
}

func (r *RollingMetricsRecorder) inc(m *map[string]int, k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	(*m)[k]++
}

func (r *RollingMetricsRecorder) incErr(op, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.err[op]
	if !ok {
		m = map[string]int{}
		r.err[op] = m
	}
	m[reason]++
}

func (r *RollingMetricsRecorder) addLatency(op string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	arr := append(r.lat[op], ms)
	if len(arr) > r.windowSize {
		arr = arr[len(arr)-r.windowSize:]
	}
	r.lat[op] = arr
}

// Percentiles returns p50/p95/p99 for op's current rolling window.
func (r *RollingMetricsRecorder) Percentiles(op string) (p50, p95, p99 float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals := append([]float64(nil), r.lat[op]...)
	return percentileFromSortedCopy(vals)
}

// SnapshotAll returns a snapshot for every operation the recorder has seen.
func (r *RollingMetricsRecorder) SnapshotAll() []OperationMetricsSnapshot {
	type snapIn struct {
		op            string
		req, succ     int
		no, to        int
		errs          map[string]int
		latenciesCopy []float64
	}
	var inputs []snapIn
	func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		keys := map[string]struct{}{}
		for k := range r.req {
			keys[k] = struct{}{}
		}
		for k := range r.succ {
			keys[k] = struct{}{}
		}
		for k := range r.noOutcome {
			keys[k] = struct{}{}
		}
		for k := range r.timeout {
			keys[k] = struct{}{}
		}
		for k := range r.err {
			keys[k] = struct{}{}
		}
		for k := range r.lat {
			keys[k] = struct{}{}
		}
		inputs = make([]snapIn, 0, len(keys))
		for op := range keys {
			var errs map[string]int
			if em, ok := r.err[op]; ok {
				errs = make(map[string]int, len(em))
				for k, v := range em {
					errs[k] = v
				}
			}
			inputs = append(inputs, snapIn{
				op:            op,
				req:           r.req[op],
				succ:          r.succ[op],
				no:            r.noOutcome[op],
				to:            r.timeout[op],
				errs:          errs,
				latenciesCopy: append([]float64(nil), r.lat[op]...),
			})
		}
	}()
	out := make([]OperationMetricsSnapshot, 0, len(inputs))
	for _, in := range inputs {
		p50, p95, p99 := percentileFromSortedCopy(in.latenciesCopy)
		out = append(out, OperationMetricsSnapshot{
			Operation:  in.op,
			Requests:   in.req,
			Success:    in.succ,
			NoOutcome:  in.no,
			Timeout:    in.to,
			Errors:     in.errs,
			LatencyP50: p50,
			LatencyP95: p95,
			LatencyP99: p99,
		})
	}
	return out
}

func percentileFromSortedCopy(vals []float64) (p50, p95, p99 float64) {
	if len(vals) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(vals)
	idx := func(p float64) int {
		if len(vals) == 1 {
			return 0
		}
		pos := int(p*float64(len(vals)-1) + 0.5)
		if pos < 0 {
			pos = 0
		}
		if pos >= len(vals) {
			pos = len(vals) - 1
		}
		return pos
	}
	return vals[idx(0.50)], vals[idx(0.95)], vals[idx(0.99)]
}

// GetOperationMetricsSnapshot returns snapshots if the global recorder is a
// RollingMetricsRecorder.
func GetOperationMetricsSnapshot() []OperationMetricsSnapshot {
	if r, ok := metricsRecorder.(*RollingMetricsRecorder); ok {
		return r.SnapshotAll()
	}
	return nil
}

// GetOperationPercentiles returns p50/p95/p99 latency for op when the global
// recorder is a RollingMetricsRecorder, or zeros otherwise.
func GetOperationPercentiles(op string) (p50, p95, p99 float64) {
	if r, ok := metricsRecorder.(*RollingMetricsRecorder); ok {
		return r.Percentiles(op)
	}
	return 0, 0, 0
}
