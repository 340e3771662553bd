package observability

import (
	"sort"
	"sync"
	"time"
)

// TimeSeriesBucket holds counters and a latency histogram for a fixed time
// window, keyed per operation. Ported from the teacher's per-adapter
// TimeSeriesBucket.
type TimeSeriesBucket struct {
	StartUnix int64          `json:"start_unix"`
	DurationS int64          `json:"duration_s"`
	Requests  int            `json:"requests"`
	Success   int            `json:"success"`
	NoOutcome int            `json:"no_outcome"`
	Timeout   int            `json:"timeout"`
	Errors    map[string]int `json:"errors,omitempty"`
	// Bins: [25, 50, 100, 200, 400, 800, 1600, +Inf] ms
	LatBins [8]int `json:"lat_bins"`
}

// OperationSeries is the ring of buckets for one operation.
type OperationSeries struct {
	buckets    []TimeSeriesBucket
	bucketSize time.Duration
	maxBuckets int
}

// TimeSeriesAggregator keeps per-operation time series buckets, exposing the
// same counters as OperationMetricsRecorder bucketed by wall-clock window.
type TimeSeriesAggregator struct {
	mu         sync.Mutex
	operations map[string]*OperationSeries
	bucketSize time.Duration
	retention  time.Duration
}

const (
	defaultBucketSize = 5 * time.Minute
	defaultRetention  = 7 * 24 * time.Hour
)

var globalTS *TimeSeriesAggregator

// SetTimeSeriesAggregator installs a global aggregator used by the metrics
// recording wrappers.
func SetTimeSeriesAggregator(ts *TimeSeriesAggregator) {
	if ts != nil {
		globalTS = ts
	}
}

// NewTimeSeriesAggregator creates a new aggregator with the given bucket size
// and retention window.
func NewTimeSeriesAggregator(bucketSize, retention time.Duration) *TimeSeriesAggregator {
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &TimeSeriesAggregator{
		operations: map[string]*OperationSeries{},
		bucketSize: bucketSize,
		retention:  retention,
	}
}

func (ts *TimeSeriesAggregator) IncRequest(op string) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) { b.Requests++ })
}
func (ts *TimeSeriesAggregator) IncSuccess(op string) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) { b.Success++ })
}
func (ts *TimeSeriesAggregator) IncNoOutcome(op string) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) { b.NoOutcome++ })
}
func (ts *TimeSeriesAggregator) IncTimeout(op string) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) { b.Timeout++ })
}
func (ts *TimeSeriesAggregator) IncError(op, reason string) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) {
		if b.Errors == nil {
			b.Errors = map[string]int{}
		}
		b.Errors[reason]++
	})
}
func (ts *TimeSeriesAggregator) ObserveLatencyMS(op string, ms float64) {
	ts.withBucket(op, time.Now(), func(b *TimeSeriesBucket) {
		idx := latencyBinIndex(ms)
		b.LatBins[idx]++
	})
}

func latencyBinIndex(ms float64) int {
	bounds := [...]float64{25, 50, 100, 200, 400, 800, 1600}
	for i, ub := range bounds {
		if ms <= ub {
			return i
		}
	}
	return len(bounds)
}

func floorToBucketStart(t time.Time, size time.Duration) time.Time {
	sec := t.UTC().Unix()
	bucket := (sec / int64(size.Seconds())) * int64(size.Seconds())
	return time.Unix(bucket, 0).UTC()
}

func (ts *TimeSeriesAggregator) seriesFor(op string) *OperationSeries {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ser, ok := ts.operations[op]
	if ok {
		return ser
	}
	maxBuckets := int(ts.retention / ts.bucketSize)
	if maxBuckets < 1 {
		maxBuckets = 1
	}
	ser = &OperationSeries{bucketSize: ts.bucketSize, maxBuckets: maxBuckets}
	ts.operations[op] = ser
	return ser
}

func (ts *TimeSeriesAggregator) withBucket(op string, now time.Time, fn func(*TimeSeriesBucket)) {
	ser := ts.seriesFor(op)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	start := floorToBucketStart(now, ts.bucketSize)
	if n := len(ser.buckets); n > 0 {
		last := &ser.buckets[n-1]
		if time.Unix(last.StartUnix, 0).UTC().Equal(start) {
			fn(last)
			ts.trimLocked(ser)
			return
		}
	}
	b := TimeSeriesBucket{StartUnix: start.Unix(), DurationS: int64(ts.bucketSize.Seconds())}
	ser.buckets = append(ser.buckets, b)
	fn(&ser.buckets[len(ser.buckets)-1])
	ts.trimLocked(ser)
}

func (ts *TimeSeriesAggregator) trimLocked(ser *OperationSeries) {
	if len(ser.buckets) > ser.maxBuckets {
		ser.buckets = ser.buckets[len(ser.buckets)-ser.maxBuckets:]
	}
}

// OperationSeriesSnapshot is a read-only view of one operation's buckets.
type OperationSeriesSnapshot struct {
	Operation string             `json:"operation"`
	Buckets   []TimeSeriesBucket `json:"buckets"`
}

// SnapshotAll returns snapshots for all operations, limited to buckets within maxAge.
func (ts *TimeSeriesAggregator) SnapshotAll(maxAge time.Duration) []OperationSeriesSnapshot {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ops := make([]string, 0, len(ts.operations))
	for op := range ts.operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	cutoff := time.Now().Add(-maxAge).Unix()
	out := make([]OperationSeriesSnapshot, 0, len(ops))
	for _, op := range ops {
		ser := ts.operations[op]
		var filtered []TimeSeriesBucket
		for _, b := range ser.buckets {
			if b.StartUnix >= cutoff {
				filtered = append(filtered, b)
			}
		}
		out = append(out, OperationSeriesSnapshot{Operation: op, Buckets: filtered})
	}
	return out
}

// EstimateP95 returns p95 latency in milliseconds for a bucket using its histogram.
func (b *TimeSeriesBucket) EstimateP95() float64 {
	total := 0
	for _, c := range b.LatBins {
		total += c
	}
	if total == 0 {
		return 0
	}
	threshold := int(float64(total) * 0.95)
	cum := 0
	bounds := [...]float64{25, 50, 100, 200, 400, 800, 1600, 3200}
	for i, c := range b.LatBins {
		cum += c
		if cum >= threshold {
			return bounds[i]
		}
	}
	return 3200
}

// WindowAggregate rolls up bucketed counters for one operation over a window.
type WindowAggregate struct {
	Operation     string  `json:"operation"`
	Requests      int     `json:"requests"`
	Errors        int     `json:"errors"`
	NoOutcome     int     `json:"no_outcome"`
	Timeout       int     `json:"timeout"`
	Success       int     `json:"success"`
	LastBucketP95 float64 `json:"last_bucket_p95_ms"`
}

func (ts *TimeSeriesAggregator) AggregateWindow(window time.Duration) []WindowAggregate {
	snaps := ts.SnapshotAll(window)
	out := make([]WindowAggregate, 0, len(snaps))
	for _, s := range snaps {
		agg := WindowAggregate{Operation: s.Operation}
		for i := range s.Buckets {
			b := s.Buckets[i]
			agg.Requests += b.Requests
			agg.NoOutcome += b.NoOutcome
			agg.Timeout += b.Timeout
			agg.Success += b.Success
			if len(b.Errors) > 0 {
				for _, v := range b.Errors {
					agg.Errors += v
				}
			}
			agg.LastBucketP95 = b.EstimateP95()
		}
		out = append(out, agg)
	}
	return out
}

// GetTimeSeriesSnapshot exposes snapshots when globalTS is active.
func GetTimeSeriesSnapshot(maxAge time.Duration) []OperationSeriesSnapshot {
	if globalTS == nil {
		return nil
	}
	return globalTS.SnapshotAll(maxAge)
}

// GetWindowAggregates exposes window aggregates when globalTS is active.
func GetWindowAggregates(window time.Duration) []WindowAggregate {
	if globalTS == nil {
		return nil
	}
	return globalTS.AggregateWindow(window)
}
