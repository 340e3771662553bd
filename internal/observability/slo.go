package observability

import (
	"time"
)

// SLO thresholds for the three MarketClient operations.
const (
	SLOWarnLatencyP99MS = 600.0
	SLOCritLatencyP99MS = 1000.0
	SLOWarnErrorRate    = 0.05
	SLOCritErrorRate    = 0.10
	// SuccessRate here is Success/Requests per operation; for place_bid a
	// sustained drop usually means eBay is rejecting bids (blocked account,
	// stale token) rather than a fill-rate problem in the ad-auction sense.
	SLOWarnSuccessRate = 0.20
	SLOCritSuccessRate = 0.05
)

type SLOLevel string

const (
	SLOOK   SLOLevel = "OK"
	SLOWarn SLOLevel = "WARN"
	SLOCrit SLOLevel = "CRIT"
)

// SLOStatus summarizes the current health of one operation over a window.
type SLOStatus struct {
	Operation       string   `json:"operation"`
	Window          string   `json:"window"`
	LatencyP99MS    float64  `json:"latency_p99_ms"`
	ErrorRate       float64  `json:"error_rate"`
	SuccessRate     float64  `json:"success_rate"`
	Level           SLOLevel `json:"level"`
	ErrorBudget     float64  `json:"error_budget,omitempty"`
	ErrorBudgetUsed float64  `json:"error_budget_used,omitempty"`
	BurnRate        float64  `json:"burn_rate,omitempty"`
}

// EvaluateSLO computes SLO status per operation for the given window using
// the global time-series aggregator. Ported from the teacher's per-adapter
// EvaluateSLO, with FillRate reinterpreted as SuccessRate (see above).
func EvaluateSLO(window time.Duration) []SLOStatus {
	if globalTS == nil {
		return nil
	}
	snaps := globalTS.SnapshotAll(window)
	statuses := make([]SLOStatus, 0, len(snaps))
	for _, s := range snaps {
		var merged TimeSeriesBucket
		merged.Errors = map[string]int{}
		for _, b := range s.Buckets {
			merged.Requests += b.Requests
			merged.Success += b.Success
			merged.NoOutcome += b.NoOutcome
			merged.Timeout += b.Timeout
			for i := 0; i < len(merged.LatBins); i++ {
				merged.LatBins[i] += b.LatBins[i]
			}
			for k, v := range b.Errors {
				merged.Errors[k] += v
			}
		}
		latP99 := estimatePercentile(&merged, 0.99)
		errorsTotal := 0
		for _, v := range merged.Errors {
			errorsTotal += v
		}
		var errRate, successRate float64
		if merged.Requests > 0 {
			errRate = float64(errorsTotal) / float64(merged.Requests)
			successRate = float64(merged.Success) / float64(merged.Requests)
		}
		level := classifySLO(latP99, errRate, successRate)

		budgetTarget := SLOCritErrorRate
		budget := budgetTarget
		used := errRate
		burn := errRate / budgetTarget

		statuses = append(statuses, SLOStatus{
			Operation:       s.Operation,
			Window:          window.String(),
			LatencyP99MS:    latP99,
			ErrorRate:       errRate,
			SuccessRate:     successRate,
			Level:           level,
			ErrorBudget:     budget,
			ErrorBudgetUsed: used,
			BurnRate:        burn,
		})
	}
	return statuses
}

func classifySLO(p99ms, errRate, successRate float64) SLOLevel {
	crit := false
	warn := false
	if p99ms >= SLOCritLatencyP99MS {
		crit = true
	} else if p99ms >= SLOWarnLatencyP99MS {
		warn = true
	}
	if errRate > SLOCritErrorRate {
		crit = true
	} else if errRate >= SLOWarnErrorRate {
		warn = true
	}
	if successRate <= SLOCritSuccessRate {
		crit = true
	} else if successRate <= SLOWarnSuccessRate {
		warn = true
	}
	if crit {
		return SLOCrit
	}
	if warn {
		return SLOWarn
	}
	return SLOOK
}

func estimatePercentile(b *TimeSeriesBucket, p float64) float64 {
	total := 0
	for _, c := range b.LatBins {
		total += c
	}
	if total == 0 {
		return 0
	}
	threshold := int(float64(total) * p)
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
