package main

import (
	"math"
	"sort"
	"time"
)

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Total     int
	ErrorMsg  string
	Index     int
	BBox      string
}

func (s sample) ok() bool { return s.ErrorMsg == "" && s.Status >= 200 && s.Status < 300 }

// report is written as JSON at the end of a run. ZeroCount counts successful
// responses whose total was zero, which is how a degraded catalog shows up.
type report struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ZeroCount     int64     `json:"zero_totals"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Requests      int       `json:"requests"`
	TargetURL     string    `json:"target"`
}

type tally struct {
	total, success, errors, zero int64
	latMs                        []float64
}

func (t *tally) add(s sample) {
	t.total++
	if !s.ok() {
		t.errors++
		return
	}
	t.success++
	if s.Total == 0 {
		t.zero++
	}
	t.latMs = append(t.latMs, float64(s.Latency.Microseconds())/1000.0)
}

func (t *tally) fill(r *report) {
	sort.Float64s(t.latMs)
	r.TotalRequests, r.SuccessCount, r.ErrorCount, r.ZeroCount = t.total, t.success, t.errors, t.zero
	if r.DurationSec > 0 {
		r.ThroughputRPS = float64(t.total) / r.DurationSec
	}
	r.P50Ms = percentile(t.latMs, 50)
	r.P95Ms = percentile(t.latMs, 95)
	r.P99Ms = percentile(t.latMs, 99)
}

// percentile interpolates linearly between closest ranks of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
