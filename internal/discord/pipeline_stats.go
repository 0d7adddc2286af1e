package discord

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/pipeline"
)

// PipelineStats collects voice pipeline latency samples and outcome counters
// for /voice_debug. It keeps a bounded ring buffer of recent run durations
// from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type PipelineStats struct {
	mu sync.Mutex

	total latencyBuffer
	reply latencyBuffer

	runs     int64
	errors   int64
	outcomes map[pipeline.Outcome]int64
	last     time.Time
}

// NewPipelineStats creates a PipelineStats with the given window size
// (maximum number of latency samples retained).
func NewPipelineStats(windowSize int) *PipelineStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PipelineStats{
		total:    newLatencyBuffer(windowSize),
		reply:    newLatencyBuffer(windowSize),
		outcomes: make(map[pipeline.Outcome]int64),
	}
}

// Record adds one finished pipeline run.
func (ps *PipelineStats) Record(res pipeline.Result) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.runs++
	if res.Err != nil {
		ps.errors++
	}
	ps.outcomes[res.Outcome]++
	ps.total.add(res.Duration)
	ps.last = time.Now()
}

// RecordReply adds the time it took to stream and send one reply.
func (ps *PipelineStats) RecordReply(d time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.reply.add(d)
}

// LatencyPercentiles holds p50 and p95 values for a latency series.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// Snapshot captures a point-in-time view of all pipeline statistics.
type Snapshot struct {
	Pipeline LatencyPercentiles         `json:"pipeline"`
	Reply    LatencyPercentiles         `json:"reply"`
	Runs     int64                      `json:"runs"`
	Errors   int64                      `json:"errors"`
	Outcomes map[pipeline.Outcome]int64 `json:"outcomes"`
	LastRun  time.Time                  `json:"last_run,omitzero"`
}

// SortedOutcomes returns the outcome names present in the snapshot in
// lexical order.
func (s Snapshot) SortedOutcomes() []pipeline.Outcome {
	return slices.Sorted(maps.Keys(s.Outcomes))
}

// Snapshot returns a point-in-time view of all pipeline statistics.
func (ps *PipelineStats) Snapshot() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return Snapshot{
		Pipeline: ps.total.percentiles(),
		Reply:    ps.reply.percentiles(),
		Runs:     ps.runs,
		Errors:   ps.errors,
		Outcomes: maps.Clone(ps.outcomes),
		LastRun:  ps.last,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
