// Package metrics provides in-memory runtime statistics and Prometheus instruments.
package metrics

import (
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpTravelCompute = "travel_compute"
	OpGeocode       = "geocode"
	OpLLMGenerate   = "llm_generate"
	OpDBQuery       = "db_query"
	OpJobRun        = "job_run"
	OpStepSync      = "step_sync"
)

// OperationSnapshot is the computed view of one operation's samples.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats, set only for LLM operations that reported usage.
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot is the server's statistics at a point in time. Operations with no samples are nil.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	TravelCompute *OperationSnapshot `json:"travel_compute,omitempty"`
	Geocode       *OperationSnapshot `json:"geocode,omitempty"`
	LLMGenerate   *OperationSnapshot `json:"llm_generate,omitempty"`
	DBQuery       *OperationSnapshot `json:"db_query,omitempty"`
	JobRun        *OperationSnapshot `json:"job_run,omitempty"`
	StepSync      *OperationSnapshot `json:"step_sync,omitempty"`
}

// span tracks count, total and extremes of a series of samples.
type span[T int64 | time.Duration] struct {
	n     int64
	total T
	min   T
	max   T
}

func (s *span[T]) add(v T) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.n++
	s.total += v
}

func (s *span[T]) avg() float64 {
	return float64(s.total) / float64(s.n)
}

type operation struct {
	time   span[time.Duration]
	input  span[int64]
	output span[int64]
}

// Collector aggregates per-operation timings. All methods are safe for
// concurrent use, and a nil *Collector discards everything.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	ops     map[string]*operation
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		started: time.Now(),
		ops:     make(map[string]*operation),
	}
}

// op returns the operation record, creating it. Caller holds mu.
func (c *Collector) op(name string) *operation {
	o, ok := c.ops[name]
	if !ok {
		o = &operation{}
		c.ops[name] = o
	}
	return o
}

// RecordTiming records one sample for op.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op(op).time.add(d)
}

// RecordLLMUsage records timing and token usage for an LLM call.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.op(op)
	o.time.add(d)
	o.input.add(inputTokens)
	o.output.add(outputTokens)
}

// Since returns a function that records the elapsed time for op when called.
//
//	defer c.Since(metrics.OpDBQuery)()
func (c *Collector) Since(op string) func() {
	start := time.Now()
	return func() {
		c.RecordTiming(op, time.Since(start))
	}
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		TravelCompute: c.ops[OpTravelCompute].snapshot(),
		Geocode:       c.ops[OpGeocode].snapshot(),
		LLMGenerate:   c.ops[OpLLMGenerate].snapshot(),
		DBQuery:       c.ops[OpDBQuery].snapshot(),
		JobRun:        c.ops[OpJobRun].snapshot(),
		StepSync:      c.ops[OpStepSync].snapshot(),
	}
}

func (o *operation) snapshot() *OperationSnapshot {
	if o == nil || o.time.n == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       o.time.n,
		TotalTimeMs: o.time.total.Milliseconds(),
		AvgTimeMs:   float64(o.time.total.Milliseconds()) / float64(o.time.n),
		MinTimeMs:   o.time.min.Milliseconds(),
		MaxTimeMs:   o.time.max.Milliseconds(),
	}
	if o.input.total == 0 && o.output.total == 0 {
		return snap
	}

	in, out := o.input, o.output
	avgIn, avgOut := in.avg(), out.avg()
	snap.TotalInputTokens, snap.TotalOutputTokens = &in.total, &out.total
	snap.AvgInputTokens, snap.AvgOutputTokens = &avgIn, &avgOut
	snap.MinInputTokens, snap.MaxInputTokens = &in.min, &in.max
	snap.MinOutputTokens, snap.MaxOutputTokens = &out.min, &out.max
	return snap
}
