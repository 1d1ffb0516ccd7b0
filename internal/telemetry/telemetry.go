// Package telemetry is the facade the simulation core reports through. The
// core never logs directly; it records errors, warnings and counters here and
// the host decides where they go.
package telemetry

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
)

type Sink interface {
	RecordError(scope, code string, err error)
	RecordWarning(scope, msg string)
	RecordProgress(kind string, value float64)
	RecordCounters(scope string, counters map[string]uint64)
	RecordTick(step uint64, durMS float64)
}

// Nop discards everything. Useful default for tests.
type Nop struct{}

func (Nop) RecordError(string, string, error)        {}
func (Nop) RecordWarning(string, string)             {}
func (Nop) RecordProgress(string, float64)           {}
func (Nop) RecordCounters(string, map[string]uint64) {}
func (Nop) RecordTick(uint64, float64)               {}

// Counters accumulates totals across the session. Atomic so transport
// goroutines can report without taking the sim loop's time.
type Counters struct {
	errors   atomic.Uint64
	warnings atomic.Uint64
	ticks    atomic.Uint64

	lastTickMS atomicFloat64

	mu       sync.Mutex
	byScope  map[string]map[string]uint64
	lastCode string

	debug bool
}

type atomicFloat64 struct{ bits atomic.Uint64 }

func (f *atomicFloat64) Store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat64) Load() float64   { return math.Float64frombits(f.bits.Load()) }

func NewCounters() *Counters {
	c := &Counters{byScope: map[string]map[string]uint64{}}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		c.debug = true
	}
	return c
}

func (c *Counters) RecordError(scope, code string, err error) {
	c.errors.Add(1)
	c.mu.Lock()
	c.lastCode = code
	c.mu.Unlock()
	if c.debug {
		fmt.Printf("[telemetry] error scope=%s code=%s err=%v\n", scope, code, err)
	}
}

func (c *Counters) RecordWarning(scope, msg string) {
	c.warnings.Add(1)
	if c.debug {
		fmt.Printf("[telemetry] warn scope=%s msg=%s\n", scope, msg)
	}
}

func (c *Counters) RecordProgress(kind string, value float64) {
	if c.debug {
		fmt.Printf("[telemetry] progress kind=%s value=%g\n", kind, value)
	}
}

func (c *Counters) RecordCounters(scope string, counters map[string]uint64) {
	c.mu.Lock()
	dst := c.byScope[scope]
	if dst == nil {
		dst = map[string]uint64{}
		c.byScope[scope] = dst
	}
	for k, v := range counters {
		dst[k] += v
	}
	c.mu.Unlock()
}

func (c *Counters) RecordTick(step uint64, durMS float64) {
	c.ticks.Add(1)
	c.lastTickMS.Store(durMS)
	if c.debug {
		fmt.Printf("[telemetry] tick step=%d dur=%.3fms\n", step, durMS)
	}
}

type Snapshot struct {
	Errors     uint64                       `json:"errors"`
	Warnings   uint64                       `json:"warnings"`
	Ticks      uint64                       `json:"ticks"`
	LastTickMS float64                      `json:"lastTickMillis"`
	LastCode   string                       `json:"lastErrorCode,omitempty"`
	ByScope    map[string]map[string]uint64 `json:"byScope,omitempty"`
}

func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Errors:     c.errors.Load(),
		Warnings:   c.warnings.Load(),
		Ticks:      c.ticks.Load(),
		LastTickMS: c.lastTickMS.Load(),
	}
	c.mu.Lock()
	s.LastCode = c.lastCode
	s.ByScope = map[string]map[string]uint64{}
	for scope, m := range c.byScope {
		cp := make(map[string]uint64, len(m))
		for k, v := range m {
			cp[k] = v
		}
		s.ByScope[scope] = cp
	}
	c.mu.Unlock()
	return s
}
