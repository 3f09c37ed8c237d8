package vantage

import (
	"time"

	"github.com/wx-tools/vantaged/internal/types"
)

// Accumulator is a per-interval reducer bound to a half-open span
// [start, stop). AddSample returns false (instead of the original's
// OutOfSpan exception, per the REDESIGN note on exception-driven control
// flow) when the sample falls outside the span; the driver is then
// responsible for calling rebind explicitly.
type Accumulator struct {
	start time.Time
	stop  time.Time
	sum   float64
	count int
}

// newAccumulator returns an accumulator bound to the archive-aligned
// interval containing t: start = floor(t/interval)*interval, stop =
// start+interval.
func newAccumulator(t time.Time, interval time.Duration) Accumulator {
	start := t.Truncate(interval)
	return Accumulator{start: start, stop: start.Add(interval)}
}

// InSpan reports whether t falls within [start, stop).
func (a *Accumulator) InSpan(t time.Time) bool {
	return !t.Before(a.start) && t.Before(a.stop)
}

// AddSample accumulates v if t is in-span and reports whether it did.
func (a *Accumulator) AddSample(t time.Time, v float64) bool {
	if !a.InSpan(t) {
		return false
	}
	a.sum += v
	a.count++
	return true
}

// Avg returns the running average and whether any sample was accumulated.
func (a *Accumulator) Avg() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.sum / float64(a.count), true
}

// accumulatorKey names the observation types accumulated across an
// archive interval: averages merged from LOOP samples into
// the archive record that closes out the interval.
type accumulatorKey int

const (
	accConsBatteryVoltage accumulatorKey = iota
	numAccumulators
)

// AccumulatorSet pairs the "current" (ongoing) accumulators with "last"
// (the most recently sealed interval), plus the sticky transmitter
// battery bitmap that resets whenever the set rebinds.
type AccumulatorSet struct {
	interval time.Duration

	current  [numAccumulators]Accumulator
	last     [numAccumulators]Accumulator
	haveLast bool

	stickyBattery uint8
}

// newAccumulatorSet builds a set with no current accumulators bound; the
// first AddLoopSample call rebinds it.
func newAccumulatorSet(interval time.Duration) *AccumulatorSet {
	return &AccumulatorSet{interval: interval}
}

// rebind seals the current accumulators into last and opens a fresh
// current set spanning the archive interval containing t, zeroing the
// sticky battery bitmap.
func (s *AccumulatorSet) rebind(t time.Time) {
	s.last = s.current
	s.haveLast = true
	for i := range s.current {
		s.current[i] = newAccumulator(t, s.interval)
	}
	s.stickyBattery = 0
}

// AddLoopSample feeds one LOOP record's relevant fields into the current
// accumulators, rebinding automatically on the first out-of-span sample
// (equivalent to the original's OutOfSpan-triggered clearAccumulators).
func (s *AccumulatorSet) AddLoopSample(t time.Time, consBatteryVoltage float64, txBatteryBits uint8) {
	if s.current[accConsBatteryVoltage].stop.IsZero() || !s.current[accConsBatteryVoltage].InSpan(t) {
		s.rebind(t)
	}
	s.current[accConsBatteryVoltage].AddSample(t, consBatteryVoltage)
	s.stickyBattery |= txBatteryBits
}

// MergeIntoRecord copies the "last" console battery voltage average into
// rec only when last's stop exactly equals rec.DateTime, guarding against
// merging a stale accumulator after a restart, then stamps the sticky
// battery bitmap. The archive's own wind-speed fields come from the wire
// record itself, not from an accumulator.
func (s *AccumulatorSet) MergeIntoRecord(rec *types.ArchiveRecord) {
	if !s.haveLast {
		return
	}
	if !s.last[accConsBatteryVoltage].stop.Equal(rec.DateTime) {
		return
	}
	if avg, ok := s.last[accConsBatteryVoltage].Avg(); ok {
		rec.ConsBatteryVoltage = avg
	}
	rec.TxBatteryStatus = s.stickyBattery
}
