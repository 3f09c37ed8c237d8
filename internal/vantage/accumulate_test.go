package vantage

import (
	"testing"
	"time"

	"github.com/wx-tools/vantaged/internal/types"
)

func TestAccumulatorSpan(t *testing.T) {
	interval := 5 * time.Minute
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := newAccumulator(start, interval)

	if acc.AddSample(start.Add(-time.Second), 10) {
		t.Error("sample before start should be rejected")
	}
	if acc.AddSample(acc.stop, 10) {
		t.Error("sample at stop (exclusive) should be rejected")
	}
	if !acc.AddSample(start, 1) {
		t.Error("sample at start (inclusive) should be accepted")
	}
	if !acc.AddSample(start.Add(time.Minute), 3) {
		t.Error("in-span sample should be accepted")
	}

	avg, ok := acc.Avg()
	if !ok {
		t.Fatal("expected an average after two samples")
	}
	if avg != 2 {
		t.Errorf("avg = %v, want 2 (= (1+3)/2)", avg)
	}
}

func TestAccumulatorAvgAbsentWhenEmpty(t *testing.T) {
	var acc Accumulator
	if _, ok := acc.Avg(); ok {
		t.Fatal("Avg() on an empty accumulator should report absent")
	}
}

func TestStickyBatteryOrsAcrossInterval(t *testing.T) {
	interval := 5 * time.Minute
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	set := newAccumulatorSet(interval)

	set.AddLoopSample(start, 12.0, 0b0001)
	set.AddLoopSample(start.Add(time.Minute), 12.1, 0b0010)
	set.AddLoopSample(start.Add(2*time.Minute), 12.2, 0b0100)

	if set.stickyBattery != 0b0111 {
		t.Errorf("stickyBattery = %#b, want %#b", set.stickyBattery, 0b0111)
	}

	// Crossing into the next interval rebinds and resets the sticky bitmap.
	set.AddLoopSample(start.Add(interval), 12.0, 0b1000)
	if set.stickyBattery != 0b1000 {
		t.Errorf("stickyBattery after rebind = %#b, want %#b", set.stickyBattery, 0b1000)
	}
	if !set.haveLast {
		t.Error("expected haveLast to be set after the first rebind")
	}
}

func TestMergeIntoRecordMergesConsBatteryVoltage(t *testing.T) {
	interval := 5 * time.Minute
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	set := newAccumulatorSet(interval)

	set.AddLoopSample(start, 12.0, 0b0001)
	set.AddLoopSample(start.Add(time.Minute), 12.2, 0b0001)
	// Crossing into the next interval seals the first as "last".
	set.AddLoopSample(start.Add(interval), 12.4, 0b0001)

	rec := &types.ArchiveRecord{DateTime: start.Add(interval), AvgWindSpeed: 7.5}
	set.MergeIntoRecord(rec)

	wantAvg := (12.0 + 12.2) / 2
	if rec.ConsBatteryVoltage != wantAvg {
		t.Errorf("ConsBatteryVoltage = %v, want %v", rec.ConsBatteryVoltage, wantAvg)
	}
	if rec.AvgWindSpeed != 7.5 {
		t.Errorf("AvgWindSpeed = %v, want the wire value 7.5 left untouched", rec.AvgWindSpeed)
	}
}
