package core

import "testing"

func TestDebouncerThreshold(t *testing.T) {
	d := NewDebouncer(DefaultSettings())

	for i := 0; i < 15; i++ {
		if d.Observe(CondRegulation, true) {
			t.Fatalf("Triggered early at observation %d", i+1)
		}
	}
	if !d.Observe(CondRegulation, true) {
		t.Fatal("Expected trigger at observation 16")
	}
	if d.Count(CondRegulation) != 15 {
		t.Errorf("Expected counter parked at 15, got %d", d.Count(CondRegulation))
	}

	// A persisting condition reports again on the next bad observation
	if !d.Observe(CondRegulation, true) {
		t.Error("Expected re-trigger while condition persists")
	}
}

func TestDebouncerCumulative(t *testing.T) {
	d := NewDebouncer(DefaultSettings())

	// Temperature sensor threshold is 4; good samples only decrement
	d.Observe(CondTempSensor, true)
	d.Observe(CondTempSensor, true)
	d.Observe(CondTempSensor, false)
	if d.Count(CondTempSensor) != 1 {
		t.Errorf("Expected count 1, got %d", d.Count(CondTempSensor))
	}
	d.Observe(CondTempSensor, true)
	d.Observe(CondTempSensor, true)
	if !d.Observe(CondTempSensor, true) {
		t.Error("Expected trigger once the cumulative count reaches 4")
	}

	for i := 0; i < 10; i++ {
		d.Observe(CondFan1, false)
	}
	if d.Count(CondFan1) != 0 {
		t.Errorf("Counter must not underflow, got %d", d.Count(CondFan1))
	}
}

func TestDebouncerReset(t *testing.T) {
	d := NewDebouncer(DefaultSettings())
	d.Observe(CondFuseL1, true)
	d.Observe(CondFan2, true)
	d.Reset()
	if d.Count(CondFuseL1) != 0 || d.Count(CondFan2) != 0 {
		t.Error("Expected all counters zero after reset")
	}
	if d.Observe(conditionCount, true) {
		t.Error("Out-of-range condition must never trigger")
	}
}
