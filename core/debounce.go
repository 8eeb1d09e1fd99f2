package core

// Condition names a debounced fault condition.
type Condition uint8

const (
	CondTempSensor Condition = iota
	CondFan1
	CondFan2
	CondRegulation
	CondFuseL1
	CondFuseL2
	CondFuseR1
	CondFuseR2

	conditionCount
)

// fuseCondition maps a branch to its fuse condition and fault bit.
var fuseCondition = [BranchCount]struct {
	cond  Condition
	fault Fault
}{
	{CondFuseL1, FaultFuseL1},
	{CondFuseL2, FaultFuseL2},
	{CondFuseR1, FaultFuseR1},
	{CondFuseR2, FaultFuseR2},
}

// Debouncer keeps one cumulative counter per condition. A bad observation
// increments the counter, a good one decrements it down to zero. Reaching
// the threshold reports a trigger and parks the counter one below, so a
// condition that stays bad reports again on the next observation and a
// cleared fault is re-raised promptly. Callers latch reports through
// Supervisor.TriggerFault, which ignores bits already set; that is what
// keeps a persisting condition to a single latched fault.
type Debouncer struct {
	counts     [conditionCount]uint8
	thresholds [conditionCount]uint8
}

// NewDebouncer creates counters with thresholds taken from s.
func NewDebouncer(s Settings) *Debouncer {
	d := &Debouncer{}
	d.thresholds[CondTempSensor] = s.TempSensorCounts
	d.thresholds[CondFan1] = s.FanCounts
	d.thresholds[CondFan2] = s.FanCounts
	d.thresholds[CondRegulation] = s.NoRegCounts
	for _, f := range fuseCondition {
		d.thresholds[f.cond] = s.FuseCounts
	}
	for i := range d.thresholds {
		if d.thresholds[i] == 0 {
			d.thresholds[i] = 1
		}
	}
	return d
}

// Observe records one evaluation of c and returns true when the
// threshold is reached.
func (d *Debouncer) Observe(c Condition, bad bool) bool {
	if c >= conditionCount {
		return false
	}
	if !bad {
		if d.counts[c] > 0 {
			d.counts[c]--
		}
		return false
	}
	d.counts[c]++
	if d.counts[c] >= d.thresholds[c] {
		d.counts[c] = d.thresholds[c] - 1
		return true
	}
	return false
}

// Count returns the current counter of c.
func (d *Debouncer) Count(c Condition) uint8 {
	if c >= conditionCount {
		return 0
	}
	return d.counts[c]
}

// Reset zeroes every counter.
func (d *Debouncer) Reset() {
	d.counts = [conditionCount]uint8{}
}
