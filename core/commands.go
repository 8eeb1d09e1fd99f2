package core

import (
	"eload/protocol"
)

// CommandTask drains the write queue, applies valid frames and runs the
// communication watchdog.
type CommandTask struct {
	sup      *Supervisor
	queue    *protocol.CommandQueue
	registry *CommandRegistry
	fans     *FanRegulator
	clock    Clock

	lastReload uint32
	timeoutMs  uint32
	linkErrors uint16
}

// NewCommandTask creates the task and registers the write handlers.
func NewCommandTask(sup *Supervisor, queue *protocol.CommandQueue, fans *FanRegulator, clock Clock) *CommandTask {
	t := &CommandTask{
		sup:       sup,
		queue:     queue,
		registry:  NewCommandRegistry(),
		fans:      fans,
		clock:     clock,
		timeoutMs: sup.Settings().WatchdogTimeoutMs,
	}
	t.lastReload = clock.Millis()
	t.registerCommands()
	return t
}

// registerCommands installs one handler per writable register
func (t *CommandTask) registerCommands() {
	r := t.registry
	s := t.sup

	r.Register(protocol.RegConfig, "config", t.handleConfig)
	r.Register(protocol.RegFault, "fault", func(v uint16) { s.ClearFault(Fault(v)) })
	r.Register(protocol.RegFaultMask, "fault_mask", func(v uint16) { s.SetFaultMask(Fault(v)) })
	r.Register(protocol.RegWDReload, "wd_reload", t.handleWatchdogReload)
	r.Register(protocol.RegEnable, "enable", func(v uint16) { s.SetEnable(v == protocol.EnableKey) })
	r.Register(protocol.RegCCLevel, "cc_level", func(v uint16) { s.SetCCLevel(uint32(v)) })
	r.Register(protocol.RegCVLevel, "cv_level", func(v uint16) { s.SetCVLevel(uint32(v) * protocol.CVScaleMV) })
	r.Register(protocol.RegCRLevel, "cr_level", func(v uint16) { s.SetCRLevel(uint32(v) * protocol.CRScaleMR) })
	r.Register(protocol.RegCPLevel, "cp_level", func(v uint16) { s.SetCPLevel(uint32(v) * protocol.CPScaleMW) })
	r.Register(protocol.RegDischLevel, "disch_level", func(v uint16) { s.SetDischargeVoltage(uint32(v) * protocol.CVScaleMV) })
	if t.fans != nil {
		r.Register(protocol.RegFanOverride, "fan_override", t.handleFanOverride)
	}
}

func (t *CommandTask) handleConfig(v uint16) {
	t.sup.SetMode(Mode(v & protocol.ConfigModeMask))

	switch {
	case v&protocol.ConfigVsenAuto != 0:
		t.sup.SetSenseSource(SenseAuto)
	case v&protocol.ConfigVsenRemote != 0:
		t.sup.SetSenseSource(SenseRemote)
	default:
		t.sup.SetSenseSource(SenseInternal)
	}
}

func (t *CommandTask) handleWatchdogReload(v uint16) {
	if v == protocol.WDReloadKey {
		t.lastReload = t.clock.Millis()
	}
}

func (t *CommandTask) handleFanOverride(v uint16) {
	if v > 0xFF {
		v = 0xFF
	}
	t.fans.SetOverride(uint8(v))
	t.sup.Registers().Publish(protocol.RegFanOverride, v)
}

// Registry exposes the write handlers.
func (t *CommandTask) Registry() *CommandRegistry {
	return t.registry
}

// LinkErrors returns the number of frames rejected by checksum.
func (t *CommandTask) LinkErrors() uint16 {
	return t.linkErrors
}

// Poll processes every queued frame and then checks the watchdog.
func (t *CommandTask) Poll() {
	for {
		f, ok := t.queue.Pop()
		if !ok {
			break
		}
		t.apply(f)
	}
	t.checkWatchdog()
}

func (t *CommandTask) apply(f protocol.Frame) {
	if !f.Valid() {
		if t.linkErrors < 0xFFFF {
			t.linkErrors++
		}
		t.sup.Registers().Publish(protocol.RegLinkErrors, t.linkErrors)
		t.sup.Events().Record(EvtLinkError, t.clock.Millis(), uint32(f.AddressByte), uint32(t.linkErrors))
		return
	}
	if f.Direction() != protocol.DirWrite {
		return
	}
	// Read-only and unmapped addresses are ignored
	_ = t.registry.Dispatch(f.Address(), f.Data)
}

func (t *CommandTask) checkWatchdog() {
	if !t.sup.Enabled() {
		return
	}
	if since(t.clock.Millis(), t.lastReload) >= t.timeoutMs {
		if t.sup.Faults()&FaultComm == 0 {
			t.sup.Events().Record(EvtWatchdog, t.clock.Millis(), t.lastReload, 0)
			DebugPrintln("[CMD] watchdog expired")
		}
		t.sup.TriggerFault(FaultComm)
	}
}
