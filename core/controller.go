package core

import (
	"context"
	"time"

	"eload/protocol"
)

// Controller wires the protocol engine, the supervisor and the periodic
// tasks for one load. The byte engine and the slew tick run in their own
// goroutines; every other task runs from Dispatch on a single goroutine.
type Controller struct {
	cfg Settings
	hw  Hardware

	table  *protocol.RegisterTable
	queue  *protocol.CommandQueue
	engine *protocol.Engine

	dac      *DAC
	sup      *Supervisor
	cmd      *CommandTask
	fans     *FanRegulator
	thermal  *Thermal
	ext      *ExternalFault
	selfTest *SelfTest
	sched    Scheduler

	started bool
}

// NewController creates a controller over hw. Start must be called before
// Dispatch.
func NewController(cfg Settings, hw Hardware) *Controller {
	c := &Controller{cfg: cfg, hw: hw}

	c.table = protocol.NewRegisterTable()
	c.queue = protocol.NewCommandQueue()
	c.engine = protocol.NewEngine(c.table, c.queue)

	c.dac = NewDAC(hw.DAC, cfg.SlewAmpsPerSecond, cfg.SlewTickMs)
	c.sup = NewSupervisor(cfg, c.table, c.dac, hw.Sense, hw.Pins, hw.Clock)
	if hw.Fans != nil {
		c.fans = NewFanRegulator(hw.Fans)
	}
	c.cmd = NewCommandTask(c.sup, c.queue, c.fans, hw.Clock)
	if hw.Thermal != nil && c.fans != nil {
		c.thermal = NewThermal(c.sup, hw.Thermal, c.fans)
		c.selfTest = NewSelfTest(c.thermal)
	}
	if hw.ExtFault != nil {
		c.ext = NewExternalFault(c.sup, hw.ExtFault)
	}
	return c
}

// Start publishes the startup state, registers the sampling callback,
// schedules the periodic tasks and begins the power-up self test.
func (c *Controller) Start() {
	if c.started {
		return
	}
	c.started = true

	c.sup.Init()
	c.hw.Sense.SetSampleHandler(c.sup.HandleSample)

	now := c.hw.Clock.Millis()
	c.sched.Every(now, c.cfg.CommandPollMs, c.cmd.Poll)
	c.sched.Every(now+c.cfg.ControlPeriodMs, c.cfg.ControlPeriodMs, c.sup.Step)
	if c.ext != nil {
		c.sched.Every(now+c.cfg.ExtFaultPeriodMs, c.cfg.ExtFaultPeriodMs, c.ext.Sample)
	}
	if c.fans != nil {
		c.sched.Every(now+c.cfg.FanRampStepMs, c.cfg.FanRampStepMs, c.fans.Tick)
	}
	if c.thermal != nil {
		c.sched.Every(now+c.cfg.ThermalPeriodMs, c.cfg.ThermalPeriodMs, c.thermal.Step)
		delay := c.selfTest.Start()
		c.sched.After(now+delay, c.selfTest.Finish)
	} else {
		c.sup.SetReady(true)
	}
	DebugPrintln("[LOAD] started")
}

// Dispatch runs the tasks due at now.
func (c *Controller) Dispatch(now uint32) int {
	return c.sched.Dispatch(now)
}

// SlewTick advances the DAC ramp by one step.
func (c *Controller) SlewTick() bool {
	return c.dac.Tick()
}

// Run starts the controller and drives the slew tick and the task loop
// until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()

	tick := time.Duration(c.cfg.SlewTickMs) * time.Millisecond
	if tick <= 0 {
		tick = time.Millisecond
	}
	slewDone := make(chan struct{})
	go func() {
		defer close(slewDone)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.dac.Tick()
			}
		}
	}()

	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			<-slewDone
			c.sup.SetEnable(false)
			return ctx.Err()
		case <-t.C:
			c.Dispatch(c.hw.Clock.Millis())
		}
	}
}

// Engine returns the slave byte engine for the link adapter.
func (c *Controller) Engine() *protocol.Engine {
	return c.engine
}

// Table returns the register table.
func (c *Controller) Table() *protocol.RegisterTable {
	return c.table
}

// Supervisor returns the load supervisor.
func (c *Controller) Supervisor() *Supervisor {
	return c.sup
}

// Commands returns the write command task.
func (c *Controller) Commands() *CommandTask {
	return c.cmd
}

// DAC returns the current actuator.
func (c *Controller) DAC() *DAC {
	return c.dac
}

// Fans returns the fan regulator, nil without fans.
func (c *Controller) Fans() *FanRegulator {
	return c.fans
}

// Thermal returns the thermal controller, nil without sensors or fans.
func (c *Controller) Thermal() *Thermal {
	return c.thermal
}

// DumpEvents writes the supervisor event ring through the debug writer.
func (c *Controller) DumpEvents() {
	c.sup.Events().Dump()
}
