package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eload/protocol"
)

type cmdRig struct {
	*rig
	queue *protocol.CommandQueue
	fans  *fakeFans
	reg   *FanRegulator
	task  *CommandTask
}

func newCmdRig() *cmdRig {
	r := readyRig()
	c := &cmdRig{rig: r, queue: protocol.NewCommandQueue(), fans: &fakeFans{}}
	c.reg = NewFanRegulator(c.fans)
	c.task = NewCommandTask(r.sup, c.queue, c.reg, r.clock)
	return c
}

func (c *cmdRig) write(addr uint8, v uint16) {
	c.queue.Push(protocol.NewWriteFrame(addr, v))
	c.task.Poll()
}

func TestCommandEnableKey(t *testing.T) {
	c := newCmdRig()

	c.write(protocol.RegEnable, 0x1234)
	assert.False(t, c.sup.Enabled())

	c.write(protocol.RegEnable, protocol.EnableKey)
	assert.True(t, c.sup.Enabled())

	c.write(protocol.RegEnable, 0)
	assert.False(t, c.sup.Enabled())
}

func TestCommandConfig(t *testing.T) {
	c := newCmdRig()

	c.write(protocol.RegConfig, uint16(ModeCV)|protocol.ConfigVsenRemote)
	assert.Equal(t, ModeCV, c.sup.Mode())
	assert.Equal(t, SenseRemote, c.sense.source)
	assert.Equal(t, uint16(0x5), c.table.Value(protocol.RegConfig))

	c.write(protocol.RegConfig, uint16(ModeCP)|protocol.ConfigVsenAuto)
	assert.Equal(t, ModeCP, c.sup.Mode())
	assert.Equal(t, SenseAuto, c.sense.source)
}

func TestCommandSetpointScaling(t *testing.T) {
	c := newCmdRig()

	c.write(protocol.RegCCLevel, 2500)
	c.write(protocol.RegCVLevel, 1250)
	c.write(protocol.RegCRLevel, 470)
	c.write(protocol.RegCPLevel, 550)
	c.write(protocol.RegDischLevel, 1080)

	assert.Equal(t, uint32(2500), c.sup.Setpoint(ModeCC))
	assert.Equal(t, uint32(12500), c.sup.Setpoint(ModeCV))
	assert.Equal(t, uint32(4700), c.sup.Setpoint(ModeCR))
	assert.Equal(t, uint32(55000), c.sup.Setpoint(ModeCP))
	assert.Equal(t, uint16(1080), c.table.Value(protocol.RegDischLevel))
}

func TestCommandFaultClearAndMask(t *testing.T) {
	c := newCmdRig()
	c.sup.TriggerFault(FaultFan1 | FaultExternal)

	c.write(protocol.RegFault, uint16(FaultExternal))
	assert.Equal(t, FaultFan1, c.sup.Faults())

	c.write(protocol.RegFaultMask, 0)
	assert.Equal(t, NonMaskable, c.sup.FaultMask())
	assert.Zero(t, c.sup.Status()&StatusFault)
}

func TestCommandFanOverride(t *testing.T) {
	c := newCmdRig()

	c.write(protocol.RegFanOverride, 0x1FF)
	assert.Equal(t, uint8(0xFF), c.reg.Target())
	assert.Equal(t, uint16(0xFF), c.table.Value(protocol.RegFanOverride))
}

func TestCommandReadOnlyIgnored(t *testing.T) {
	c := newCmdRig()
	before := c.table.Value(protocol.RegVoltage)

	c.write(protocol.RegVoltage, 0x5555)
	c.write(protocol.RegID, 0)
	assert.Equal(t, before, c.table.Value(protocol.RegVoltage))
	assert.Equal(t, protocol.IDCode, c.table.Value(protocol.RegID))
}

func TestCommandCorruptFrameCounted(t *testing.T) {
	c := newCmdRig()

	f := protocol.NewWriteFrame(protocol.RegEnable, protocol.EnableKey)
	f.Checksum ^= 0xFF
	c.queue.Push(f)
	c.task.Poll()

	assert.False(t, c.sup.Enabled(), "corrupt frame must not be applied")
	assert.Equal(t, uint16(1), c.task.LinkErrors())
	assert.Equal(t, uint16(1), c.table.Value(protocol.RegLinkErrors))
	assert.Zero(t, c.sup.Faults(), "link errors do not latch a fault")
}

func TestCommandWatchdog(t *testing.T) {
	c := newCmdRig()
	c.write(protocol.RegEnable, protocol.EnableKey)
	require.True(t, c.sup.Enabled())

	c.clock.Advance(900)
	c.write(protocol.RegWDReload, protocol.WDReloadKey)
	c.clock.Advance(900)
	c.task.Poll()
	assert.True(t, c.sup.Enabled())

	// Wrong key does not reload
	c.write(protocol.RegWDReload, 0xBEEF)
	c.clock.Advance(100)
	c.task.Poll()
	assert.False(t, c.sup.Enabled())
	assert.NotZero(t, c.sup.Faults()&FaultComm)
}

func TestCommandWatchdogIdleWhileDisabled(t *testing.T) {
	c := newCmdRig()
	c.clock.Advance(5000)
	c.task.Poll()
	assert.Zero(t, c.sup.Faults())
}

func TestCommandRegistryListsWritableRegisters(t *testing.T) {
	c := newCmdRig()
	for _, cmd := range c.task.Registry().Commands() {
		info, ok := protocol.LookupRegister(cmd.Name)
		if assert.True(t, ok, cmd.Name) {
			assert.Equal(t, info.Address, cmd.Address)
			assert.True(t, info.Writable, cmd.Name)
		}
	}
}
