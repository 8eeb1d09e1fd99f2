package core

import "strings"

// Fault is a bitset of latched fault causes.
type Fault uint16

const (
	FaultComm       Fault = 0x0001 // Watchdog not reloaded in time
	FaultChecksum   Fault = 0x0002 // Reserved, link errors are counted instead
	FaultOTP        Fault = 0x0004
	FaultTempSensor Fault = 0x0008 // Sensor open or shorted
	FaultFan1       Fault = 0x0010
	FaultFan2       Fault = 0x0020
	FaultOCP        Fault = 0x0040
	FaultOPP        Fault = 0x0080
	FaultReg        Fault = 0x0100
	FaultFuseL1     Fault = 0x0200
	FaultFuseL2     Fault = 0x0400
	FaultFuseR1     Fault = 0x0800
	FaultFuseR2     Fault = 0x1000
	FaultExternal   Fault = 0x2000

	FaultAll Fault = 0x3FFF

	// NonMaskable faults are always part of the effective mask.
	NonMaskable = FaultOTP | FaultTempSensor
)

var faultNames = []struct {
	bit  Fault
	name string
}{
	{FaultComm, "comm"},
	{FaultChecksum, "checksum"},
	{FaultOTP, "otp"},
	{FaultTempSensor, "temp_sensor"},
	{FaultFan1, "fan1"},
	{FaultFan2, "fan2"},
	{FaultOCP, "ocp"},
	{FaultOPP, "opp"},
	{FaultReg, "reg"},
	{FaultFuseL1, "fuse_l1"},
	{FaultFuseL2, "fuse_l2"},
	{FaultFuseR1, "fuse_r1"},
	{FaultFuseR2, "fuse_r2"},
	{FaultExternal, "external"},
}

func (f Fault) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range faultNames {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// EffectiveMask returns m with the non-maskable faults forced on.
func EffectiveMask(m Fault) Fault {
	return m | NonMaskable
}

// Status bits mirrored into the STATUS register.
type Status uint16

const (
	StatusEnabled Status = 0x0001
	StatusFault   Status = 0x0002
	StatusReady   Status = 0x0004
	StatusNoReg   Status = 0x0008
)

func (s Status) String() string {
	var parts []string
	if s&StatusEnabled != 0 {
		parts = append(parts, "enabled")
	}
	if s&StatusFault != 0 {
		parts = append(parts, "fault")
	}
	if s&StatusReady != 0 {
		parts = append(parts, "ready")
	}
	if s&StatusNoReg != 0 {
		parts = append(parts, "no_reg")
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "|")
}

// Mode is the active regulation law.
type Mode uint8

const (
	ModeCC Mode = iota
	ModeCV
	ModeCR
	ModeCP
)

func (m Mode) String() string {
	switch m {
	case ModeCC:
		return "CC"
	case ModeCV:
		return "CV"
	case ModeCR:
		return "CR"
	case ModeCP:
		return "CP"
	default:
		return "invalid"
	}
}

// Valid reports whether m is one of the four modes.
func (m Mode) Valid() bool {
	return m <= ModeCP
}
