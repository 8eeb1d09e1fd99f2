package panel

import (
	"context"
	"fmt"
	"strings"

	"eload/core"
	"eload/protocol"
)

// Telemetry is one snapshot of the load's measurement registers,
// converted to base units.
type Telemetry struct {
	Status core.Status
	Faults core.Fault

	VoltageMV uint32
	CurrentMA uint32
	PowerMW   uint32
	BranchMA  [core.BranchCount]uint32

	TempC [2]int16
	RPM   [2]uint16

	ChargeMAh uint32
	EnergyMWh uint32
	Seconds   uint32
}

// Telemetry reads every measurement register.
func (p *Panel) Telemetry(ctx context.Context) (Telemetry, error) {
	var t Telemetry
	var err error
	read := func(addr uint8) uint16 {
		if err != nil {
			return 0
		}
		var v uint16
		v, err = p.master.ReadRegister(ctx, addr)
		return v
	}
	read32 := func(lo, hi uint8) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = p.master.ReadRegister32(ctx, lo, hi)
		return v
	}

	t.Status = core.Status(read(protocol.RegStatus))
	t.Faults = core.Fault(read(protocol.RegFault))
	t.VoltageMV = uint32(read(protocol.RegVoltage)) * protocol.CVScaleMV
	t.CurrentMA = uint32(read(protocol.RegCurrent))
	t.PowerMW = uint32(read(protocol.RegPower)) * protocol.CPScaleMW
	for i, addr := range []uint8{protocol.RegIL1, protocol.RegIL2, protocol.RegIR1, protocol.RegIR2} {
		t.BranchMA[i] = uint32(read(addr))
	}
	t.TempC[0] = int16(read(protocol.RegTempL))
	t.TempC[1] = int16(read(protocol.RegTempR))
	t.RPM[0] = read(protocol.RegRPM1)
	t.RPM[1] = read(protocol.RegRPM2)
	t.ChargeMAh = read32(protocol.RegTotalMAhL, protocol.RegTotalMAhH)
	t.EnergyMWh = read32(protocol.RegTotalMWhL, protocol.RegTotalMWhH)
	t.Seconds = read32(protocol.RegTotalTimeL, protocol.RegTotalTimeH)

	if err != nil {
		return t, fmt.Errorf("telemetry: %w", err)
	}
	return t, nil
}

func (t Telemetry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "status   %s\n", t.Status)
	fmt.Fprintf(&b, "faults   %s\n", t.Faults)
	fmt.Fprintf(&b, "voltage  %d.%03d V\n", t.VoltageMV/1000, t.VoltageMV%1000)
	fmt.Fprintf(&b, "current  %d.%03d A\n", t.CurrentMA/1000, t.CurrentMA%1000)
	fmt.Fprintf(&b, "power    %d.%03d W\n", t.PowerMW/1000, t.PowerMW%1000)
	b.WriteString("branches")
	for i, mA := range t.BranchMA {
		fmt.Fprintf(&b, " %s=%dmA", core.Branch(i), mA)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "temp     %d / %d C\n", t.TempC[0], t.TempC[1])
	fmt.Fprintf(&b, "fans     %d / %d rpm\n", t.RPM[0], t.RPM[1])
	fmt.Fprintf(&b, "totals   %d mAh, %d mWh, %d s\n", t.ChargeMAh, t.EnergyMWh, t.Seconds)
	return b.String()
}
