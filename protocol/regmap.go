package protocol

// Register addresses shared with the control panel.
const (
	RegID           uint8 = 0x00
	RegStatus       uint8 = 0x01
	RegConfig       uint8 = 0x02
	RegFault        uint8 = 0x03
	RegFaultMask    uint8 = 0x04
	RegWDReload     uint8 = 0x05
	RegEnable       uint8 = 0x06
	RegCCLevel      uint8 = 0x07
	RegCVLevel      uint8 = 0x08
	RegCRLevel      uint8 = 0x09
	RegCPLevel      uint8 = 0x0A
	RegDischLevel   uint8 = 0x0B
	RegVoltage      uint8 = 0x0C
	RegCurrent      uint8 = 0x0D
	RegPower        uint8 = 0x0E
	RegIL1          uint8 = 0x0F
	RegIL2          uint8 = 0x10
	RegIR1          uint8 = 0x11
	RegIR2          uint8 = 0x12
	RegTempL        uint8 = 0x13
	RegTempR        uint8 = 0x14
	RegRPM1         uint8 = 0x15
	RegRPM2         uint8 = 0x16
	RegTotalMAhL    uint8 = 0x17
	RegTotalMAhH    uint8 = 0x18
	RegTotalMWhL    uint8 = 0x19
	RegTotalMWhH    uint8 = 0x1A
	RegTotalTimeL   uint8 = 0x1B
	RegTotalTimeH   uint8 = 0x1C
	RegAvlblCurrent uint8 = 0x1D
	RegAvlblPower   uint8 = 0x1E
	RegFanOverride  uint8 = 0x1F
	RegLinkErrors   uint8 = 0x20

	RegisterCount = 0x21
)

// Register values with fixed meaning.
const (
	IDCode      uint16 = 0x10AD
	EnableKey   uint16 = 0xABCD
	WDReloadKey uint16 = 0xCAFE
)

// CONFIG register layout
const (
	ConfigModeMask   uint16 = 0x0003
	ConfigVsenRemote uint16 = 0x0004
	ConfigVsenAuto   uint16 = 0x0008
)

// Register scaling for values that do not fit 16 bits in base units.
const (
	CVScaleMV = 10  // CV_LEVEL, DISCH_LEVEL and VOLTAGE: mV per LSB
	CRScaleMR = 10  // CR_LEVEL: mOhm per LSB
	CPScaleMW = 100 // CP_LEVEL and POWER: mW per LSB
)

// RegisterInfo describes one register for tooling.
type RegisterInfo struct {
	Address  uint8
	Name     string
	Writable bool
}

var registerInfo = [RegisterCount]RegisterInfo{
	{RegID, "id", false},
	{RegStatus, "status", false},
	{RegConfig, "config", true},
	{RegFault, "fault", true},
	{RegFaultMask, "fault_mask", true},
	{RegWDReload, "wd_reload", true},
	{RegEnable, "enable", true},
	{RegCCLevel, "cc_level", true},
	{RegCVLevel, "cv_level", true},
	{RegCRLevel, "cr_level", true},
	{RegCPLevel, "cp_level", true},
	{RegDischLevel, "disch_level", true},
	{RegVoltage, "voltage", false},
	{RegCurrent, "current", false},
	{RegPower, "power", false},
	{RegIL1, "i_l1", false},
	{RegIL2, "i_l2", false},
	{RegIR1, "i_r1", false},
	{RegIR2, "i_r2", false},
	{RegTempL, "temp_l", false},
	{RegTempR, "temp_r", false},
	{RegRPM1, "rpm1", false},
	{RegRPM2, "rpm2", false},
	{RegTotalMAhL, "total_mah_l", false},
	{RegTotalMAhH, "total_mah_h", false},
	{RegTotalMWhL, "total_mwh_l", false},
	{RegTotalMWhH, "total_mwh_h", false},
	{RegTotalTimeL, "total_time_l", false},
	{RegTotalTimeH, "total_time_h", false},
	{RegAvlblCurrent, "avlbl_current", false},
	{RegAvlblPower, "avlbl_power", false},
	{RegFanOverride, "fan_override", true},
	{RegLinkErrors, "link_errors", false},
}

// ValidAddress reports whether addr is inside the register map.
func ValidAddress(addr uint8) bool {
	return addr < RegisterCount
}

// Registers returns the register map in address order.
func Registers() []RegisterInfo {
	out := make([]RegisterInfo, RegisterCount)
	copy(out, registerInfo[:])
	return out
}

// LookupRegister finds a register by name.
func LookupRegister(name string) (RegisterInfo, bool) {
	for _, r := range registerInfo {
		if r.Name == name {
			return r, true
		}
	}
	return RegisterInfo{}, false
}

// RegisterName returns the name of addr, or "" when addr is not mapped.
func RegisterName(addr uint8) string {
	if !ValidAddress(addr) {
		return ""
	}
	return registerInfo[addr].Name
}
