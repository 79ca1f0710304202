package infospace

import (
	"fmt"

	"github.com/KevinKickass/CrateManager/internal/hardware"
)

// FieldSpec describes one catalogue field. Register is empty for fields
// whose value does not come from the card.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Policy   Policy
	Register string
	Format   string
}

// Formats understood by the front-end.
const (
	FormatID      = "id"
	FormatVersion = "fwver"
	FormatDate    = "date"
	FormatIP      = "ip"
	FormatMAC     = "mac"
	FormatHex     = "i2c/hex"
	FormatRate    = "raw/rate"
)

// Names of the connection parameters exported into every card namespace.
const (
	FieldControlHubAddress = "ControlHubAddress"
	FieldIPBusProtocol     = "IPBusProtocol"
	FieldDeviceIPAddress   = "DeviceIPAddress"
	FieldAddressTable      = "AddressTable"
	FieldControlHubPort    = "ControlHubPort"
	FieldIPBusPort         = "IPBusPort"
)

// Parameters are the connection parameters, filled from the slot record.
var Parameters = []FieldSpec{
	{Name: FieldControlHubAddress, Kind: KindString, Policy: NoUpdate},
	{Name: FieldIPBusProtocol, Kind: KindString, Policy: NoUpdate},
	{Name: FieldDeviceIPAddress, Kind: KindString, Policy: NoUpdate},
	{Name: FieldAddressTable, Kind: KindString, Policy: NoUpdate},
	{Name: FieldControlHubPort, Kind: KindUint32, Policy: NoUpdate},
	{Name: FieldIPBusPort, Kind: KindUint32, Policy: NoUpdate},
}

// Catalogue is the fixed set of telemetry fields published for a bound card.
var Catalogue = buildCatalogue()

func buildCatalogue() []FieldSpec {
	c := []FieldSpec{
		{Name: "BOARD_ID", Kind: KindUint32, Policy: NoUpdate, Register: hardware.RegBoardID, Format: FormatID},
		{Name: "SYSTEM_ID", Kind: KindUint32, Policy: NoUpdate, Register: hardware.RegSystemID, Format: FormatID},
		{Name: "FIRMWARE_ID", Kind: KindUint32, Policy: Process, Register: hardware.RegFirmwareID, Format: FormatVersion},
		{Name: "FIRMWARE_DATE", Kind: KindUint32, Policy: Process, Register: hardware.RegFirmwareDate, Format: FormatDate},
		{Name: "IP_ADDRESS", Kind: KindUint32, Policy: NoUpdate, Register: hardware.RegIPAddress, Format: FormatIP},
		{Name: "MAC_ADDRESS", Kind: KindUint64, Policy: NoUpdate, Register: hardware.RegMACAddress, Format: FormatMAC},
	}

	for n := 1; n <= 4; n++ {
		c = append(c, hw32(statusName("SFP", n), hardware.RegSFPStatus(n)))
	}
	for n := 1; n <= 2; n++ {
		c = append(c, hw32(statusName("FMC", n), hardware.RegFMCPresent(n)))
	}

	c = append(c,
		hw32("FPGA_RESET", hardware.RegFPGAReset),
		hw32("GBE_INT", hardware.RegGbEInterrupt),
		hw32("V6_CPLD", hardware.RegV6CPLD),
		hw32("CPLD_LOCK", hardware.RegCDCELock),

		hw32("L1A", hardware.RegL1ACount),
		hw32("CalPulse", hardware.RegCalPulseCount),
		hw32("Resync", hardware.RegResyncCount),
		hw32("BC0", hardware.RegBC0Count),

		hw32("CONTROL", hardware.RegDAQControl),
		hw32("STATUS", hardware.RegDAQStatus),
		hw32("INPUT_ENABLE_MASK", hardware.RegDAQInputMask),
		hw32("DAV_TIMEOUT", hardware.RegDAQDAVTimeout),
		hw32("MAX_DAV_TIMER", hardware.RegDAQMaxDAVTimer),
		hw32("LAST_DAV_TIMER", hardware.RegDAQLastDAVTimer),
		hw32("NOTINTABLE_ERR", hardware.RegDAQNotInTableErr),
		hw32("DISPER_ERR", hardware.RegDAQDisperErr),
		hw32("EVT_SENT", hardware.RegDAQEventsSent),
		hw32("L1AID", hardware.RegDAQL1AID),
		hw32("INPUT_TIMEOUT", hardware.RegDAQInputTimeout),
		hw32("RUN_TYPE", hardware.RegDAQRunType),
		hw32("RUN_PARAMS", hardware.RegDAQRunParams),
		hw32("SBIT_RATE", hardware.RegDAQSbitRate),
	)

	for link := 0; link < hardware.NumLinks; link++ {
		for _, reg := range []string{
			"STATUS", "CORRUPT_VFAT_BLK_CNT", "EVN", "DAV_TIMEOUT",
			"MAX_DAV_TIMER", "LAST_DAV_TIMER", "CLUSTER_01", "CLUSTER_23",
		} {
			c = append(c, hw32(linkName(link, reg), hardware.RegLink(link, reg)))
		}
	}

	for n := 0; n < 2; n++ {
		c = append(c, custom(indexedName("OptoHybrid", n), hardware.RegOptoHybridCounters(n)))
	}
	for n := 0; n < 2; n++ {
		c = append(c, custom(indexedName("TRK", n), hardware.RegTrackingCounters(n)))
	}
	c = append(c, custom("Counters", hardware.RegBusCounters))

	for link := 0; link < hardware.NumLinks; link++ {
		for _, reg := range []string{"TRG_ERR", "TRK_ERR", "DATA_PACKETS"} {
			c = append(c, FieldSpec{
				Name:     linkName(link, reg),
				Kind:     KindDouble,
				Policy:   Process,
				Register: hardware.RegLink(link, reg),
				Format:   FormatRate,
			})
		}
	}

	c = append(c,
		hw32("TTC_CONTROL", hardware.RegTTCControl),
		hw32("TTC_SPY", hardware.RegTTCSpy),
	)
	return c
}

// FieldNames lists every field created for a bound card, parameters first.
func FieldNames() []string {
	names := make([]string, 0, len(Parameters)+len(Catalogue))
	for _, f := range Parameters {
		names = append(names, f.Name)
	}
	for _, f := range Catalogue {
		names = append(names, f.Name)
	}
	return names
}

// IsRate reports whether the monitor publishes a per-second rate for the field.
func (f FieldSpec) IsRate() bool {
	return f.Policy == Process && f.Format == FormatRate
}

func hw32(name, register string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindUint32, Policy: HW32, Register: register}
}

func custom(name, register string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindUint64, Policy: CustomProtocol, Register: register, Format: FormatHex}
}

func statusName(prefix string, n int) string {
	return fmt.Sprintf("%s%d_STATUS", prefix, n)
}

func indexedName(prefix string, n int) string {
	return fmt.Sprintf("%s_%d", prefix, n)
}

func linkName(link int, reg string) string {
	return fmt.Sprintf("GTX%d_%s", link, reg)
}
