package hardware

import "fmt"

// Register names used by the AMC session and the telemetry catalogue. Every
// name must exist in the address table the card is opened with.
const (
	RegBoardID      = "SYSTEM.BOARD_ID"
	RegSystemID     = "SYSTEM.SYSTEM_ID"
	RegFirmwareID   = "SYSTEM.FIRMWARE.ID"
	RegFirmwareDate = "SYSTEM.FIRMWARE.DATE"
	RegIPAddress    = "SYSTEM.IP_INFO"
	RegMACAddress   = "SYSTEM.MAC"
	RegFPGAReset    = "SYSTEM.STATUS.FPGA_RESET"
	RegGbEInterrupt = "SYSTEM.STATUS.GBE_INT"
	RegV6CPLD       = "SYSTEM.STATUS.V6_CPLD"
	RegCDCELock     = "SYSTEM.STATUS.CDCE_LOCK"

	RegL1ACount           = "TTC.CMD_COUNTERS.L1A"
	RegCalPulseCount      = "TTC.CMD_COUNTERS.CALPULSE"
	RegResyncCount        = "TTC.CMD_COUNTERS.RESYNC"
	RegBC0Count           = "TTC.CMD_COUNTERS.BC0"
	RegL1ACountReset      = "TTC.CTRL.L1A_COUNT_RESET"
	RegCalPulseCountReset = "TTC.CTRL.CALPULSE_COUNT_RESET"
	RegL1AInhibit         = "TTC.CTRL.L1A_INHIBIT"
	RegTTCControl         = "TTC.CONTROL"
	RegTTCSpy             = "TTC.SPY"

	RegDAQControl       = "DAQ.CONTROL"
	RegDAQReset         = "DAQ.CONTROL.RESET"
	RegDAQEnable        = "DAQ.CONTROL.DAQ_ENABLE"
	RegDAQStatus        = "DAQ.STATUS"
	RegL1AFIFOEmpty     = "DAQ.STATUS.L1A_FIFO_IS_EMPTY"
	RegDAQInputMask     = "DAQ.INPUT_ENABLE_MASK"
	RegDAQDAVTimeout    = "DAQ.DAV_TIMEOUT"
	RegDAQMaxDAVTimer   = "DAQ.MAX_DAV_TIMER"
	RegDAQLastDAVTimer  = "DAQ.LAST_DAV_TIMER"
	RegDAQNotInTableErr = "DAQ.NOTINTABLE_ERR"
	RegDAQDisperErr     = "DAQ.DISPER_ERR"
	RegDAQEventsSent    = "DAQ.EVT_SENT"
	RegDAQL1AID         = "DAQ.L1AID"
	RegDAQInputTimeout  = "DAQ.INPUT_TIMEOUT"
	RegDAQRunType       = "DAQ.EXT_CONTROL.RUN_TYPE"
	RegDAQRunParams     = "DAQ.EXT_CONTROL.RUN_PARAMS"
	RegDAQSbitRate      = "DAQ.SBIT_RATE"
)

// NumLinks is the number of optical links (GTX) per card.
const NumLinks = 2

// RegSFPStatus names the status register of SFP cage n (1..4).
func RegSFPStatus(n int) string { return fmt.Sprintf("SYSTEM.SFP%d.STATUS", n) }

// RegFMCPresent names the presence register of FMC n (1..2).
func RegFMCPresent(n int) string { return fmt.Sprintf("SYSTEM.FMC%d.PRESENT", n) }

// RegRunParam names one byte of the run parameter word (index 1..3).
func RegRunParam(index int) string { return fmt.Sprintf("DAQ.EXT_CONTROL.RUN_PARAM%d", index) }

// RegLink names a per-link DAQ register, e.g. RegLink(0, "EVN") = "DAQ.GTX0.EVN".
func RegLink(link int, name string) string { return fmt.Sprintf("DAQ.GTX%d.%s", link, name) }

// RegOptoHybridCounters names the packed request counters of OptoHybrid n (0..1).
func RegOptoHybridCounters(n int) string { return fmt.Sprintf("COUNTERS.OH%d", n) }

// RegTrackingCounters names the packed request counters of tracking link n (0..1).
func RegTrackingCounters(n int) string { return fmt.Sprintf("COUNTERS.TRK%d", n) }

const RegBusCounters = "COUNTERS.IPBUS"
