// Package blproto defines the wire protocol of the WOME CH32V003 I2C
// bootloader: the register map, command and status codes, and the on-flash
// layouts (app header, boot state, embedded firmware metadata).
//
// Everything here is shared between the target-resident bootloader core
// (pkg/bootcore), the host-side updater (pkg/updater) and the debug-probe
// programmer (pkg/programmer), so the three write paths produce images the
// boot-time validator cannot tell apart.
package blproto

// Flash memory layout of the CH32V003 target.
const (
	FlashBase      uint32 = 0x00000000
	BootloaderSize uint32 = 0x00000C00 // 3KB bootloader, never touched in the field
	BootStateAddr  uint32 = 0x00000C00 // 64B boot state page
	AppHeaderAddr  uint32 = 0x00000C40 // 64B app header
	AppCodeAddr    uint32 = 0x00000C80 // application code start
	FlashEnd       uint32 = 0x00004000 // 16KB total flash
	AppMaxSize     uint32 = FlashEnd - AppCodeAddr

	PageSize   = 64   // program/erase granularity of the target flash
	SectorSize = 1024 // fast-erase granularity used over the debug probe
)

// Protocol constants.
const (
	ProtocolVersion = 1
	I2CAddress      = 0x42

	// Bit 7 of REG_HW_TYPE, set while the bootloader is running.
	ModeFlag = 0x80

	// Value written to RegAppUpdateCmd to request update mode.
	UpdateTrigger = 0xAA
)

// Magic values (all little-endian on the wire).
const (
	AppMagic       uint32 = 0x454D4F57 // "WOME"
	BootStateMagic uint32 = 0x424F4F54 // "BOOT"
	MetadataMagic  uint32 = 0x5458454B // "KEXT"

	// ErasedPattern is the value of a freshly erased flash word.
	ErasedPattern uint32 = 0xFFFFFFFF
)

// Common registers (0x00-0x0F), identical meaning in both modes.
const (
	RegHWType     = 0x00 // hardware type (R); ModeFlag set in bootloader mode
	RegFWVerMajor = 0x01 // firmware major version (R)
	RegFWVerMinor = 0x02 // firmware minor version (R)
)

// Application update registers (0xE0-0xE7), valid only in application mode.
const (
	RegAppBLVersion  = 0xE0 // bootloader protocol version readback (R)
	RegAppUpdateCmd  = 0xE1 // write UpdateTrigger to enter update mode (W)
	RegAppUpdateSzL  = 0xE2 // expected firmware size low byte (W)
	RegAppUpdateSzH  = 0xE3 // expected firmware size high byte (W)
	RegAppUpdateCRC0 = 0xE4 // expected CRC32 byte 0, LSB (W)
	RegAppUpdateCRC1 = 0xE5
	RegAppUpdateCRC2 = 0xE6
	RegAppUpdateCRC3 = 0xE7
)

// Bootloader registers (0xF0-0xFF), valid only in update mode.
const (
	RegBLVersion = 0xF0 // protocol version (R)
	RegBLStatus  = 0xF1 // status register (R)
	RegBLError   = 0xF2 // last error code (R)
	RegBLCmd     = 0xF8 // command (W)
	RegBLAddrL   = 0xF9 // page address low byte (W)
	RegBLAddrH   = 0xFA // page address high byte (W)
	RegBLData    = 0xFB // 64-byte page data buffer (W, sequential)
	RegBLCRC0    = 0xFC // expected CRC32 byte 0, LSB (R/W)
	RegBLCRC1    = 0xFD
	RegBLCRC2    = 0xFE
	RegBLCRC3    = 0xFF
)

// Bootloader commands.
const (
	CmdErase  = 0x01 // erase the whole application area
	CmdWrite  = 0x02 // write the page buffer at the latched page address
	CmdVerify = 0x03 // CRC-check the application area
	CmdBoot   = 0x04 // hand control to the application
)

// Status register values.
const (
	StatusIdle    = 0x00
	StatusBusy    = 0x01
	StatusSuccess = 0x40
	StatusError   = 0x80
)

// Error codes reported through RegBLError.
const (
	ErrNone        = 0x00
	ErrInvalidCmd  = 0x01
	ErrInvalidAddr = 0x02
	ErrFlashErase  = 0x03
	ErrFlashWrite  = 0x04
	ErrCRCMismatch = 0x05
	ErrAppInvalid  = 0x06
	ErrTimeout     = 0x07
)

// StatusString returns a human-readable name for a status register value.
func StatusString(status byte) string {
	switch status {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// ErrString returns a human-readable name for an error register value.
func ErrString(code byte) string {
	switch code {
	case ErrNone:
		return "none"
	case ErrInvalidCmd:
		return "invalid command"
	case ErrInvalidAddr:
		return "invalid address"
	case ErrFlashErase:
		return "flash erase failed"
	case ErrFlashWrite:
		return "flash write failed"
	case ErrCRCMismatch:
		return "CRC mismatch"
	case ErrAppInvalid:
		return "invalid app image"
	case ErrTimeout:
		return "timeout"
	}
	return "unknown"
}
