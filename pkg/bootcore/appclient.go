package bootcore

import (
	"fmt"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
)

// AppRegFile is the application-mode side of the shared register map: the
// common identity window plus the update-request registers 0xE0-0xE7. An
// application embeds it in its own bus handler; writing the trigger byte
// stores an update request in the boot state page and resets into the
// bootloader.
type AppRegFile struct {
	flash *ch32flash.Driver

	HWType  byte
	FWMajor byte
	FWMinor byte

	updateSize uint16
	updateCRC  uint32

	// Reset performs the system reset after the update request is
	// persisted. Must not return in real firmware; the emulator's hook
	// flips it back to bootloader mode instead.
	Reset func()
}

// NewAppRegFile returns the application-mode register window.
func NewAppRegFile(flash *ch32flash.Driver, hwType, fwMajor, fwMinor byte) *AppRegFile {
	return &AppRegFile{
		flash:   flash,
		HWType:  hwType,
		FWMajor: fwMajor,
		FWMinor: fwMinor,
		Reset:   func() {},
	}
}

// ReadRegister serves a register read in application mode.
func (a *AppRegFile) ReadRegister(reg byte) byte {
	switch reg {
	case blproto.RegHWType:
		return a.HWType // mode flag clear: application running
	case blproto.RegFWVerMajor:
		return a.FWMajor
	case blproto.RegFWVerMinor:
		return a.FWMinor
	case blproto.RegAppBLVersion:
		return blproto.ProtocolVersion
	case blproto.RegAppUpdateSzL:
		return byte(a.updateSize)
	case blproto.RegAppUpdateSzH:
		return byte(a.updateSize >> 8)
	case blproto.RegAppUpdateCRC0:
		return byte(a.updateCRC)
	case blproto.RegAppUpdateCRC1:
		return byte(a.updateCRC >> 8)
	case blproto.RegAppUpdateCRC2:
		return byte(a.updateCRC >> 16)
	case blproto.RegAppUpdateCRC3:
		return byte(a.updateCRC >> 24)
	}
	return 0xFF
}

// WriteRegister serves a register write in application mode.
func (a *AppRegFile) WriteRegister(reg, val byte) error {
	switch reg {
	case blproto.RegAppUpdateCmd:
		if val != blproto.UpdateTrigger {
			return nil
		}
		if err := a.requestUpdate(); err != nil {
			return err
		}
		a.Reset()
	case blproto.RegAppUpdateSzL:
		a.updateSize = a.updateSize&0xFF00 | uint16(val)
	case blproto.RegAppUpdateSzH:
		a.updateSize = a.updateSize&0x00FF | uint16(val)<<8
	case blproto.RegAppUpdateCRC0:
		a.updateCRC = a.updateCRC&0xFFFFFF00 | uint32(val)
	case blproto.RegAppUpdateCRC1:
		a.updateCRC = a.updateCRC&0xFFFF00FF | uint32(val)<<8
	case blproto.RegAppUpdateCRC2:
		a.updateCRC = a.updateCRC&0xFF00FFFF | uint32(val)<<16
	case blproto.RegAppUpdateCRC3:
		a.updateCRC = a.updateCRC&0x00FFFFFF | uint32(val)<<24
	}
	return nil
}

// requestUpdate persists the update request in the boot state page.
func (a *AppRegFile) requestUpdate() error {
	if err := a.flash.ClearBootState(); err != nil {
		return fmt.Errorf("erasing boot state: %v", err)
	}
	page := blproto.EncodeBootState(blproto.BootState{
		Magic: blproto.BootStateMagic,
		State: blproto.StateUpdate,
	})
	if err := a.flash.WritePage(blproto.BootStateAddr, page); err != nil {
		return fmt.Errorf("writing boot state: %v", err)
	}
	return nil
}
