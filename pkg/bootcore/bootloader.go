package bootcore

import (
	"log"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
)

// Bootloader glues the validator, the flash driver and the register file
// into the boot-time decision and the update-mode main loop.
type Bootloader struct {
	flash *ch32flash.Driver
	regs  *RegFile

	// JumpToApp is invoked exactly once when control transfers to the
	// application, with interrupts conceptually disabled and peripherals
	// reset. The emulator swaps in its own hook.
	JumpToApp func(entry uint32)

	diag   Diag
	jumped bool
}

// New returns a bootloader over the given flash driver.
func New(flash *ch32flash.Driver, fwMajor, fwMinor byte) *Bootloader {
	return &Bootloader{
		flash:     flash,
		regs:      NewRegFile(flash, fwMajor, fwMinor),
		JumpToApp: func(entry uint32) {},
	}
}

// Regs exposes the register file for the bus front end.
func (bl *Bootloader) Regs() *RegFile { return bl.regs }

// Diag returns the diagnostic code of the last validation, for the error
// indication collaborator.
func (bl *Bootloader) Diag() Diag { return bl.diag }

// Jumped reports whether control was handed to the application.
func (bl *Bootloader) Jumped() bool { return bl.jumped }

// Startup runs the power-on decision: validate the image and either enter
// the application or stay resident in update mode. It returns true when
// the bootloader stays resident.
func (bl *Bootloader) Startup() bool {
	if requested, _ := bl.updateRequested(); requested {
		log.Printf("bootcore: update requested, staying in update mode")
		bl.diag = DiagOK
		return true
	}

	bl.diag = Validate(bl.flash)
	if bl.diag != DiagOK {
		log.Printf("bootcore: validation failed: %v", bl.diag)
		return true
	}
	bl.jump()
	return false
}

func (bl *Bootloader) updateRequested() (bool, error) {
	buf := make([]byte, blproto.BootStateSize)
	if err := bl.flash.ReadAt(blproto.BootStateAddr, buf); err != nil {
		return false, err
	}
	state, err := blproto.DecodeBootState(buf)
	if err != nil {
		return false, err
	}
	return state.UpdateRequested(), nil
}

// Step is one main-loop iteration in update mode: execute at most one
// pending command, then check for a completed BOOT. It returns true when
// control transferred to the application.
func (bl *Bootloader) Step() bool {
	bl.regs.Step()

	if bl.regs.BootRequested() && bl.regs.Status() == blproto.StatusSuccess {
		if Validate(bl.flash) == DiagOK {
			bl.jump()
			return true
		}
		// BOOT on an invalid image leaves the bootloader resident; the
		// controller sees SUCCESS for the command itself and can probe
		// the validator's verdict via VERIFY.
	}
	return false
}

func (bl *Bootloader) jump() {
	// The session is over either way; a stale update request must not
	// re-enter update mode on the next reset.
	if requested, _ := bl.updateRequested(); requested {
		if err := bl.flash.ClearBootState(); err != nil {
			log.Printf("bootcore: clearing boot state: %v", err)
		}
	}
	bl.jumped = true
	bl.JumpToApp(blproto.AppCodeAddr)
}
