package bootcore

import (
	"testing"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
)

func TestAppRegFileIdentity(t *testing.T) {
	regs := ch32flash.NewSimRegs(int(blproto.FlashEnd))
	app := NewAppRegFile(ch32flash.NewDriver(regs), 4, 2, 5)

	if got := app.ReadRegister(blproto.RegHWType); got != 4 {
		t.Errorf("HW type = 0x%02X, want 0x04 (mode flag must be clear in app mode)", got)
	}
	if got := app.ReadRegister(blproto.RegFWVerMajor); got != 2 {
		t.Errorf("major version = %d, want 2", got)
	}
	if got := app.ReadRegister(blproto.RegAppBLVersion); got != blproto.ProtocolVersion {
		t.Errorf("bootloader version readback = %d, want %d", got, blproto.ProtocolVersion)
	}
}

func TestAppRegFileUpdateParams(t *testing.T) {
	regs := ch32flash.NewSimRegs(int(blproto.FlashEnd))
	app := NewAppRegFile(ch32flash.NewDriver(regs), 4, 1, 0)

	for reg, val := range map[byte]byte{
		blproto.RegAppUpdateSzL:  0x34,
		blproto.RegAppUpdateSzH:  0x12,
		blproto.RegAppUpdateCRC0: 0xDD,
		blproto.RegAppUpdateCRC1: 0xCC,
		blproto.RegAppUpdateCRC2: 0xBB,
		blproto.RegAppUpdateCRC3: 0xAA,
	} {
		if err := app.WriteRegister(reg, val); err != nil {
			t.Fatalf("WriteRegister(0x%02X): %v", reg, err)
		}
	}

	if app.updateSize != 0x1234 {
		t.Errorf("updateSize = 0x%04X, want 0x1234", app.updateSize)
	}
	if app.updateCRC != 0xAABBCCDD {
		t.Errorf("updateCRC = 0x%08X, want 0xAABBCCDD", app.updateCRC)
	}
	// Readback must mirror the stored values.
	if got := app.ReadRegister(blproto.RegAppUpdateSzH); got != 0x12 {
		t.Errorf("size high readback = 0x%02X, want 0x12", got)
	}
}

func TestUpdateTriggerPersistsAndResets(t *testing.T) {
	regs := ch32flash.NewSimRegs(int(blproto.FlashEnd))
	flash := ch32flash.NewDriver(regs)
	app := NewAppRegFile(flash, 4, 1, 0)

	resets := 0
	app.Reset = func() { resets++ }

	// A wrong trigger byte must be ignored.
	if err := app.WriteRegister(blproto.RegAppUpdateCmd, 0x55); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if resets != 0 {
		t.Fatalf("wrong trigger byte caused a reset")
	}

	if err := app.WriteRegister(blproto.RegAppUpdateCmd, blproto.UpdateTrigger); err != nil {
		t.Fatalf("WriteRegister(trigger): %v", err)
	}
	if resets != 1 {
		t.Fatalf("resets = %d, want 1", resets)
	}

	buf := make([]byte, blproto.BootStateSize)
	if err := flash.ReadAt(blproto.BootStateAddr, buf); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	state, err := blproto.DecodeBootState(buf)
	if err != nil {
		t.Fatalf("DecodeBootState: %v", err)
	}
	if !state.UpdateRequested() {
		t.Fatalf("boot state does not carry the update request: %+v", state)
	}

	// The bootloader must now stay resident even though the app image
	// may still be perfectly valid.
	bl := New(flash, 1, 0)
	installApp(regs, testApp())
	if resident := bl.Startup(); !resident {
		t.Fatalf("bootloader jumped to app despite a pending update request")
	}
}

func TestJumpClearsBootState(t *testing.T) {
	regs := ch32flash.NewSimRegs(int(blproto.FlashEnd))
	flash := ch32flash.NewDriver(regs)
	installApp(regs, testApp())
	regs.LoadImage(blproto.BootStateAddr, blproto.EncodeBootState(blproto.BootState{
		Magic: blproto.BootStateMagic,
		State: blproto.StateUpdate,
	}))

	bl := New(flash, 1, 0)
	bl.Startup() // stays resident: update requested

	// Complete the session with a BOOT command.
	rf := bl.Regs()
	busWrite(rf, blproto.RegBLCmd, blproto.CmdBoot)
	if jumped := bl.Step(); !jumped {
		t.Fatalf("BOOT on a valid image did not transfer control")
	}

	buf := make([]byte, blproto.BootStateSize)
	if err := flash.ReadAt(blproto.BootStateAddr, buf); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	state, _ := blproto.DecodeBootState(buf)
	if state.UpdateRequested() {
		t.Errorf("update request survived the completed session")
	}
}
