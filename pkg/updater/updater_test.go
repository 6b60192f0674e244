package updater

import (
	"bytes"
	"testing"
	"time"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/bootcore"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
	"github.com/wome-devices/wchprog/pkg/i2cbus"
)

// emuTarget is a complete simulated target on a loopback bus: it starts
// in application mode and reboots into the bootloader when the update
// trigger arrives, the way real hardware does.
type emuTarget struct {
	regs *ch32flash.SimRegs
	drv  *ch32flash.Driver
	lb   *i2cbus.Loopback
	bl   *bootcore.Bootloader
}

func newEmuTarget(t *testing.T) *emuTarget {
	t.Helper()
	e := &emuTarget{
		regs: ch32flash.NewSimRegs(int(blproto.FlashEnd)),
	}
	e.drv = ch32flash.NewDriver(e.regs)
	appRF := bootcore.NewAppRegFile(e.drv, 3, 1, 0)
	e.lb = &i2cbus.Loopback{Periph: i2cbus.NewRegisterPeripheral(appRF)}
	appRF.Reset = e.reboot
	return e
}

// reboot models the reset after an update request: the bootloader comes
// up, sees the request, and stays resident serving its register window.
func (e *emuTarget) reboot() {
	e.bl = bootcore.New(e.drv, 1, 0)
	if e.bl.Startup() {
		panic("bootloader jumped with an update pending")
	}
	e.lb.Periph = e.bl.Regs()
	e.lb.AfterTx = func() { e.bl.Step() }
}

func testApp(n int) []byte {
	app := make([]byte, n)
	for i := range app {
		app[i] = byte(i*13 + 7)
	}
	return app
}

func TestPackLayout(t *testing.T) {
	app := testApp(100)
	img := Pack(app, 2, 5, 3)
	if len(img)%blproto.PageSize != 0 {
		t.Fatalf("packed length %d is not a page multiple", len(img))
	}
	h, err := blproto.DecodeAppHeader(img[:blproto.AppHeaderSize])
	if err != nil {
		t.Fatalf("decoding packed header: %v", err)
	}
	if h.Magic != blproto.AppMagic {
		t.Fatalf("packed magic = 0x%08X", h.Magic)
	}
	if h.AppSize != 128 {
		t.Fatalf("packed app size = %d, want 128 (padded)", h.AppSize)
	}
	if h.FWMajor != 2 || h.FWMinor != 5 || h.HWType != 3 {
		t.Fatalf("packed header fields = %+v", h)
	}
	if h.AppCRC32 != blproto.CRC32(img[blproto.AppHeaderSize:]) {
		t.Fatalf("packed app CRC does not cover the padded app")
	}
	if !bytes.Equal(img[blproto.AppHeaderSize:blproto.AppHeaderSize+100], app) {
		t.Fatalf("packed app bytes differ")
	}
	if img[len(img)-1] != 0xFF {
		t.Fatalf("pad byte = 0x%02X, want 0xFF", img[len(img)-1])
	}
}

func TestFullRemoteUpdate(t *testing.T) {
	e := newEmuTarget(t)
	u := New(e.lb, WithPoll(time.Millisecond, 20))

	app := testApp(300)
	img := Pack(app, 2, 1, 3)

	// Starts in application mode.
	id, err := u.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.InUpdateMode {
		t.Fatalf("target starts in update mode")
	}
	if id.HWType != 3 || id.FWMajor != 1 || id.FWMinor != 0 {
		t.Fatalf("identity = %+v", id)
	}

	if err := u.Update(img); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if e.bl == nil {
		t.Fatalf("target never rebooted into the bootloader")
	}
	if !e.bl.Jumped() {
		t.Fatalf("bootloader did not hand control to the new application")
	}

	// The flashed image validates like any locally written one.
	if diag := bootcore.Validate(e.drv); diag != bootcore.DiagOK {
		t.Fatalf("validator diagnosis after update = %v", diag)
	}
	got := make([]byte, len(app))
	if err := e.drv.ReadAt(blproto.AppCodeAddr, got); err != nil {
		t.Fatalf("reading back app: %v", err)
	}
	if !bytes.Equal(got, app) {
		t.Fatalf("flashed app differs from the original")
	}
	// A completed session leaves no pending update request.
	state := make([]byte, blproto.BootStateSize)
	if err := e.drv.ReadAt(blproto.BootStateAddr, state); err != nil {
		t.Fatalf("reading boot state: %v", err)
	}
	if s, err := blproto.DecodeBootState(state); err == nil && s.UpdateRequested() {
		t.Fatalf("update request still pending after boot")
	}
}

func TestUpdateAgainstBootloaderMode(t *testing.T) {
	// Target already sitting in the bootloader, e.g. no valid app.
	e := newEmuTarget(t)
	e.reboot()

	u := New(e.lb, WithPoll(time.Millisecond, 20))
	img := Pack(testApp(64), 1, 0, 3)
	if err := u.Update(img); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !e.bl.Jumped() {
		t.Fatalf("bootloader did not boot the new application")
	}
}

// corruptingBus flips one bit of the second page-data transaction (the
// first application page; the first carries the header), simulating a
// bus transfer error.
type corruptingBus struct {
	i2cbus.Bus
	pages int
}

func (b *corruptingBus) Tx(w, r []byte) error {
	if len(w) > 1 && w[0] == blproto.RegBLData {
		b.pages++
		if b.pages == 2 {
			mangled := make([]byte, len(w))
			copy(mangled, w)
			mangled[5] ^= 0x01
			return b.Bus.Tx(mangled, r)
		}
	}
	return b.Bus.Tx(w, r)
}

func TestVerifyCatchesBusCorruption(t *testing.T) {
	e := newEmuTarget(t)
	e.reboot()
	u := New(&corruptingBus{Bus: e.lb}, WithPoll(time.Millisecond, 20))

	err := u.Update(Pack(testApp(128), 1, 0, 3))
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("Update returned %v, want StatusError", err)
	}
	if se.Code != blproto.ErrCRCMismatch {
		t.Fatalf("error code = %s, want CRC mismatch", blproto.ErrString(se.Code))
	}
	if e.bl.Jumped() {
		t.Fatalf("bootloader booted a corrupt image")
	}
}

func TestBootRefusesMismatchedHeader(t *testing.T) {
	// A header whose app CRC does not match the streamed code passes
	// the wire-level verify (host and flash agree) but must fail the
	// boot-time validation, leaving the bootloader resident.
	e := newEmuTarget(t)
	e.reboot()
	u := New(e.lb, WithPoll(time.Millisecond, 20))

	img := Pack(testApp(128), 1, 0, 3)
	img[blproto.AppHeaderSize+5] ^= 0x01
	if err := u.Update(img); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if e.bl.Jumped() {
		t.Fatalf("bootloader jumped to an image its validator rejects")
	}
	if diag := bootcore.Validate(e.drv); diag != bootcore.DiagCRCMismatch {
		t.Fatalf("validator diagnosis = %v, want CRC mismatch", diag)
	}
}

func TestUpdateRejectsOddLength(t *testing.T) {
	e := newEmuTarget(t)
	e.reboot()
	u := New(e.lb)
	if err := u.Update(make([]byte, blproto.AppHeaderSize+10)); err == nil {
		t.Fatalf("Update accepted a non page-aligned image")
	}
}
