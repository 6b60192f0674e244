// Package ch32flash implements the target-resident flash driver of the
// CH32V003 bootloader: the hardware unlock-key bracket, page erase and
// program sequences with bounded busy polling, and CRC over flash ranges.
//
// The driver talks to the flash controller through the Regs interface so
// the same code drives real hardware registers and the simulated
// controller used by the bootloader emulator and the tests.
package ch32flash

import (
	"fmt"

	"github.com/wome-devices/wchprog/pkg/blproto"
)

// Flash controller unlock key sequence.
const (
	FlashKey1 = 0x45670123
	FlashKey2 = 0xCDEF89AB
)

// CTLR bits.
const (
	CtlrPG   = 1 << 0 // program mode
	CtlrPER  = 1 << 1 // page erase mode
	CtlrMER  = 1 << 2 // mass erase mode
	CtlrStrt = 1 << 6 // start erase
	CtlrLock = 1 << 7
)

// STATR bits.
const (
	StatrBsy      = 1 << 0
	StatrWRPrtErr = 1 << 4
)

// waitBudget bounds every busy poll; the hardware equivalent is on the
// order of one second.
const waitBudget = 1000000

// Regs is the flash controller register interface.
type Regs interface {
	// WriteKey writes the KEYR register (unlock sequence).
	WriteKey(v uint32)
	// Ctlr and SetCtlr access the control register.
	Ctlr() uint32
	SetCtlr(v uint32)
	// Statr reads the status register; ClearStatr clears latched error
	// bits (write-one-to-clear).
	Statr() uint32
	ClearStatr(bits uint32)
	// SetAddr latches the page address for an erase.
	SetAddr(v uint32)
	// ProgramWord stores one 32-bit word at addr. Effective only while
	// program mode is set and the controller is unlocked.
	ProgramWord(addr uint32, w uint32)
	// ReadAt copies flash content into buf. Plain read, no side effects.
	ReadAt(addr uint32, buf []byte) error
}

// Driver drives a flash controller through Regs.
type Driver struct {
	regs Regs
}

// NewDriver returns a Driver over regs with flash locked.
func NewDriver(regs Regs) *Driver {
	d := &Driver{regs: regs}
	d.Lock()
	return d
}

// Unlock disables write protection. It is a no-op when the controller is
// already unlocked.
func (d *Driver) Unlock() error {
	if d.regs.Ctlr()&CtlrLock == 0 {
		return nil
	}
	d.regs.WriteKey(FlashKey1)
	d.regs.WriteKey(FlashKey2)
	for i := 0; i < waitBudget; i++ {
		if d.regs.Ctlr()&CtlrLock == 0 {
			return nil
		}
	}
	return fmt.Errorf("flash did not unlock")
}

// Lock re-enables write protection.
func (d *Driver) Lock() {
	d.regs.SetCtlr(d.regs.Ctlr() | CtlrLock)
}

// Locked reports the lock bit; the bootloader uses it to assert the
// always-locked-on-return invariant.
func (d *Driver) Locked() bool {
	return d.regs.Ctlr()&CtlrLock != 0
}

// waitReady polls the busy flag with a bounded budget and checks the
// write-protect error latch, clearing it if set.
func (d *Driver) waitReady() error {
	busy := true
	for i := 0; i < waitBudget; i++ {
		if d.regs.Statr()&StatrBsy == 0 {
			busy = false
			break
		}
	}
	if busy {
		return fmt.Errorf("flash busy timeout")
	}
	if d.regs.Statr()&StatrWRPrtErr != 0 {
		d.regs.ClearStatr(StatrWRPrtErr)
		return fmt.Errorf("write protect error")
	}
	return nil
}

func checkPageAddr(addr uint32) error {
	if addr&(blproto.PageSize-1) != 0 {
		return fmt.Errorf("addr 0x%X is not page-aligned", addr)
	}
	if addr < blproto.BootStateAddr {
		return fmt.Errorf("addr 0x%X is inside the bootloader area", addr)
	}
	if addr >= blproto.FlashEnd {
		return fmt.Errorf("addr 0x%X is past end of flash", addr)
	}
	return nil
}

// ErasePage erases one 64-byte page. The caller must hold the unlock
// bracket. Erase mode is always cleared before returning.
func (d *Driver) ErasePage(addr uint32) error {
	if err := checkPageAddr(addr); err != nil {
		return err
	}
	if err := d.waitReady(); err != nil {
		return err
	}

	d.regs.SetCtlr(d.regs.Ctlr() | CtlrPER)
	defer d.regs.SetCtlr(d.regs.Ctlr() &^ CtlrPER)
	d.regs.SetAddr(addr)
	d.regs.SetCtlr(d.regs.Ctlr() | CtlrStrt)

	if err := d.waitReady(); err != nil {
		return fmt.Errorf("erase page 0x%X: %v", addr, err)
	}
	return nil
}

// WritePage programs one 64-byte page word by word inside its own
// unlock/program bracket, then verifies it by byte-exact readback.
// Program mode is always cleared and the flash relocked before returning.
func (d *Driver) WritePage(addr uint32, data []byte) error {
	if len(data) != blproto.PageSize {
		return fmt.Errorf("page data is %d bytes, want %d", len(data), blproto.PageSize)
	}
	if err := checkPageAddr(addr); err != nil {
		return err
	}
	if err := d.Unlock(); err != nil {
		return err
	}
	defer d.Lock()

	if err := d.program(addr, data); err != nil {
		return err
	}

	readback := make([]byte, blproto.PageSize)
	if err := d.regs.ReadAt(addr, readback); err != nil {
		return fmt.Errorf("readback at 0x%X: %v", addr, err)
	}
	for i := range readback {
		if readback[i] != data[i] {
			return fmt.Errorf("verify failed at 0x%X: byte %d is 0x%02X, want 0x%02X",
				addr, i, readback[i], data[i])
		}
	}
	return nil
}

func (d *Driver) program(addr uint32, data []byte) error {
	if err := d.waitReady(); err != nil {
		return err
	}
	d.regs.SetCtlr(d.regs.Ctlr() | CtlrPG)
	defer d.regs.SetCtlr(d.regs.Ctlr() &^ CtlrPG)

	// The controller accepts 32-bit stores only.
	for i := 0; i < len(data); i += 4 {
		w := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		d.regs.ProgramWord(addr+uint32(i), w)
		if err := d.waitReady(); err != nil {
			return fmt.Errorf("program word at 0x%X: %v", addr+uint32(i), err)
		}
	}
	return nil
}

// EraseAppArea erases every page from the boot state page to the end of
// flash: boot state, app header and app code. The flash always ends
// locked, including on a mid-loop failure.
func (d *Driver) EraseAppArea() error {
	if err := d.Unlock(); err != nil {
		return err
	}
	defer d.Lock()

	for addr := blproto.BootStateAddr; addr < blproto.FlashEnd; addr += blproto.PageSize {
		if err := d.ErasePage(addr); err != nil {
			return err
		}
	}
	return nil
}

// ClearBootState erases the boot state page, dropping any pending update
// request.
func (d *Driver) ClearBootState() error {
	if err := d.Unlock(); err != nil {
		return err
	}
	defer d.Lock()
	return d.ErasePage(blproto.BootStateAddr)
}

// CRC32Range computes the protocol CRC over a flash range. Pure read, no
// flash-mode side effects.
func (d *Driver) CRC32Range(addr, size uint32) (uint32, error) {
	buf := make([]byte, size)
	if err := d.regs.ReadAt(addr, buf); err != nil {
		return 0, err
	}
	return blproto.CRC32(buf), nil
}

// ReadAt exposes plain flash reads for the validator and register file.
func (d *Driver) ReadAt(addr uint32, buf []byte) error {
	return d.regs.ReadAt(addr, buf)
}
