package ch32flash

import (
	"fmt"

	"github.com/wome-devices/wchprog/pkg/blproto"
)

// SimRegs is a simulated CH32V003 flash controller over a plain byte
// array. It honors the unlock key sequence, the PER/PG/STRT mode bits and
// the write-protect error latch, so the Driver code path against it is the
// same as against hardware. It backs the bootloader emulator and the
// tests.
type SimRegs struct {
	mem   []byte
	ctlr  uint32
	statr uint32
	addr  uint32
	key1  bool // first unlock key seen

	// Failure injection.
	FailEraseAt map[uint32]bool // erase of this page faults with WRPRTERR
	FailWriteAt map[uint32]bool // programming this word is dropped
	StuckBusy   bool            // BSY reads as set forever
}

// NewSimRegs returns a simulated controller with size bytes of erased
// flash, locked.
func NewSimRegs(size int) *SimRegs {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &SimRegs{
		mem:         mem,
		ctlr:        CtlrLock,
		FailEraseAt: make(map[uint32]bool),
		FailWriteAt: make(map[uint32]bool),
	}
}

func (s *SimRegs) WriteKey(v uint32) {
	switch {
	case v == FlashKey1:
		s.key1 = true
	case v == FlashKey2 && s.key1:
		s.ctlr &^= CtlrLock
		s.key1 = false
	default:
		s.key1 = false
	}
}

func (s *SimRegs) Ctlr() uint32 { return s.ctlr }

func (s *SimRegs) SetCtlr(v uint32) {
	strt := v&CtlrStrt != 0 && s.ctlr&CtlrStrt == 0
	s.ctlr = v &^ CtlrStrt // STRT is self-clearing
	if strt && s.ctlr&CtlrPER != 0 {
		s.erasePage(s.addr)
	}
}

func (s *SimRegs) Statr() uint32 {
	if s.StuckBusy {
		return s.statr | StatrBsy
	}
	return s.statr
}

func (s *SimRegs) ClearStatr(bits uint32) { s.statr &^= bits }

func (s *SimRegs) SetAddr(v uint32) { s.addr = v }

func (s *SimRegs) erasePage(addr uint32) {
	if s.ctlr&CtlrLock != 0 {
		s.statr |= StatrWRPrtErr
		return
	}
	if s.FailEraseAt[addr] {
		s.statr |= StatrWRPrtErr // hardware fault: page keeps its content
		return
	}
	if int(addr)+blproto.PageSize > len(s.mem) {
		return
	}
	for i := uint32(0); i < blproto.PageSize; i++ {
		s.mem[addr+i] = 0xFF
	}
}

func (s *SimRegs) ProgramWord(addr uint32, w uint32) {
	if s.ctlr&CtlrLock != 0 || s.ctlr&CtlrPG == 0 {
		s.statr |= StatrWRPrtErr
		return
	}
	if s.FailWriteAt[addr] {
		return
	}
	if int(addr)+4 > len(s.mem) {
		return
	}
	// Programming can only clear bits, like real flash.
	for i := uint32(0); i < 4; i++ {
		s.mem[addr+i] &= byte(w >> (8 * i))
	}
}

func (s *SimRegs) ReadAt(addr uint32, buf []byte) error {
	if int(addr)+len(buf) > len(s.mem) {
		return fmt.Errorf("read [0x%X, 0x%X) past end of flash", addr, int(addr)+len(buf))
	}
	copy(buf, s.mem[addr:])
	return nil
}

// Image returns the raw flash content. Test helper.
func (s *SimRegs) Image() []byte { return s.mem }

// LoadImage stores raw bytes at addr, bypassing the controller. Test and
// emulator setup helper.
func (s *SimRegs) LoadImage(addr uint32, data []byte) {
	copy(s.mem[addr:], data)
}
