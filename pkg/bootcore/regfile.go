// Package bootcore implements the target-resident side of the update
// protocol: the bus register file, the command dispatcher, the boot-time
// image validator and the application-mode update-request registers.
//
// The register file mirrors the split on the real chip: the bus interrupt
// handler owns the transaction state (register pointer, accumulators, page
// buffer) and only ever raises a one-slot pending command; the main loop
// owns flash execution through Step. With that split the whole package is
// single-goroutine by construction and needs no locking.
package bootcore

import (
	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
)

// RegFile is the bootloader-mode register file exposed over the bus.
// AddrMatch/WriteByte/ReadByte/Stop/BusError run in interrupt context;
// Step runs in the main loop.
type RegFile struct {
	flash *ch32flash.Driver

	fwMajor, fwMinor byte // bootloader's own version

	status  byte
	errCode byte

	pageBuf  [blproto.PageSize]byte
	pageIdx  int
	pageAddr uint16 // offset from the app header base

	expectedCRC uint32

	regPtr       byte
	addrReceived bool
	txMode       bool

	pendingCmd byte
	pendingSet bool

	bootRequested bool // BOOT dispatched with SUCCESS
}

// NewRegFile returns a register file over the given flash driver.
func NewRegFile(flash *ch32flash.Driver, fwMajor, fwMinor byte) *RegFile {
	return &RegFile{flash: flash, fwMajor: fwMajor, fwMinor: fwMinor}
}

// AddrMatch starts a bus transaction. read is the latched transfer
// direction: true when the controller will read from us.
func (rf *RegFile) AddrMatch(read bool) {
	rf.txMode = read
	if !read {
		rf.addrReceived = false
		rf.pageIdx = 0
	}
}

// WriteByte handles one received data byte. The first byte after the
// address match sets the register pointer; later bytes are register
// writes.
func (rf *RegFile) WriteByte(b byte) {
	if !rf.addrReceived {
		rf.regPtr = b
		rf.addrReceived = true
		rf.pageIdx = 0
		return
	}
	rf.writeRegister(rf.regPtr, b)
	// The pointer advances per written byte, except into the page data
	// buffer which accumulates a full page at a single address.
	if rf.regPtr != blproto.RegBLData {
		rf.regPtr++
	}
}

// ReadByte produces the next byte of a read transaction and advances the
// register pointer.
func (rf *RegFile) ReadByte() byte {
	b := rf.readRegister(rf.regPtr)
	rf.regPtr++
	return b
}

// Stop ends the current bus transaction.
func (rf *RegFile) Stop() {
	rf.txMode = false
	rf.addrReceived = false
}

// BusError abandons the transaction (arbitration loss, bus error, ack
// failure, overrun) and resets the phase.
func (rf *RegFile) BusError() {
	rf.txMode = false
	rf.addrReceived = false
}

// hwType reads the hardware type from the app header, 0 when no valid
// header is present.
func (rf *RegFile) hwType() byte {
	buf := make([]byte, blproto.AppHeaderSize)
	if err := rf.flash.ReadAt(blproto.AppHeaderAddr, buf); err != nil {
		return 0
	}
	hdr, err := blproto.DecodeAppHeader(buf)
	if err != nil || hdr.Magic != blproto.AppMagic {
		return 0
	}
	return hdr.HWType
}

func (rf *RegFile) readRegister(reg byte) byte {
	switch reg {
	case blproto.RegHWType:
		return rf.hwType() | blproto.ModeFlag
	case blproto.RegFWVerMajor:
		return rf.fwMajor
	case blproto.RegFWVerMinor:
		return rf.fwMinor
	case blproto.RegBLVersion:
		return blproto.ProtocolVersion
	case blproto.RegBLStatus:
		return rf.status
	case blproto.RegBLError:
		return rf.errCode
	case blproto.RegBLCRC0:
		return byte(rf.expectedCRC)
	case blproto.RegBLCRC1:
		return byte(rf.expectedCRC >> 8)
	case blproto.RegBLCRC2:
		return byte(rf.expectedCRC >> 16)
	case blproto.RegBLCRC3:
		return byte(rf.expectedCRC >> 24)
	}
	return 0xFF
}

func (rf *RegFile) writeRegister(reg, b byte) {
	switch reg {
	case blproto.RegBLData:
		if rf.pageIdx < blproto.PageSize {
			rf.pageBuf[rf.pageIdx] = b
			rf.pageIdx++
		}
	case blproto.RegBLAddrL:
		rf.pageAddr = rf.pageAddr&0xFF00 | uint16(b)
	case blproto.RegBLAddrH:
		rf.pageAddr = rf.pageAddr&0x00FF | uint16(b)<<8
	case blproto.RegBLCRC0:
		rf.expectedCRC = rf.expectedCRC&0xFFFFFF00 | uint32(b)
	case blproto.RegBLCRC1:
		rf.expectedCRC = rf.expectedCRC&0xFFFF00FF | uint32(b)<<8
	case blproto.RegBLCRC2:
		rf.expectedCRC = rf.expectedCRC&0xFF00FFFF | uint32(b)<<16
	case blproto.RegBLCRC3:
		rf.expectedCRC = rf.expectedCRC&0x00FFFFFF | uint32(b)<<24
	case blproto.RegBLCmd:
		// Execution is deferred to the main loop: flash operations are
		// too slow for interrupt context and must not stall the bus.
		rf.pendingCmd = b
		rf.pendingSet = true
	}
}

// Status and LastError expose the register pair for the main loop and
// tests.
func (rf *RegFile) Status() byte    { return rf.status }
func (rf *RegFile) LastError() byte { return rf.errCode }

// BootRequested reports whether a BOOT command has completed with
// SUCCESS; the main loop combines it with a fresh validation before
// transferring control.
func (rf *RegFile) BootRequested() bool { return rf.bootRequested }

// Step consumes the pending command slot and executes at most one
// command. It returns true when it did some work.
func (rf *RegFile) Step() bool {
	if !rf.pendingSet {
		return false
	}
	cmd := rf.pendingCmd
	rf.pendingSet = false
	rf.execute(cmd)
	return true
}

func (rf *RegFile) fail(code byte) {
	rf.errCode = code
	rf.status = blproto.StatusError
}

func (rf *RegFile) execute(cmd byte) {
	// Busy is visible on the bus for the whole flash operation; the
	// interrupt handler keeps serving register reads meanwhile.
	rf.status = blproto.StatusBusy
	rf.errCode = blproto.ErrNone

	switch cmd {
	case blproto.CmdErase:
		if err := rf.flash.EraseAppArea(); err != nil {
			rf.fail(blproto.ErrFlashErase)
			return
		}
		rf.status = blproto.StatusSuccess

	case blproto.CmdWrite:
		addr := blproto.AppHeaderAddr + uint32(rf.pageAddr)
		if addr >= blproto.FlashEnd || addr&(blproto.PageSize-1) != 0 {
			rf.fail(blproto.ErrInvalidAddr)
			return
		}
		if err := rf.flash.WritePage(addr, rf.pageBuf[:]); err != nil {
			rf.fail(blproto.ErrFlashWrite)
			return
		}
		rf.status = blproto.StatusSuccess

	case blproto.CmdVerify:
		buf := make([]byte, blproto.AppHeaderSize)
		if err := rf.flash.ReadAt(blproto.AppHeaderAddr, buf); err != nil {
			rf.fail(blproto.ErrAppInvalid)
			return
		}
		hdr, err := blproto.DecodeAppHeader(buf)
		if err != nil || hdr.Magic != blproto.AppMagic {
			rf.fail(blproto.ErrAppInvalid)
			return
		}
		crc, err := rf.flash.CRC32Range(blproto.AppCodeAddr, hdr.AppSize)
		if err != nil || crc != rf.expectedCRC {
			rf.fail(blproto.ErrCRCMismatch)
			return
		}
		rf.status = blproto.StatusSuccess

	case blproto.CmdBoot:
		// The main loop does the actual control transfer once it sees
		// SUCCESS and a valid image.
		rf.bootRequested = true
		rf.status = blproto.StatusSuccess

	default:
		rf.fail(blproto.ErrInvalidCmd)
	}
}
