package rvdebug

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wome-devices/wchprog/pkg/blproto"
)

// Wire protocol spoken to the probe firmware over serial or USB bulk:
// single-letter commands, little-endian parameters, one ack byte per
// command ('R' for ok, 'F' for failure), and an XOR checksum trailing
// every bulk data block.
const (
	cmdInit   = 'I'
	cmdHalt   = 'H'
	cmdResume = 'G'
	cmdReset  = 'T'
	cmdStatus = 'S'
	cmdUnlock = 'U'
	cmdLock   = 'L'
	cmdErase  = 'E'
	cmdWrite  = 'W'
	cmdCRC    = 'C'

	ackOK   = 'R'
	ackFail = 'F'
)

// Target geometry reported to FlashTool consumers.
const (
	targetFlashBase = blproto.FlashBase
	targetFlashSize = blproto.FlashEnd - blproto.FlashBase
)

// link implements Transport and FlashTool over any byte stream to probe
// firmware.
type link struct {
	rw io.ReadWriter
}

func (l *link) readFull(buf []byte) error {
	_, err := io.ReadFull(l.rw, buf)
	return err
}

// simpleCmd sends a single command byte and waits for the ack.
func (l *link) simpleCmd(cmd byte) error {
	if _, err := l.rw.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("error writing command %q: %v", cmd, err)
	}
	return l.readAck(cmd)
}

func (l *link) readAck(cmd byte) error {
	ack := []byte{0}
	if err := l.readFull(ack); err != nil {
		return fmt.Errorf("error reading ack for %q: %v", cmd, err)
	}
	switch ack[0] {
	case ackOK:
		return nil
	case ackFail:
		return fmt.Errorf("probe reports failure for command %q", cmd)
	}
	return fmt.Errorf("unknown ack byte %X for command %q", ack[0], cmd)
}

func (l *link) Init() error   { return l.simpleCmd(cmdInit) }
func (l *link) Halt() error   { return l.simpleCmd(cmdHalt) }
func (l *link) Resume() error { return l.simpleCmd(cmdResume) }
func (l *link) Reset() error  { return l.simpleCmd(cmdReset) }
func (l *link) Unlock() error { return l.simpleCmd(cmdUnlock) }
func (l *link) Lock() error   { return l.simpleCmd(cmdLock) }

func (l *link) ReadStatus() (Status, error) {
	if _, err := l.rw.Write([]byte{cmdStatus}); err != nil {
		return Status{}, fmt.Errorf("error writing status command: %v", err)
	}
	raw := make([]byte, 4)
	if err := l.readFull(raw); err != nil {
		return Status{}, fmt.Errorf("error reading status word: %v", err)
	}
	return StatusFromRaw(binary.LittleEndian.Uint32(raw)), nil
}

func (l *link) EraseSector(addr uint32) error {
	msg := make([]byte, 5)
	msg[0] = cmdErase
	binary.LittleEndian.PutUint32(msg[1:], addr)
	if _, err := l.rw.Write(msg); err != nil {
		return fmt.Errorf("error writing erase command: %v", err)
	}
	return l.readAck(cmdErase)
}

func xorChecksum(data []byte) byte {
	var chk byte
	for _, b := range data {
		chk ^= b
	}
	return chk
}

func (l *link) Write(addr uint32, data []byte) error {
	if len(data) == 0 || len(data) > 0xFFFF {
		return fmt.Errorf("bad write length %d", len(data))
	}
	msg := make([]byte, 7, 7+len(data)+1)
	msg[0] = cmdWrite
	binary.LittleEndian.PutUint32(msg[1:5], addr)
	binary.LittleEndian.PutUint16(msg[5:7], uint16(len(data)))
	msg = append(msg, data...)
	msg = append(msg, xorChecksum(data))
	if _, err := l.rw.Write(msg); err != nil {
		return fmt.Errorf("error writing data block: %v", err)
	}
	return l.readAck(cmdWrite)
}

// crcRange asks the probe for the CRC32 of a flash range.
func (l *link) crcRange(addr, size uint32) (uint32, error) {
	msg := make([]byte, 9)
	msg[0] = cmdCRC
	binary.LittleEndian.PutUint32(msg[1:5], addr)
	binary.LittleEndian.PutUint32(msg[5:9], size)
	if _, err := l.rw.Write(msg); err != nil {
		return 0, fmt.Errorf("error writing crc command: %v", err)
	}
	reply := make([]byte, 4)
	if err := l.readFull(reply); err != nil {
		return 0, fmt.Errorf("error reading crc reply: %v", err)
	}
	return binary.LittleEndian.Uint32(reply), nil
}

func (l *link) Verify(addr uint32, data []byte) (bool, error) {
	crc, err := l.crcRange(addr, uint32(len(data)))
	if err != nil {
		return false, err
	}
	return crc == blproto.CRC32(data), nil
}

func (l *link) SectorSize() uint32 { return blproto.SectorSize }
func (l *link) FlashBase() uint32  { return targetFlashBase }
func (l *link) FlashSize() uint32  { return targetFlashSize }
