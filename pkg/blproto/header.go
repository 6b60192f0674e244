package blproto

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Sizes of the fixed on-flash records.
const (
	AppHeaderSize = 64
	BootStateSize = 64

	// headerCRCLen is the number of header bytes covered by HeaderCRC32
	// (everything before the header CRC field itself).
	headerCRCLen = 24
)

// AppHeader is the 64-byte record at AppHeaderAddr describing the
// application image.
//
// Byte layout: magic(4) fwMajor(1) fwMinor(1) minProto(1) hwType(1)
// appSize(4) appCRC32(4) entryPoint(4) headerCRC32(4) reserved(40),
// all multi-byte fields little-endian.
type AppHeader struct {
	Magic       uint32
	FWMajor     byte
	FWMinor     byte
	MinProto    byte // minimum bootloader protocol version required
	HWType      byte
	AppSize     uint32
	AppCRC32    uint32
	EntryPoint  uint32
	HeaderCRC32 uint32
}

// CRC32 computes the checksum used throughout the protocol
// (IEEE 802.3 polynomial, the same computation as the target's crc32.c).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// EncodeAppHeader serializes h into a 64-byte flash page. The reserved
// tail is filled with the erased pattern.
func EncodeAppHeader(h AppHeader) []byte {
	buf := make([]byte, AppHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.FWMajor
	buf[5] = h.FWMinor
	buf[6] = h.MinProto
	buf[7] = h.HWType
	binary.LittleEndian.PutUint32(buf[8:12], h.AppSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.AppCRC32)
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryPoint)
	binary.LittleEndian.PutUint32(buf[20:24], h.HeaderCRC32)
	for i := headerCRCLen + 4; i < AppHeaderSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// DecodeAppHeader parses a 64-byte flash page into an AppHeader.
func DecodeAppHeader(buf []byte) (AppHeader, error) {
	if len(buf) < AppHeaderSize {
		return AppHeader{}, fmt.Errorf("app header needs %d bytes, got %d", AppHeaderSize, len(buf))
	}
	return AppHeader{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		FWMajor:     buf[4],
		FWMinor:     buf[5],
		MinProto:    buf[6],
		HWType:      buf[7],
		AppSize:     binary.LittleEndian.Uint32(buf[8:12]),
		AppCRC32:    binary.LittleEndian.Uint32(buf[12:16]),
		EntryPoint:  binary.LittleEndian.Uint32(buf[16:20]),
		HeaderCRC32: binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// HeaderCRC computes the header checksum over the first 24 encoded bytes,
// i.e. every field before HeaderCRC32. The CRC field itself is not part of
// the computation.
func HeaderCRC(h AppHeader) uint32 {
	tmp := h
	tmp.HeaderCRC32 = 0
	return CRC32(EncodeAppHeader(tmp)[:headerCRCLen])
}

// NewAppHeader builds a header for the given application image, filling in
// both checksums. The result validates against the same image through the
// boot-time validator.
func NewAppHeader(app []byte, fwMajor, fwMinor, minProto, hwType byte, entryPoint uint32) AppHeader {
	h := AppHeader{
		Magic:      AppMagic,
		FWMajor:    fwMajor,
		FWMinor:    fwMinor,
		MinProto:   minProto,
		HWType:     hwType,
		AppSize:    uint32(len(app)),
		AppCRC32:   CRC32(app),
		EntryPoint: entryPoint,
	}
	h.HeaderCRC32 = HeaderCRC(h)
	return h
}

// BootState is the 64-byte record at BootStateAddr. The application writes
// it (magic + StateUpdate) to request an update; the bootloader erases the
// page once the session is over.
type BootState struct {
	Magic uint32
	State byte
}

// Boot state values.
const (
	StateNormal = 0x00
	StateUpdate = 0x01
)

// EncodeBootState serializes s into a 64-byte flash page.
func EncodeBootState(s BootState) []byte {
	buf := make([]byte, BootStateSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	buf[4] = s.State
	for i := 5; i < BootStateSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// DecodeBootState parses a 64-byte flash page into a BootState.
func DecodeBootState(buf []byte) (BootState, error) {
	if len(buf) < BootStateSize {
		return BootState{}, fmt.Errorf("boot state needs %d bytes, got %d", BootStateSize, len(buf))
	}
	return BootState{
		Magic: binary.LittleEndian.Uint32(buf[0:4]),
		State: buf[4],
	}, nil
}

// UpdateRequested reports whether the boot state page carries a valid
// update request.
func (s BootState) UpdateRequested() bool {
	return s.Magic == BootStateMagic && s.State == StateUpdate
}
