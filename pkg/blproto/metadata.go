package blproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Embedded firmware metadata, a 32-byte record placed at a fixed offset
// inside an image (right after the interrupt vector region). It lets the
// host derive load address, type and version without a manifest entry.
const (
	MetadataSize   = 32
	MetadataOffset = 0x100

	// Flags bit 0: image kind.
	FlagAppImage = 0x01 // runs under the bootloader, needs an app header

	// Canonical load addresses per image kind.
	LoadAddrBoot = FlashBase   // standalone/bootloader-type image
	LoadAddrApp  = AppCodeAddr // application-type image
)

// Metadata is the decoded form of the embedded 32-byte record.
//
// Byte layout: magic(4) loadAddr(4) hwType(1) verMajor(1) verMinor(1)
// flags(1) name(16, NUL-padded) reserved(4).
type Metadata struct {
	Magic    uint32
	LoadAddr uint32
	HWType   byte
	VerMajor byte
	VerMinor byte
	Flags    byte
	Name     string
}

// IsApp reports whether the metadata describes an application-type image.
func (m Metadata) IsApp() bool {
	return m.Flags&FlagAppImage != 0
}

// EncodeMetadata serializes m into its 32-byte form. Names longer than
// 15 bytes are truncated so the field stays NUL-terminated.
func EncodeMetadata(m Metadata) []byte {
	buf := make([]byte, MetadataSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], m.LoadAddr)
	buf[8] = m.HWType
	buf[9] = m.VerMajor
	buf[10] = m.VerMinor
	buf[11] = m.Flags
	name := m.Name
	if len(name) > 15 {
		name = name[:15]
	}
	copy(buf[12:28], name)
	return buf
}

// DecodeMetadata parses a 32-byte record.
func DecodeMetadata(buf []byte) (Metadata, error) {
	if len(buf) < MetadataSize {
		return Metadata{}, fmt.Errorf("metadata needs %d bytes, got %d", MetadataSize, len(buf))
	}
	name := buf[12:28]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Metadata{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		LoadAddr: binary.LittleEndian.Uint32(buf[4:8]),
		HWType:   buf[8],
		VerMajor: buf[9],
		VerMinor: buf[10],
		Flags:    buf[11],
		Name:     string(name),
	}, nil
}

// FindMetadata looks for a valid embedded metadata record at the fixed
// offset inside an image. It returns false if the image is too small or
// the magic does not match.
func FindMetadata(image []byte) (Metadata, bool) {
	if len(image) < MetadataOffset+MetadataSize {
		return Metadata{}, false
	}
	m, err := DecodeMetadata(image[MetadataOffset : MetadataOffset+MetadataSize])
	if err != nil || m.Magic != MetadataMagic {
		return Metadata{}, false
	}
	return m, true
}
