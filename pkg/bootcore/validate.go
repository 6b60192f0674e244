package bootcore

import "github.com/wome-devices/wchprog/pkg/blproto"

// Diag is the boot-time validation outcome.
type Diag int

const (
	DiagOK            Diag = iota
	DiagNoImage            // header magic is the erased pattern: nothing flashed
	DiagInvalidHeader      // header present but bad magic/entry/size/CRC
	DiagCRCMismatch        // header fine, application code corrupt
)

func (d Diag) String() string {
	switch d {
	case DiagOK:
		return "ok"
	case DiagNoImage:
		return "no image"
	case DiagInvalidHeader:
		return "invalid header"
	case DiagCRCMismatch:
		return "app CRC mismatch"
	}
	return "unknown"
}

// FlashReader is the read-only flash view the validator needs.
type FlashReader interface {
	ReadAt(addr uint32, buf []byte) error
}

// Validate inspects the app header region and decides whether the
// application may be entered. Checks run in order and short-circuit at
// the first failure.
func Validate(flash FlashReader) Diag {
	buf := make([]byte, blproto.AppHeaderSize)
	if err := flash.ReadAt(blproto.AppHeaderAddr, buf); err != nil {
		return DiagNoImage
	}
	hdr, err := blproto.DecodeAppHeader(buf)
	if err != nil {
		return DiagNoImage
	}

	// An erased magic means nothing was ever flashed; anything else that
	// fails is a corrupt or foreign image.
	if hdr.Magic == blproto.ErasedPattern {
		return DiagNoImage
	}
	if hdr.Magic != blproto.AppMagic {
		return DiagInvalidHeader
	}
	if hdr.EntryPoint != blproto.AppCodeAddr {
		return DiagInvalidHeader
	}
	if hdr.AppSize == 0 || hdr.AppSize > blproto.AppMaxSize {
		return DiagInvalidHeader
	}
	if blproto.HeaderCRC(hdr) != hdr.HeaderCRC32 {
		return DiagInvalidHeader
	}

	app := make([]byte, hdr.AppSize)
	if err := flash.ReadAt(blproto.AppCodeAddr, app); err != nil {
		return DiagCRCMismatch
	}
	if blproto.CRC32(app) != hdr.AppCRC32 {
		return DiagCRCMismatch
	}
	return DiagOK
}
