// Package fwimage manages the catalog of firmware images a programmer
// can flash: images scanned from a directory (raw binary or Intel HEX,
// with optional embedded metadata) and a built-in fallback used when no
// inventory is available.
package fwimage

import (
	"fmt"

	"github.com/wome-devices/wchprog/pkg/blproto"
)

// Kind tells the programmer how an image must be placed in flash.
type Kind int

const (
	// KindStandalone images carry their own vector table and are
	// written verbatim at their load address.
	KindStandalone Kind = iota
	// KindApplication images run under the resident bootloader and get
	// a generated header at AppHeaderAddr.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindStandalone:
		return "standalone"
	case KindApplication:
		return "application"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Entry is one flashable image.
type Entry struct {
	Name     string
	Data     []byte
	LoadAddr uint32
	HWType   byte
	VerMajor byte
	VerMinor byte
	Kind     Kind
	// HasMetadata is set when the image carried an embedded metadata
	// record; without one all fields except Name and Data are defaults.
	HasMetadata bool
}

func (e Entry) String() string {
	return fmt.Sprintf("%s v%d.%d (%s, %d bytes @ 0x%04X)",
		e.Name, e.VerMajor, e.VerMinor, e.Kind, len(e.Data), e.LoadAddr)
}

// Catalog is a fixed, ordered list of flashable images.
type Catalog interface {
	Len() int
	At(i int) (Entry, error)
}

// fallbackImage is a minimal standalone program: set up a stack pointer
// and loop forever. It proves out the whole flashing path on a board
// with no inventory at all.
var fallbackImage = []byte{
	0x37, 0x01, 0x00, 0x08, // lui   sp, 0x80
	0x13, 0x01, 0x01, 0x00, // addi  sp, sp, 0
	0x6F, 0x00, 0x00, 0x00, // jal   x0, 0
}

// Builtin is the catalog of last resort: exactly one entry, the
// built-in fallback image.
type Builtin struct{}

func (Builtin) Len() int { return 1 }

func (Builtin) At(i int) (Entry, error) {
	if i != 0 {
		return Entry{}, fmt.Errorf("builtin catalog has 1 entry, index %d requested", i)
	}
	data := make([]byte, len(fallbackImage))
	copy(data, fallbackImage)
	return Entry{
		Name:     "fallback",
		Data:     data,
		LoadAddr: blproto.LoadAddrBoot,
		Kind:     KindStandalone,
	}, nil
}

// applyMetadata folds an embedded metadata record into an entry built
// from file defaults. Embedded values win over anything derived from
// the file name or extension.
func applyMetadata(e Entry) Entry {
	m, ok := blproto.FindMetadata(e.Data)
	if !ok {
		return e
	}
	e.HasMetadata = true
	e.LoadAddr = m.LoadAddr
	e.HWType = m.HWType
	e.VerMajor = m.VerMajor
	e.VerMinor = m.VerMinor
	if m.IsApp() {
		e.Kind = KindApplication
	} else {
		e.Kind = KindStandalone
	}
	if m.Name != "" {
		e.Name = m.Name
	}
	return e
}
