package fwimage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Inventory is a catalog scanned from a directory of firmware files.
// Entries are ordered by file name so indices are stable across runs.
type Inventory struct {
	entries []Entry
}

// ScanDir builds an inventory from every .bin and .hex file in dir.
// Other files are ignored. An unreadable or unparsable firmware file is
// an error, not a skip: a corrupt inventory must not silently shrink.
func ScanDir(dir string) (*Inventory, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading firmware dir %q: %v", dir, err)
	}
	var names []string
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(de.Name())) {
		case ".bin", ".hex":
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	inv := &Inventory{}
	for _, name := range names {
		e, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		inv.entries = append(inv.entries, e)
	}
	return inv, nil
}

// LoadFile reads one firmware file into an Entry. Raw binaries load at
// the flash base by default; Intel HEX files load at their lowest record
// address. Embedded metadata overrides either.
func LoadFile(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("error reading %q: %v", path, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	e := Entry{
		Name: base,
		Kind: KindStandalone,
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		e.Data = data
	case ".hex":
		flat, loadAddr, err := flattenHex(data)
		if err != nil {
			return Entry{}, fmt.Errorf("error parsing %q: %v", path, err)
		}
		e.Data = flat
		e.LoadAddr = loadAddr
	default:
		return Entry{}, fmt.Errorf("unsupported firmware file %q", path)
	}
	if len(e.Data) == 0 {
		return Entry{}, fmt.Errorf("firmware file %q is empty", path)
	}
	return applyMetadata(e), nil
}

// flattenHex parses Intel HEX and flattens its segments into one
// contiguous buffer starting at the lowest address, gaps filled with
// the erased flash pattern.
func flattenHex(data []byte) ([]byte, uint32, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, 0, err
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, 0, fmt.Errorf("no data records")
	}
	lo := segs[0].Address
	hi := segs[0].Address + uint32(len(segs[0].Data))
	for _, s := range segs[1:] {
		if s.Address < lo {
			lo = s.Address
		}
		if end := s.Address + uint32(len(s.Data)); end > hi {
			hi = end
		}
	}
	flat := make([]byte, hi-lo)
	for i := range flat {
		flat[i] = 0xFF
	}
	for _, s := range segs {
		copy(flat[s.Address-lo:], s.Data)
	}
	return flat, lo, nil
}

func (inv *Inventory) Len() int { return len(inv.entries) }

func (inv *Inventory) At(i int) (Entry, error) {
	if i < 0 || i >= len(inv.entries) {
		return Entry{}, fmt.Errorf("inventory has %d entries, index %d requested", len(inv.entries), i)
	}
	return inv.entries[i], nil
}
