// Package flashmap models the erase/program geometry of a target flash:
// an address range split into regions of fixed-size blocks, plus the
// protected bootloader boundary below which no erase or write may land.
package flashmap

import "fmt"

type regionInfo struct {
	baseAddr   uint32
	endAddr    uint32 // exclusive
	blockSize  uint32
	blockCount int
}

// Map describes a flash address space. The zero value is not usable; use
// New and AddRegion.
type Map struct {
	baseAddr  uint32
	endAddr   uint32 // exclusive
	protected uint32 // addresses below this are off limits
	regions   []regionInfo
}

// New creates an empty map starting at baseAddr. Addresses below
// protectedEnd are rejected by EraseRangeForWrite and CheckWritable.
func New(baseAddr, protectedEnd uint32) *Map {
	return &Map{
		baseAddr:  baseAddr,
		endAddr:   baseAddr,
		protected: protectedEnd,
	}
}

// AddRegion appends blockCount blocks of blockSize bytes at the current
// end of the map.
func (m *Map) AddRegion(blockSize uint32, blockCount int) {
	m.regions = append(m.regions, regionInfo{
		baseAddr:   m.endAddr,
		endAddr:    m.endAddr + blockSize*uint32(blockCount),
		blockSize:  blockSize,
		blockCount: blockCount,
	})
	m.endAddr += blockSize * uint32(blockCount)
}

func (m *Map) BaseAddr() uint32 { return m.baseAddr }
func (m *Map) EndAddr() uint32  { return m.endAddr }

// TotalSize returns the number of bytes covered by the map.
func (m *Map) TotalSize() uint32 { return m.endAddr - m.baseAddr }

// BlockForAddr returns the base address and size of the block containing
// addr.
func (m *Map) BlockForAddr(addr uint32) (base, size uint32, err error) {
	if addr < m.baseAddr || addr >= m.endAddr {
		return 0, 0, fmt.Errorf("addr 0x%X is out of bounds [0x%X, 0x%X)", addr, m.baseAddr, m.endAddr)
	}
	for _, region := range m.regions {
		if addr < region.baseAddr || addr >= region.endAddr {
			continue
		}
		off := addr - region.baseAddr
		return region.baseAddr + off/region.blockSize*region.blockSize, region.blockSize, nil
	}
	return 0, 0, fmt.Errorf("no block found for addr 0x%X", addr)
}

// CheckWritable reports whether [addr, addr+size) lies entirely inside the
// map and entirely above the protected boundary.
func (m *Map) CheckWritable(addr, size uint32) error {
	if size == 0 {
		return fmt.Errorf("zero-length range at 0x%X", addr)
	}
	if addr < m.protected {
		return fmt.Errorf("addr 0x%X is inside the protected region below 0x%X", addr, m.protected)
	}
	if addr < m.baseAddr || addr+size > m.endAddr {
		return fmt.Errorf("range [0x%X, 0x%X) is out of bounds [0x%X, 0x%X)", addr, addr+size, m.baseAddr, m.endAddr)
	}
	return nil
}

// EraseRangeForWrite returns the base addresses of every block that a
// write of size bytes at addr would touch, in ascending order. This is
// what lets a programmer erase exactly the blocks being written and
// nothing more.
func (m *Map) EraseRangeForWrite(addr, size uint32) ([]uint32, error) {
	if err := m.CheckWritable(addr, size); err != nil {
		return nil, err
	}
	var blocks []uint32
	cur := addr
	end := addr + size
	for cur < end {
		base, blockSize, err := m.BlockForAddr(cur)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, base)
		cur = base + blockSize
	}
	return blocks, nil
}

// String implements Stringer interface.
func (m *Map) String() string {
	info := fmt.Sprintf("%d regions, start addr 0x%X, end addr 0x%X, total size 0x%X\n",
		len(m.regions), m.baseAddr, m.endAddr, m.TotalSize())
	for i, reg := range m.regions {
		info += fmt.Sprintf("  Region #%d: [%08X, %08X) %d blocks, size of each 0x%X\n",
			i, reg.baseAddr, reg.endAddr, reg.blockCount, reg.blockSize)
	}
	return info
}
