package flashmap

import (
	"testing"

	"github.com/wome-devices/wchprog/pkg/blproto"
)

// ch32Map builds the sector map of a CH32V003: 16KB of 1KB sectors with
// the bootloader protected below 0x0C00.
func ch32Map() *Map {
	m := New(blproto.FlashBase, blproto.BootStateAddr)
	m.AddRegion(blproto.SectorSize, 16)
	return m
}

func TestBlockForAddr(t *testing.T) {
	m := ch32Map()

	testCases := []struct {
		desc      string
		addr      uint32
		wantError bool
		blockAddr uint32
		blockSize uint32
	}{
		{
			desc:      "start of flash",
			addr:      0x0000,
			blockAddr: 0x0000,
			blockSize: 0x400,
		},
		{
			desc:      "middle of the app header sector",
			addr:      0x0C47,
			blockAddr: 0x0C00,
			blockSize: 0x400,
		},
		{
			desc:      "last byte of flash",
			addr:      0x3FFF,
			blockAddr: 0x3C00,
			blockSize: 0x400,
		},
		{
			desc:      "past end of flash",
			addr:      0x4000,
			wantError: true,
		},
	}

	for _, tc := range testCases {
		blockAddr, blockSize, err := m.BlockForAddr(tc.addr)
		if (err != nil) != tc.wantError {
			t.Fatalf("Test %q: failed = %t (%v), want %t", tc.desc, err != nil, err, tc.wantError)
		}
		if err != nil {
			continue
		}
		if blockAddr != tc.blockAddr {
			t.Errorf("Test %q: got blockAddr = %X, want %X", tc.desc, blockAddr, tc.blockAddr)
		}
		if blockSize != tc.blockSize {
			t.Errorf("Test %q: got blockSize = %X, want %X", tc.desc, blockSize, tc.blockSize)
		}
	}
}

func TestEraseRangeForWrite(t *testing.T) {
	m := ch32Map()

	testCases := []struct {
		desc       string
		addr, size uint32
		wantError  bool
		wantBlocks []uint32
	}{
		{
			desc:       "write inside one sector",
			addr:       0x0C40,
			size:       64,
			wantBlocks: []uint32{0x0C00},
		},
		{
			desc:       "header and app sharing the first sector, app spilling over",
			addr:       0x0C40,
			size:       0x400,
			wantBlocks: []uint32{0x0C00, 0x1000},
		},
		{
			desc:      "write below the protected boundary",
			addr:      0x0800,
			size:      64,
			wantError: true,
		},
		{
			desc:      "write past end of flash",
			addr:      0x3FC0,
			size:      128,
			wantError: true,
		},
		{
			desc:      "zero-length write",
			addr:      0x0C40,
			size:      0,
			wantError: true,
		},
	}

	for _, tc := range testCases {
		blocks, err := m.EraseRangeForWrite(tc.addr, tc.size)
		if (err != nil) != tc.wantError {
			t.Fatalf("Test %q: failed = %t (%v), want %t", tc.desc, err != nil, err, tc.wantError)
		}
		if err != nil {
			continue
		}
		if len(blocks) != len(tc.wantBlocks) {
			t.Fatalf("Test %q: got %d blocks (%v), want %d", tc.desc, len(blocks), blocks, len(tc.wantBlocks))
		}
		for i := range blocks {
			if blocks[i] != tc.wantBlocks[i] {
				t.Errorf("Test %q: block[%d] = 0x%X, want 0x%X", tc.desc, i, blocks[i], tc.wantBlocks[i])
			}
		}
	}
}
