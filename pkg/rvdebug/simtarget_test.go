package rvdebug

import (
	"testing"
)

func TestSimTargetLockedOps(t *testing.T) {
	tgt := NewSimTarget()
	if err := tgt.EraseSector(0); err == nil {
		t.Fatalf("EraseSector succeeded while locked")
	}
	if err := tgt.Write(0, []byte{0}); err == nil {
		t.Fatalf("Write succeeded while locked")
	}
	if err := tgt.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := tgt.EraseSector(0); err != nil {
		t.Fatalf("EraseSector after unlock: %v", err)
	}
}

func TestSimTargetEraseBounds(t *testing.T) {
	tgt := NewSimTarget()
	tgt.Unlock()
	tests := []struct {
		desc string
		addr uint32
	}{
		{desc: "unaligned address", addr: 0x0401},
		{desc: "past end of flash", addr: tgt.FlashSize()},
	}
	for _, tc := range tests {
		if err := tgt.EraseSector(tc.addr); err == nil {
			t.Errorf("Test %q: EraseSector(0x%X) succeeded", tc.desc, tc.addr)
		}
	}
}

func TestSimTargetCanReflashBootloaderRegion(t *testing.T) {
	// The debug probe has full flash access, including the region the
	// target-resident driver refuses to touch.
	tgt := NewSimTarget()
	tgt.Unlock()
	if err := tgt.EraseSector(0); err != nil {
		t.Fatalf("EraseSector(0): %v", err)
	}
	if err := tgt.Write(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	ok, err := tgt.Verify(0, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("bootloader region write did not stick")
	}
}

func TestSimTargetForcedStatus(t *testing.T) {
	tgt := NewSimTarget()
	for _, raw := range []uint32{0xFFFFFFFF, 0x00000000} {
		tgt.ForceRawStatus = &raw
		st, err := tgt.ReadStatus()
		if err != nil {
			t.Fatalf("ReadStatus: %v", err)
		}
		if st.Plausible() {
			t.Errorf("forced status 0x%08X is plausible, want implausible", raw)
		}
	}
	tgt.ForceRawStatus = nil
	st, err := tgt.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if !st.Plausible() {
		t.Fatalf("live target status %+v is implausible", st)
	}
}

func TestSimTargetEraseFault(t *testing.T) {
	tgt := NewSimTarget()
	tgt.Unlock()
	tgt.FailEraseSectors[0x0C00] = true
	if err := tgt.EraseSector(0x0C00); err == nil {
		t.Fatalf("EraseSector succeeded on a faulted sector")
	}
	if err := tgt.EraseSector(0x1000); err != nil {
		t.Fatalf("EraseSector on healthy sector: %v", err)
	}
}
