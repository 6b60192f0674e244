package rvdebug

import (
	"fmt"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
)

// SimTarget is an in-memory target behind a perfect debug link. It backs
// the orchestrator tests and the simulated-probe mode of cmd/wchprog.
//
// Unlike the target-resident flash driver, the debug path has no
// protected region: a probe may reflash the bootloader itself.
type SimTarget struct {
	Flash *ch32flash.SimRegs

	halted bool
	locked bool

	// ForceRawStatus, when set, overrides every status read; use
	// 0xFFFFFFFF or 0x00000000 to simulate a detached probe.
	ForceRawStatus *uint32
	// FailHalt makes Halt return an error.
	FailHalt bool
	// FailEraseSectors makes EraseSector fail for the given bases.
	FailEraseSectors map[uint32]bool

	// Call counters for asserting cleanup brackets.
	Inits, Halts, Resumes, Resets int
	Unlocks, Locks                int
}

// NewSimTarget returns a running, locked target with erased flash.
func NewSimTarget() *SimTarget {
	return &SimTarget{
		Flash:            ch32flash.NewSimRegs(int(blproto.FlashEnd)),
		locked:           true,
		FailEraseSectors: make(map[uint32]bool),
	}
}

func (t *SimTarget) Name() string { return "simulated CH32V003 target" }
func (t *SimTarget) Close() error { return nil }

func (t *SimTarget) Init() error {
	t.Inits++
	return nil
}

func (t *SimTarget) Halt() error {
	t.Halts++
	if t.FailHalt {
		return fmt.Errorf("target did not halt")
	}
	t.halted = true
	return nil
}

func (t *SimTarget) Resume() error {
	t.Resumes++
	t.halted = false
	return nil
}

func (t *SimTarget) Reset() error {
	t.Resets++
	t.halted = true // core held in reset until resumed
	return nil
}

func (t *SimTarget) ReadStatus() (Status, error) {
	if t.ForceRawStatus != nil {
		return StatusFromRaw(*t.ForceRawStatus), nil
	}
	raw := uint32(2) // debug module version field
	if t.halted {
		raw |= dmstatusAnyHalted | dmstatusAllHalted
	} else {
		raw |= dmstatusAnyRunning | dmstatusAllRunning
	}
	return StatusFromRaw(raw), nil
}

// Halted reports the simulated core state. Test helper.
func (t *SimTarget) Halted() bool { return t.halted }

// Locked reports the simulated flash lock. Test helper.
func (t *SimTarget) Locked() bool { return t.locked }

func (t *SimTarget) Unlock() error {
	t.Unlocks++
	t.locked = false
	return nil
}

func (t *SimTarget) Lock() error {
	t.Locks++
	t.locked = true
	return nil
}

func (t *SimTarget) EraseSector(addr uint32) error {
	if t.locked {
		return fmt.Errorf("flash is locked")
	}
	if addr%blproto.SectorSize != 0 {
		return fmt.Errorf("addr 0x%X is not sector-aligned", addr)
	}
	if addr >= blproto.FlashEnd {
		return fmt.Errorf("addr 0x%X is past end of flash", addr)
	}
	if t.FailEraseSectors[addr] {
		return fmt.Errorf("erase fault at 0x%X", addr)
	}
	img := t.Flash.Image()
	for i := uint32(0); i < blproto.SectorSize; i++ {
		img[addr+i] = 0xFF
	}
	return nil
}

func (t *SimTarget) Write(addr uint32, data []byte) error {
	if t.locked {
		return fmt.Errorf("flash is locked")
	}
	img := t.Flash.Image()
	if int(addr)+len(data) > len(img) {
		return fmt.Errorf("write [0x%X, 0x%X) past end of flash", addr, int(addr)+len(data))
	}
	// Programming clears bits only; writing over unerased flash shows up
	// in the verify pass, exactly like hardware.
	for i, b := range data {
		img[addr+uint32(i)] &= b
	}
	return nil
}

func (t *SimTarget) Verify(addr uint32, data []byte) (bool, error) {
	img := t.Flash.Image()
	if int(addr)+len(data) > len(img) {
		return false, fmt.Errorf("verify [0x%X, 0x%X) past end of flash", addr, int(addr)+len(data))
	}
	for i, b := range data {
		if img[addr+uint32(i)] != b {
			return false, nil
		}
	}
	return true, nil
}

func (t *SimTarget) SectorSize() uint32 { return blproto.SectorSize }
func (t *SimTarget) FlashBase() uint32  { return targetFlashBase }
func (t *SimTarget) FlashSize() uint32  { return targetFlashSize }
