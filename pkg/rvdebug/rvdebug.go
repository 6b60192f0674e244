// Package rvdebug defines the debug-side view of a CH32V003 target: the
// halt/resume/reset transport and the flash tool driven through it. Two
// hardware probes (serial and USB) and an in-memory simulated target
// implement the contracts.
package rvdebug

// Status is one sample of the target's debug module status word.
type Status struct {
	AllHalted  bool
	AllRunning bool
	Raw        uint32
}

// Plausible reports whether the status word can have come from a live
// target. A floating or shorted bus reads as all-ones or all-zeros, and a
// core cannot be halted and running at once; any of those means nothing
// is attached, as opposed to a target that is merely slow to halt.
func (s Status) Plausible() bool {
	if s.Raw == 0xFFFFFFFF || s.Raw == 0x00000000 {
		return false
	}
	if s.AllHalted && s.AllRunning {
		return false
	}
	return true
}

// DMSTATUS bit positions (RISC-V debug spec 0.13).
const (
	dmstatusAnyHalted  = 1 << 8
	dmstatusAllHalted  = 1 << 9
	dmstatusAnyRunning = 1 << 10
	dmstatusAllRunning = 1 << 11
)

// StatusFromRaw decodes a raw DMSTATUS word.
func StatusFromRaw(raw uint32) Status {
	return Status{
		AllHalted:  raw&dmstatusAllHalted != 0,
		AllRunning: raw&dmstatusAllRunning != 0,
		Raw:        raw,
	}
}

// Transport is the debug-side execution control contract.
type Transport interface {
	// Init re-initializes the debug link: reset pulse and config
	// sequence, so a freshly connected target is usable.
	Init() error
	Halt() error
	Resume() error
	Reset() error
	ReadStatus() (Status, error)
}

// FlashTool drives the target's flash controller through the debug
// transport.
type FlashTool interface {
	Unlock() error
	Lock() error
	EraseSector(addr uint32) error
	Write(addr uint32, data []byte) error
	// Verify compares flash content at addr against data.
	Verify(addr uint32, data []byte) (bool, error)
	SectorSize() uint32
	FlashBase() uint32
	FlashSize() uint32
}

// Probe is a complete attached programmer.
type Probe interface {
	Transport
	FlashTool
	// Name returns a human-readable description of the probe. Not
	// machine readable.
	Name() string
	Close() error
}
