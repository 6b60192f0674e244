package programmer

import (
	"fmt"
	"time"
)

// NoTargetError indicates the debug status read back as electrically
// implausible: nothing is attached to the probe.
type NoTargetError struct {
	Raw uint32
}

func (e *NoTargetError) Error() string {
	return fmt.Sprintf("no target attached: debug status reads 0x%08X", e.Raw)
}

// HaltTimeoutError indicates a target answered plausibly but never
// reached the halted state within the poll bound.
type HaltTimeoutError struct {
	Timeout time.Duration
}

func (e *HaltTimeoutError) Error() string {
	return fmt.Sprintf("target did not halt within %v", e.Timeout)
}

// VerifyError indicates flash readback did not match what was written.
type VerifyError struct {
	Addr uint32
	Size int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("flash verification failed for %d bytes at 0x%04X", e.Size, e.Addr)
}

// ImageTooLargeError indicates an application image does not fit in the
// space above the bootloader.
type ImageTooLargeError struct {
	Size int
	Max  uint32
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("application image is %d bytes, at most %d fit", e.Size, e.Max)
}
