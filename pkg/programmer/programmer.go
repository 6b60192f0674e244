// Package programmer drives bench programming of a target over a debug
// probe: a polling state machine that checks for an attached target,
// flashes the selected catalog image (or wipes, or just reboots), and
// reports the outcome.
package programmer

import (
	"fmt"
	"time"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/flashmap"
	"github.com/wome-devices/wchprog/pkg/fwimage"
	"github.com/wome-devices/wchprog/pkg/rvdebug"
)

// State is the orchestrator's externally visible state.
type State int

const (
	StateIdle State = iota
	StateCheckingTarget
	StateProgramming
	StateCyclingFirmware
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "READY"
	case StateCheckingTarget:
		return "CHECKING..."
	case StateProgramming:
		return "PROGRAMMING..."
	case StateCyclingFirmware:
		return "SELECTING..."
	case StateSuccess:
		return "SUCCESS"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Selection slots: 0 is the wipe sentinel, 1..catalog.Len() are catalog
// entries, catalog.Len()+1 is the reboot sentinel.
const SelWipe = 0

// Orchestrator owns the probe and the current programming session. All
// methods must be called from a single goroutine; Process advances at
// most one state transition per call.
type Orchestrator struct {
	probe   rvdebug.Probe
	catalog fwimage.Catalog
	fm      *flashmap.Map
	cfg     Config

	state      State
	stateSince time.Time
	sel        int
	lastErr    error
}

// New builds an orchestrator around an opened probe and a catalog.
func New(probe rvdebug.Probe, catalog fwimage.Catalog, opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	fm := flashmap.New(probe.FlashBase(), 0)
	fm.AddRegion(probe.SectorSize(), int(probe.FlashSize()/probe.SectorSize()))
	o := &Orchestrator{
		probe:   probe,
		catalog: catalog,
		fm:      fm,
		cfg:     cfg,
		state:   StateIdle,
	}
	o.stateSince = cfg.Now()
	return o
}

func (o *Orchestrator) State() State     { return o.state }
func (o *Orchestrator) LastError() error { return o.lastErr }
func (o *Orchestrator) Selection() int   { return o.sel }

// SelRebootSlot returns the index of the reboot sentinel for the
// current catalog.
func (o *Orchestrator) SelRebootSlot() int { return o.catalog.Len() + 1 }

// SelectionName returns the menu label of the current selection.
func (o *Orchestrator) SelectionName() string {
	switch {
	case o.sel == SelWipe:
		return "WIPE FLASH"
	case o.sel == o.SelRebootSlot():
		return "REBOOT"
	default:
		e, err := o.catalog.At(o.sel - 1)
		if err != nil {
			return "???"
		}
		return e.Name
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.stateSince = o.cfg.Now()
}

// StartProgramming kicks off a programming cycle. Ignored unless idle.
func (o *Orchestrator) StartProgramming() {
	if o.state != StateIdle {
		return
	}
	o.lastErr = nil
	o.setState(StateCheckingTarget)
}

// Select moves the selection straight to a slot, bypassing the cycling
// indication. Only valid while idle.
func (o *Orchestrator) Select(slot int) error {
	if o.state != StateIdle {
		return fmt.Errorf("cannot change selection while %v", o.state)
	}
	if slot < 0 || slot > o.SelRebootSlot() {
		return fmt.Errorf("selection %d out of range 0..%d", slot, o.SelRebootSlot())
	}
	o.sel = slot
	return nil
}

// CycleFirmware advances the selection by one slot, wrapping over the
// wipe and reboot sentinels, and starts the selection indication.
func (o *Orchestrator) CycleFirmware() {
	if o.state != StateIdle && o.state != StateCyclingFirmware {
		return
	}
	o.sel = (o.sel + 1) % (o.catalog.Len() + 2)
	name := o.SelectionName()
	o.cfg.Logger.Printf("selected: [%d] %s", o.sel, name)
	o.cfg.Indicator.ShowSelection(o.sel, name)
	o.setState(StateCyclingFirmware)
}

// Process advances the state machine by at most one transition. Call it
// from the main polling loop.
func (o *Orchestrator) Process() {
	switch o.state {
	case StateCheckingTarget:
		if err := o.checkTarget(); err != nil {
			o.lastErr = err
			o.cfg.Logger.Printf("target check failed: %v", err)
			o.setState(StateError)
			return
		}
		o.cfg.Logger.Printf("target detected, programming [%d] %s", o.sel, o.SelectionName())
		o.setState(StateProgramming)

	case StateProgramming:
		if err := o.programSelection(); err != nil {
			o.lastErr = err
			o.cfg.Logger.Printf("programming failed: %v", err)
			o.setState(StateError)
			return
		}
		o.setState(StateSuccess)

	case StateSuccess:
		if o.cfg.Now().Sub(o.stateSince) >= o.cfg.SuccessDwell {
			o.setState(StateIdle)
		}

	case StateError:
		if o.cfg.Now().Sub(o.stateSince) >= o.cfg.ErrorDwell {
			o.setState(StateIdle)
		}

	case StateCyclingFirmware:
		if !o.cfg.Indicator.Active() {
			o.setState(StateIdle)
		}
	}
}

// checkTarget re-initializes the debug link and polls for a halted
// target within the configured bound. Implausible status words mean
// nothing is attached, as opposed to a target that is slow to halt.
func (o *Orchestrator) checkTarget() error {
	if err := o.probe.Init(); err != nil {
		return fmt.Errorf("error initializing debug link: %v", err)
	}
	if err := o.probe.Halt(); err != nil {
		return fmt.Errorf("error requesting halt: %v", err)
	}
	start := o.cfg.Now()
	for {
		st, err := o.probe.ReadStatus()
		if err != nil {
			return fmt.Errorf("error reading target status: %v", err)
		}
		if !st.Plausible() {
			return &NoTargetError{Raw: st.Raw}
		}
		if st.AllHalted {
			return nil
		}
		if o.cfg.Now().Sub(start) > o.cfg.HaltTimeout {
			return &HaltTimeoutError{Timeout: o.cfg.HaltTimeout}
		}
		o.cfg.Sleep(time.Millisecond)
	}
}

func (o *Orchestrator) programSelection() error {
	switch {
	case o.sel == SelWipe:
		return o.wipeChip()
	case o.sel == o.SelRebootSlot():
		return o.rebootChip()
	default:
		e, err := o.catalog.At(o.sel - 1)
		if err != nil {
			return err
		}
		if e.Kind == fwimage.KindApplication {
			return o.programApp(e)
		}
		return o.programStandalone(e)
	}
}

// cleanup is the unconditional exit bracket of every flash-touching
// path: lock flash, reset the core, let it run. Failures here are
// logged but never mask the programming result.
func (o *Orchestrator) cleanup() {
	if err := o.probe.Lock(); err != nil {
		o.cfg.Logger.Printf("error locking flash: %v", err)
	}
	if err := o.probe.Reset(); err != nil {
		o.cfg.Logger.Printf("error resetting target: %v", err)
	}
	if err := o.probe.Resume(); err != nil {
		o.cfg.Logger.Printf("error resuming target: %v", err)
	}
}

// padWords pads data with the erased pattern up to a 4-byte multiple;
// the flash controller programs whole words.
func padWords(data []byte) []byte {
	rem := len(data) % 4
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+4-rem)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return padded
}

// writeRange erases exactly the sectors the write will touch, writes,
// and verifies by readback. Caller holds the halt and unlock brackets.
func (o *Orchestrator) writeRange(addr uint32, data []byte) error {
	sectors, err := o.fm.EraseRangeForWrite(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	for _, s := range sectors {
		if err := o.probe.EraseSector(s); err != nil {
			return fmt.Errorf("error erasing sector 0x%04X: %v", s, err)
		}
	}
	if err := o.probe.Write(addr, data); err != nil {
		return fmt.Errorf("error writing %d bytes at 0x%04X: %v", len(data), addr, err)
	}
	ok, err := o.probe.Verify(addr, data)
	if err != nil {
		return fmt.Errorf("error verifying at 0x%04X: %v", addr, err)
	}
	if !ok {
		return &VerifyError{Addr: addr, Size: len(data)}
	}
	return nil
}

// programStandalone writes an image verbatim at its load address.
func (o *Orchestrator) programStandalone(e fwimage.Entry) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("entry %q has no image data", e.Name)
	}
	if err := o.probe.Halt(); err != nil {
		return fmt.Errorf("could not halt target: %v", err)
	}
	defer o.cleanup()
	if err := o.probe.Unlock(); err != nil {
		return fmt.Errorf("error unlocking flash: %v", err)
	}
	o.cfg.Logger.Printf("writing %d bytes at 0x%04X", len(e.Data), e.LoadAddr)
	return o.writeRange(e.LoadAddr, padWords(e.Data))
}

// programApp writes an application image under the resident bootloader:
// a generated header at the header page, the code at the app base. The
// header and code ranges can share an erase sector, so the union of
// both ranges is erased once up front; the header goes in before the
// code so an interrupted session can never leave headered garbage that
// validates. Both regions verify independently.
func (o *Orchestrator) programApp(e fwimage.Entry) error {
	app := padWords(e.Data)
	if uint32(len(app)) > blproto.AppMaxSize {
		return &ImageTooLargeError{Size: len(e.Data), Max: blproto.AppMaxSize}
	}
	h := blproto.NewAppHeader(app, e.VerMajor, e.VerMinor, blproto.ProtocolVersion, e.HWType, blproto.AppCodeAddr)
	hdr := blproto.EncodeAppHeader(h)

	if err := o.probe.Halt(); err != nil {
		return fmt.Errorf("could not halt target: %v", err)
	}
	defer o.cleanup()
	if err := o.probe.Unlock(); err != nil {
		return fmt.Errorf("error unlocking flash: %v", err)
	}

	hdrSectors, err := o.fm.EraseRangeForWrite(blproto.AppHeaderAddr, uint32(len(hdr)))
	if err != nil {
		return err
	}
	appSectors, err := o.fm.EraseRangeForWrite(blproto.AppCodeAddr, uint32(len(app)))
	if err != nil {
		return err
	}
	erased := make(map[uint32]bool)
	for _, s := range append(hdrSectors, appSectors...) {
		if erased[s] {
			continue
		}
		if err := o.probe.EraseSector(s); err != nil {
			return fmt.Errorf("error erasing sector 0x%04X: %v", s, err)
		}
		erased[s] = true
	}

	o.cfg.Logger.Printf("writing app header at 0x%04X", blproto.AppHeaderAddr)
	if err := o.probe.Write(blproto.AppHeaderAddr, hdr); err != nil {
		return fmt.Errorf("error writing header: %v", err)
	}
	o.cfg.Logger.Printf("writing %d app bytes at 0x%04X", len(app), blproto.AppCodeAddr)
	if err := o.probe.Write(blproto.AppCodeAddr, app); err != nil {
		return fmt.Errorf("error writing app: %v", err)
	}

	ok, err := o.probe.Verify(blproto.AppHeaderAddr, hdr)
	if err != nil {
		return fmt.Errorf("error verifying header: %v", err)
	}
	if !ok {
		return &VerifyError{Addr: blproto.AppHeaderAddr, Size: len(hdr)}
	}
	ok, err = o.probe.Verify(blproto.AppCodeAddr, app)
	if err != nil {
		return fmt.Errorf("error verifying app: %v", err)
	}
	if !ok {
		return &VerifyError{Addr: blproto.AppCodeAddr, Size: len(app)}
	}
	return nil
}

// wipeChip erases every sector of the target flash, bootloader
// included.
func (o *Orchestrator) wipeChip() error {
	if err := o.probe.Halt(); err != nil {
		return fmt.Errorf("could not halt target: %v", err)
	}
	defer o.cleanup()
	if err := o.probe.Unlock(); err != nil {
		return fmt.Errorf("error unlocking flash: %v", err)
	}
	o.cfg.Logger.Printf("wiping entire flash")
	base, size, sector := o.probe.FlashBase(), o.probe.FlashSize(), o.probe.SectorSize()
	for addr := base; addr < base+size; addr += sector {
		if err := o.probe.EraseSector(addr); err != nil {
			return fmt.Errorf("error erasing sector 0x%04X: %v", addr, err)
		}
	}
	return nil
}

// rebootChip resets and resumes the target without touching flash.
func (o *Orchestrator) rebootChip() error {
	o.cfg.Logger.Printf("rebooting target")
	if err := o.probe.Reset(); err != nil {
		return fmt.Errorf("error resetting target: %v", err)
	}
	if err := o.probe.Resume(); err != nil {
		return fmt.Errorf("error resuming target: %v", err)
	}
	return nil
}
