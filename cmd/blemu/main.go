package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/bootcore"
	"github.com/wome-devices/wchprog/pkg/ch32flash"
	"github.com/wome-devices/wchprog/pkg/i2cbus"
)

var (
	socketPath = flag.String("socket", "/tmp/blemu.sock", "Unix socket to listen on.")
	flashFile  = flag.String("flash", "", "File backing the emulated flash. Created when missing, saved after every connection.")
	hwType     = flag.Int("hwtype", 1, "Hardware type reported in application mode.")
	fwMajor    = flag.Int("major", 1, "Application firmware major version.")
	fwMinor    = flag.Int("minor", 0, "Application firmware minor version.")
	appMode    = flag.Bool("appmode", true, "Start in application mode; updates reboot into the bootloader.")
)

// emulator is a whole simulated target: flash, bootloader and the
// application-mode register window, switched by the emulated reset. It
// forwards bus events to whichever window is currently live.
type emulator struct {
	regs   *ch32flash.SimRegs
	drv    *ch32flash.Driver
	periph i2cbus.Peripheral
	bl     *bootcore.Bootloader
}

func newEmulator() *emulator {
	e := &emulator{regs: ch32flash.NewSimRegs(int(blproto.FlashEnd))}
	e.drv = ch32flash.NewDriver(e.regs)
	if *appMode {
		e.runApp()
	} else {
		e.reboot()
	}
	return e
}

// runApp installs the application-mode register window.
func (e *emulator) runApp() {
	appRF := bootcore.NewAppRegFile(e.drv, byte(*hwType), byte(*fwMajor), byte(*fwMinor))
	appRF.Reset = e.reboot
	e.periph = i2cbus.NewRegisterPeripheral(appRF)
}

// reboot brings up the bootloader; with an update pending or no valid
// image it stays resident, otherwise control goes to the application.
func (e *emulator) reboot() {
	log.Printf("Target reset")
	bl := bootcore.New(e.drv, byte(*fwMajor), byte(*fwMinor))
	bl.JumpToApp = func(entry uint32) {
		log.Printf("Control transferred to the application at 0x%04X", entry)
		e.bl = nil
		e.runApp()
	}
	e.bl = bl
	if bl.Startup() {
		return
	}
	log.Printf("Bootloader resident (diag: %v)", bl.Diag())
	e.periph = bl.Regs()
}

// step is the emulated main loop, run after every bus transaction.
func (e *emulator) step() {
	if e.bl != nil {
		e.bl.Step()
	}
}

func (e *emulator) AddrMatch(read bool) { e.periph.AddrMatch(read) }
func (e *emulator) WriteByte(b byte)    { e.periph.WriteByte(b) }
func (e *emulator) ReadByte() byte      { return e.periph.ReadByte() }
func (e *emulator) Stop()               { e.periph.Stop() }

func (e *emulator) loadFlash(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	e.regs.LoadImage(0, data)
	log.Printf("Loaded %d flash bytes from %q", len(data), path)
	return nil
}

func (e *emulator) saveFlash(path string) {
	if err := os.WriteFile(path, e.regs.Image(), 0644); err != nil {
		log.Printf("Cannot save flash image to %q: %v", path, err)
	}
}

func main() {
	flag.Parse()

	emu := newEmulator()
	if *flashFile != "" {
		if err := emu.loadFlash(*flashFile); err != nil {
			fmt.Printf("Cannot load flash image: %v\n", err)
			os.Exit(1)
		}
	}

	os.Remove(*socketPath)
	ln, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Printf("Cannot listen on %q: %v\n", *socketPath, err)
		os.Exit(1)
	}
	defer ln.Close()
	log.Printf("Bootloader emulator listening on %s", *socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			fmt.Printf("Accept failed: %v\n", err)
			os.Exit(1)
		}
		log.Printf("Controller connected")
		if err := i2cbus.ServeConn(conn, emu, emu.step); err != nil {
			log.Printf("Connection ended with error: %v", err)
		} else {
			log.Printf("Controller disconnected")
		}
		conn.Close()
		if *flashFile != "" {
			emu.saveFlash(*flashFile)
		}
	}
}
