package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wome-devices/wchprog/pkg/fwimage"
	"github.com/wome-devices/wchprog/pkg/programmer"
	"github.com/wome-devices/wchprog/pkg/rvdebug"
)

var (
	serialPort = flag.String("serial", "", "Serial port of the programming probe (like /dev/ttyACM0, or COM3).")
	useUSB     = flag.Bool("usb", false, "Use a USB-attached probe instead of a serial one.")
	useSim     = flag.Bool("sim", false, "Use a simulated target instead of real hardware.")
	baudRate   = flag.Int("baud", 115200, "Serial baud rate.")
	fwDir      = flag.String("fwdir", "", "Directory with firmware images (.bin/.hex). Uses the built-in fallback image when empty.")
	op         = flag.String("op", "program", "Operation: list, program, wipe, reboot.")
	fwSlot     = flag.Int("slot", 1, "Catalog slot to program (see -op list).")
)

func openProbe() (rvdebug.Probe, error) {
	switch {
	case *useSim:
		return rvdebug.NewSimTarget(), nil
	case *useUSB:
		return rvdebug.OpenUSBProbe()
	case *serialPort != "":
		return rvdebug.OpenSerialProbe(*serialPort, *baudRate)
	}
	return nil, fmt.Errorf("must specify one of -serial, -usb or -sim")
}

func openCatalog() (fwimage.Catalog, error) {
	if *fwDir == "" {
		return fwimage.Builtin{}, nil
	}
	return fwimage.ScanDir(*fwDir)
}

func listCatalog(cat fwimage.Catalog) {
	fmt.Println("Available selections:")
	fmt.Println("  [0] WIPE FLASH")
	for i := 0; i < cat.Len(); i++ {
		e, err := cat.At(i)
		if err != nil {
			fmt.Printf("  [%d] <unreadable: %v>\n", i+1, err)
			continue
		}
		fmt.Printf("  [%d] %s\n", i+1, e)
	}
	fmt.Printf("  [%d] REBOOT\n", cat.Len()+1)
}

func main() {
	flag.Parse()

	cat, err := openCatalog()
	if err != nil {
		fmt.Printf("Cannot load firmware catalog: %v\n", err)
		os.Exit(1)
	}

	if *op == "list" {
		listCatalog(cat)
		return
	}

	probe, err := openProbe()
	if err != nil {
		fmt.Printf("Cannot open probe: %v\n", err)
		os.Exit(1)
	}
	defer probe.Close()
	log.Printf("Using %s", probe.Name())

	orch := programmer.New(probe, cat, programmer.WithLogger(log.Default()))

	slot := *fwSlot
	switch *op {
	case "program":
	case "wipe":
		slot = programmer.SelWipe
	case "reboot":
		slot = orch.SelRebootSlot()
	default:
		fmt.Printf("Unknown operation %q\n", *op)
		os.Exit(1)
	}
	if err := orch.Select(slot); err != nil {
		fmt.Printf("Cannot select slot %d: %v\n", slot, err)
		os.Exit(1)
	}
	log.Printf("Selected [%d] %s", orch.Selection(), orch.SelectionName())

	orch.StartProgramming()
	for {
		orch.Process()
		switch orch.State() {
		case programmer.StateSuccess:
			log.Printf("Done.")
			return
		case programmer.StateError:
			fmt.Printf("Programming failed: %v\n", orch.LastError())
			os.Exit(1)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
