package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/i2cbus"
	"github.com/wome-devices/wchprog/pkg/updater"
)

var (
	i2cDev     = flag.String("dev", "", "i2c-dev node the target hangs off (like /dev/i2c-1).")
	i2cAddr    = flag.Int("addr", blproto.I2CAddress, "7-bit bus address of the target.")
	socketPath = flag.String("socket", "", "Bootloader emulator socket instead of real hardware.")
	updFile    = flag.String("upd", "", "Update file produced by mkupd.")
	identify   = flag.Bool("identify", false, "Read and print the target identity, then exit.")
)

func openBus() (i2cbus.Bus, error) {
	switch {
	case *socketPath != "":
		return i2cbus.DialSocketBus(*socketPath)
	case *i2cDev != "":
		return i2cbus.OpenLinuxBus(*i2cDev, byte(*i2cAddr))
	}
	return nil, fmt.Errorf("must specify one of -dev or -socket")
}

func main() {
	flag.Parse()

	bus, err := openBus()
	if err != nil {
		fmt.Printf("Cannot open bus: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	u := updater.New(bus, updater.WithLogger(log.Default()))

	if *identify {
		id, err := u.Identity()
		if err != nil {
			fmt.Printf("Cannot read identity: %v\n", err)
			os.Exit(1)
		}
		mode := "application"
		if id.InUpdateMode {
			mode = "bootloader"
		}
		fmt.Printf("Target: hw type %d, firmware v%d.%d, %s mode\n",
			id.HWType, id.FWMajor, id.FWMinor, mode)
		return
	}

	if *updFile == "" {
		fmt.Println("Must specify an update file with -upd")
		os.Exit(1)
	}
	img, err := os.ReadFile(*updFile)
	if err != nil {
		fmt.Printf("Cannot read %q: %v\n", *updFile, err)
		os.Exit(1)
	}

	if err := u.Update(img); err != nil {
		fmt.Printf("Update failed: %v\n", err)
		os.Exit(1)
	}
	log.Printf("Update complete, target booted the new firmware.")
}
