package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wome-devices/wchprog/pkg/fwimage"
	"github.com/wome-devices/wchprog/pkg/updater"
)

var (
	inFile  = flag.String("in", "", "Application image (.bin or .hex).")
	outFile = flag.String("out", "", "Output update file (.upd). Defaults to the input name with a .upd suffix.")
	fwMajor = flag.Int("major", -1, "Firmware major version. Defaults to the image's embedded metadata.")
	fwMinor = flag.Int("minor", -1, "Firmware minor version. Defaults to the image's embedded metadata.")
	hwType  = flag.Int("hwtype", -1, "Hardware type the image targets. Defaults to the image's embedded metadata.")
)

func main() {
	flag.Parse()

	if *inFile == "" {
		fmt.Println("Must specify an input image with -in")
		os.Exit(1)
	}
	e, err := fwimage.LoadFile(*inFile)
	if err != nil {
		fmt.Printf("Cannot load %q: %v\n", *inFile, err)
		os.Exit(1)
	}

	major, minor, hw := e.VerMajor, e.VerMinor, e.HWType
	if *fwMajor >= 0 {
		major = byte(*fwMajor)
	}
	if *fwMinor >= 0 {
		minor = byte(*fwMinor)
	}
	if *hwType >= 0 {
		hw = byte(*hwType)
	}

	out := *outFile
	if out == "" {
		out = e.Name + ".upd"
	}

	img := updater.Pack(e.Data, major, minor, hw)
	if err := os.WriteFile(out, img, 0644); err != nil {
		fmt.Printf("Cannot write %q: %v\n", out, err)
		os.Exit(1)
	}
	fmt.Printf("Packed %s v%d.%d (hw %d): %d app bytes -> %s (%d bytes)\n",
		e.Name, major, minor, hw, len(e.Data), out, len(img))
}
