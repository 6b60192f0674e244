//go:build linux

package i2cbus

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// i2c-dev ioctl to bind the fd to one slave address.
const i2cSlave = 0x0703

// LinuxBus talks to a target through the kernel's i2c-dev interface.
type LinuxBus struct {
	f *os.File
}

// OpenLinuxBus opens an i2c-dev node (e.g. /dev/i2c-1) bound to the
// given 7-bit slave address.
func OpenLinuxBus(dev string, addr byte) (*LinuxBus, error) {
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("error opening %q: %v", dev, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, int(addr)); err != nil {
		f.Close()
		return nil, fmt.Errorf("error binding %q to slave 0x%02X: %v", dev, addr, err)
	}
	return &LinuxBus{f: f}, nil
}

func (b *LinuxBus) Tx(w, r []byte) error {
	if len(w) > 0 {
		if _, err := b.f.Write(w); err != nil {
			return fmt.Errorf("i2c write of %d bytes: %v", len(w), err)
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.f, r); err != nil {
			return fmt.Errorf("i2c read of %d bytes: %v", len(r), err)
		}
	}
	return nil
}

func (b *LinuxBus) Close() error { return b.f.Close() }
