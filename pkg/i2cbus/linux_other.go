//go:build !linux

package i2cbus

import "fmt"

// LinuxBus needs the kernel's i2c-dev interface; elsewhere only the
// socket and loopback backends exist.
type LinuxBus struct{}

func OpenLinuxBus(dev string, addr byte) (*LinuxBus, error) {
	return nil, fmt.Errorf("i2c-dev is only available on linux")
}

func (b *LinuxBus) Tx(w, r []byte) error { return fmt.Errorf("i2c-dev is only available on linux") }
func (b *LinuxBus) Close() error         { return nil }
