package rvdebug

import (
	"fmt"
	"time"

	"github.com/FObersteiner/goserial"
)

// SerialProbe is a programmer attached over a serial port.
type SerialProbe struct {
	link
	serialPath string
	serialPort *goserial.Port
}

// OpenSerialProbe opens the probe on the given serial port.
func OpenSerialProbe(serialPortNameOrPath string, baud int) (*SerialProbe, error) {
	if baud == 0 {
		baud = 115200
	}
	serialPortConfig := &goserial.Config{
		Name:        serialPortNameOrPath,
		Baud:        baud,
		ReadTimeout: 2 * time.Second,
	}
	serialPort, err := goserial.OpenPort(serialPortConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot open serial port %q: %v", serialPortNameOrPath, err)
	}
	p := &SerialProbe{
		serialPath: serialPortNameOrPath,
		serialPort: serialPort,
	}
	p.link.rw = serialPort
	return p, nil
}

func (p *SerialProbe) Name() string {
	return fmt.Sprintf("Serial probe at %q", p.serialPath)
}

func (p *SerialProbe) Close() error {
	return p.serialPort.Close()
}
