package rvdebug

import (
	"fmt"

	usb "github.com/google/gousb"
)

// USB identity of the probe firmware.
const (
	usbVendorID  usb.ID = 0x2E8A // Raspberry Pi (the probe is Pico-based)
	usbProductID usb.ID = 0x000A
)

// USBProbe is a programmer attached over USB bulk endpoints.
type USBProbe struct {
	link
	ctx  *usb.Context
	dev  *usb.Device
	done func()
}

// usbStream adapts a bulk endpoint pair to io.ReadWriter.
type usbStream struct {
	in  *usb.InEndpoint
	out *usb.OutEndpoint
}

func (s *usbStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *usbStream) Write(p []byte) (int, error) { return s.out.Write(p) }

// OpenUSBProbe finds the probe on the USB bus and claims its bulk
// interface.
func OpenUSBProbe() (*USBProbe, error) {
	ctx := usb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(usbVendorID, usbProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("cannot open USB device: %v", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("no probe found on the USB bus (%v:%v)", usbVendorID, usbProductID)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("cannot detach kernel driver: %v", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("cannot claim interface: %v", err)
	}

	stream := &usbStream{}
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != usb.TransferTypeBulk {
			continue
		}
		if ep.Direction == usb.EndpointDirectionIn && stream.in == nil {
			stream.in, err = intf.InEndpoint(ep.Number)
		} else if ep.Direction == usb.EndpointDirectionOut && stream.out == nil {
			stream.out, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			done()
			dev.Close()
			ctx.Close()
			return nil, fmt.Errorf("cannot open endpoint %d: %v", ep.Number, err)
		}
	}
	if stream.in == nil || stream.out == nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("probe interface has no bulk endpoint pair")
	}

	p := &USBProbe{ctx: ctx, dev: dev, done: done}
	p.link.rw = stream
	return p, nil
}

func (p *USBProbe) Name() string {
	return fmt.Sprintf("USB probe at bus %d addr %d", p.dev.Desc.Bus, p.dev.Desc.Address)
}

func (p *USBProbe) Close() error {
	p.done()
	if err := p.dev.Close(); err != nil {
		p.ctx.Close()
		return err
	}
	return p.ctx.Close()
}
