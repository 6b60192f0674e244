// Package i2cbus abstracts the register bus between the update host and
// the target. Three backings: a Linux i2c-dev adapter, a unix-socket
// client for the bootloader emulator, and an in-process loopback used by
// tests.
package i2cbus

// Bus is one controller's view of the register bus. Tx performs a write
// phase followed by a repeated-start read phase; either slice may be
// empty.
type Bus interface {
	Tx(w, r []byte) error
	Close() error
}

// Peripheral is the target side of the bus, at the granularity the
// slave controller raises events.
type Peripheral interface {
	AddrMatch(read bool)
	WriteByte(b byte)
	ReadByte() byte
	Stop()
}

// RegisterDevice is a pointer-addressed register bank. The application
// register file has this shape.
type RegisterDevice interface {
	ReadRegister(reg byte) byte
	WriteRegister(reg, val byte) error
}

// RegisterPeripheral adapts a RegisterDevice to bus events, holding the
// register pointer with auto-increment on both reads and writes.
type RegisterPeripheral struct {
	dev   RegisterDevice
	ptr   byte
	first bool
}

func NewRegisterPeripheral(dev RegisterDevice) *RegisterPeripheral {
	return &RegisterPeripheral{dev: dev}
}

func (p *RegisterPeripheral) AddrMatch(read bool) {
	if !read {
		p.first = true
	}
}

func (p *RegisterPeripheral) WriteByte(b byte) {
	if p.first {
		p.ptr = b
		p.first = false
		return
	}
	p.dev.WriteRegister(p.ptr, b)
	p.ptr++
}

func (p *RegisterPeripheral) ReadByte() byte {
	v := p.dev.ReadRegister(p.ptr)
	p.ptr++
	return v
}

func (p *RegisterPeripheral) Stop() {}

// Loopback binds a Bus directly to a Peripheral in the same process.
// AfterTx, when set, runs after every transaction and stands in for the
// target's main loop.
type Loopback struct {
	Periph  Peripheral
	AfterTx func()
}

func (l *Loopback) Tx(w, r []byte) error {
	if len(w) > 0 {
		l.Periph.AddrMatch(false)
		for _, b := range w {
			l.Periph.WriteByte(b)
		}
		l.Periph.Stop()
	}
	if len(r) > 0 {
		l.Periph.AddrMatch(true)
		for i := range r {
			r[i] = l.Periph.ReadByte()
		}
		l.Periph.Stop()
	}
	if l.AfterTx != nil {
		l.AfterTx()
	}
	return nil
}

func (l *Loopback) Close() error { return nil }
