// Package updater drives a firmware update over the register bus: it
// moves the target into update mode, streams the headered image page by
// page, and asks the bootloader to verify and boot it.
package updater

import (
	"fmt"
	"time"

	"github.com/wome-devices/wchprog/pkg/blproto"
	"github.com/wome-devices/wchprog/pkg/i2cbus"
)

// Logger receives progress messages. log.Default() satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// Config holds the updater configuration.
type Config struct {
	// PollInterval and PollAttempts bound every status poll. The
	// protocol requires the controller to poll the status register to
	// idle before issuing the next command.
	PollInterval time.Duration
	PollAttempts int
	// ModeAttempts bounds the wait for the target to reboot into the
	// bootloader after the update trigger.
	ModeAttempts int

	Logger Logger
	Sleep  func(time.Duration)
}

func defaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		PollAttempts: 500,
		ModeAttempts: 100,
		Logger:       nopLogger{},
		Sleep:        time.Sleep,
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithLogger sets a logger for update progress.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithPoll sets the status poll interval and attempt bound.
func WithPoll(interval time.Duration, attempts int) Option {
	return func(c *Config) {
		c.PollInterval = interval
		c.PollAttempts = attempts
	}
}

// StatusError is a command the bootloader answered with an error code.
type StatusError struct {
	Op   string
	Code byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: target reports %s", e.Op, blproto.ErrString(e.Code))
}

// TimeoutError is a status poll that never reached a terminal state.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out waiting for the target", e.Op)
}

// Identity is the target's common register window.
type Identity struct {
	HWType       byte
	InUpdateMode bool
	FWMajor      byte
	FWMinor      byte
}

// Updater drives the update protocol over a register bus.
type Updater struct {
	bus i2cbus.Bus
	cfg Config
}

// New builds an updater over an open bus.
func New(bus i2cbus.Bus, opts ...Option) *Updater {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Updater{bus: bus, cfg: cfg}
}

// Pack builds the over-the-wire update image: the encoded application
// header followed by the application, padded to a whole number of
// pages with the erased pattern.
func Pack(app []byte, fwMajor, fwMinor, hwType byte) []byte {
	padded := make([]byte, (len(app)+blproto.PageSize-1)&^(blproto.PageSize-1))
	for i := copy(padded, app); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	h := blproto.NewAppHeader(padded, fwMajor, fwMinor, blproto.ProtocolVersion, hwType, blproto.AppCodeAddr)
	return append(blproto.EncodeAppHeader(h), padded...)
}

func (u *Updater) readReg(reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := u.bus.Tx([]byte{reg}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Identity reads the common register window.
func (u *Updater) Identity() (Identity, error) {
	r := make([]byte, 3)
	if err := u.bus.Tx([]byte{blproto.RegHWType}, r); err != nil {
		return Identity{}, fmt.Errorf("error reading identity: %v", err)
	}
	return Identity{
		HWType:       r[0] &^ blproto.ModeFlag,
		InUpdateMode: r[0]&blproto.ModeFlag != 0,
		FWMajor:      r[1],
		FWMinor:      r[2],
	}, nil
}

// EnterUpdateMode announces the expected image size and CRC to the
// application, triggers the reboot into the bootloader, and waits for
// the mode flag to appear.
func (u *Updater) EnterUpdateMode(size uint16, crc uint32) error {
	params := []byte{
		blproto.RegAppUpdateSzL,
		byte(size), byte(size >> 8),
		byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24),
	}
	if err := u.bus.Tx(params, nil); err != nil {
		return fmt.Errorf("error writing update parameters: %v", err)
	}
	if err := u.bus.Tx([]byte{blproto.RegAppUpdateCmd, blproto.UpdateTrigger}, nil); err != nil {
		return fmt.Errorf("error writing update trigger: %v", err)
	}
	for i := 0; i < u.cfg.ModeAttempts; i++ {
		id, err := u.Identity()
		if err == nil && id.InUpdateMode {
			return nil
		}
		u.cfg.Sleep(u.cfg.PollInterval)
	}
	return &TimeoutError{Op: "entering update mode"}
}

// command issues one bootloader command and polls the status register
// to a terminal state.
func (u *Updater) command(op string, cmd byte) error {
	if err := u.bus.Tx([]byte{blproto.RegBLCmd, cmd}, nil); err != nil {
		return fmt.Errorf("error sending %s command: %v", op, err)
	}
	for i := 0; i < u.cfg.PollAttempts; i++ {
		status, err := u.readReg(blproto.RegBLStatus)
		if err != nil {
			return fmt.Errorf("error polling %s status: %v", op, err)
		}
		switch status {
		case blproto.StatusSuccess:
			return nil
		case blproto.StatusBusy, blproto.StatusIdle:
			u.cfg.Sleep(u.cfg.PollInterval)
			continue
		}
		if status&blproto.StatusError != 0 {
			code, err := u.readReg(blproto.RegBLError)
			if err != nil {
				return fmt.Errorf("error reading %s error code: %v", op, err)
			}
			return &StatusError{Op: op, Code: code}
		}
		return fmt.Errorf("%s: unexpected status 0x%02X", op, status)
	}
	return &TimeoutError{Op: op}
}

// writePage streams one page at the given offset from the header base
// and commits it. Writes to the data register do not advance the
// register pointer, so a page goes out as a single transaction.
func (u *Updater) writePage(offset uint16, page []byte) error {
	addr := []byte{blproto.RegBLAddrL, byte(offset), byte(offset >> 8)}
	if err := u.bus.Tx(addr, nil); err != nil {
		return fmt.Errorf("error setting page address 0x%04X: %v", offset, err)
	}
	data := make([]byte, 1, 1+len(page))
	data[0] = blproto.RegBLData
	data = append(data, page...)
	if err := u.bus.Tx(data, nil); err != nil {
		return fmt.Errorf("error streaming page at 0x%04X: %v", offset, err)
	}
	return u.command(fmt.Sprintf("writing page 0x%04X", offset), blproto.CmdWrite)
}

// Update runs a complete update session with a packed image (header
// followed by application, page-aligned). The target may start in
// either mode.
func (u *Updater) Update(image []byte) error {
	if len(image) < blproto.AppHeaderSize || len(image)%blproto.PageSize != 0 {
		return fmt.Errorf("update image length %d is not a page multiple", len(image))
	}
	app := image[blproto.AppHeaderSize:]
	if uint32(len(app)) > blproto.AppMaxSize {
		return fmt.Errorf("application is %d bytes, at most %d fit", len(app), blproto.AppMaxSize)
	}

	id, err := u.Identity()
	if err != nil {
		return err
	}
	u.cfg.Logger.Printf("target hw=%d fw=%d.%d mode=%s",
		id.HWType, id.FWMajor, id.FWMinor, modeName(id.InUpdateMode))

	if !id.InUpdateMode {
		if err := u.EnterUpdateMode(uint16(len(app)), blproto.CRC32(app)); err != nil {
			return err
		}
		u.cfg.Logger.Printf("target rebooted into the bootloader")
	}

	ver, err := u.readReg(blproto.RegBLVersion)
	if err != nil {
		return fmt.Errorf("error reading protocol version: %v", err)
	}
	if ver < blproto.ProtocolVersion {
		return fmt.Errorf("target speaks protocol %d, need %d", ver, blproto.ProtocolVersion)
	}

	u.cfg.Logger.Printf("erasing application area")
	if err := u.command("erase", blproto.CmdErase); err != nil {
		return err
	}

	for off := 0; off < len(image); off += blproto.PageSize {
		if err := u.writePage(uint16(off), image[off:off+blproto.PageSize]); err != nil {
			return err
		}
	}
	u.cfg.Logger.Printf("wrote %d pages", len(image)/blproto.PageSize)

	crc := blproto.CRC32(app)
	crcMsg := []byte{
		blproto.RegBLCRC0,
		byte(crc), byte(crc >> 8), byte(crc >> 16), byte(crc >> 24),
	}
	if err := u.bus.Tx(crcMsg, nil); err != nil {
		return fmt.Errorf("error writing expected CRC: %v", err)
	}
	if err := u.command("verify", blproto.CmdVerify); err != nil {
		return err
	}

	u.cfg.Logger.Printf("image verified, booting")
	return u.command("boot", blproto.CmdBoot)
}

func modeName(update bool) string {
	if update {
		return "bootloader"
	}
	return "application"
}
