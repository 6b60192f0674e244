package i2cbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Socket framing, one frame per bus transaction:
//
//	controller -> emulator: 'T' wlen(u16 LE) w-bytes rlen(u16 LE)
//	emulator -> controller: r-bytes
const socketTx = 'T'

// SocketBus is the controller end of an emulated bus over a stream
// socket.
type SocketBus struct {
	conn net.Conn
}

// DialSocketBus connects to a bootloader emulator listening on a unix
// socket.
func DialSocketBus(path string) (*SocketBus, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("error connecting to emulator at %q: %v", path, err)
	}
	return &SocketBus{conn: conn}, nil
}

func (b *SocketBus) Tx(w, r []byte) error {
	if len(w) > 0xFFFF || len(r) > 0xFFFF {
		return fmt.Errorf("transaction too large: w=%d r=%d", len(w), len(r))
	}
	msg := make([]byte, 3, 3+len(w)+2)
	msg[0] = socketTx
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(w)))
	msg = append(msg, w...)
	var rlen [2]byte
	binary.LittleEndian.PutUint16(rlen[:], uint16(len(r)))
	msg = append(msg, rlen[:]...)
	if _, err := b.conn.Write(msg); err != nil {
		return fmt.Errorf("error sending transaction: %v", err)
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.conn, r); err != nil {
			return fmt.Errorf("error reading %d reply bytes: %v", len(r), err)
		}
	}
	return nil
}

func (b *SocketBus) Close() error { return b.conn.Close() }

// ServeConn replays one socket connection's transactions against a
// peripheral. It returns when the controller disconnects. afterTx, when
// set, runs after every transaction, standing in for the target's main
// loop.
func ServeConn(conn net.Conn, periph Peripheral, afterTx func()) error {
	lb := &Loopback{Periph: periph, AfterTx: afterTx}
	hdr := make([]byte, 3)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error reading frame header: %v", err)
		}
		if hdr[0] != socketTx {
			return fmt.Errorf("unknown frame type 0x%02X", hdr[0])
		}
		w := make([]byte, binary.LittleEndian.Uint16(hdr[1:3]))
		if _, err := io.ReadFull(conn, w); err != nil {
			return fmt.Errorf("error reading write phase: %v", err)
		}
		var rlen [2]byte
		if _, err := io.ReadFull(conn, rlen[:]); err != nil {
			return fmt.Errorf("error reading read length: %v", err)
		}
		r := make([]byte, binary.LittleEndian.Uint16(rlen[:]))
		if err := lb.Tx(w, r); err != nil {
			return err
		}
		if len(r) > 0 {
			if _, err := conn.Write(r); err != nil {
				return fmt.Errorf("error writing reply: %v", err)
			}
		}
	}
}
