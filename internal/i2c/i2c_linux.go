//go:build linux

// Package i2c provides a minimal Linux I2C bus backed by /dev/i2c-*.
// Transfers use I2C_RDWR so a combined write+read issues a repeated start,
// which the SHT30 and similar sensors require.
package i2c

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	i2cMsgRead = 0x0001
	i2cRdwr    = 0x0707
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened I2C bus (e.g. /dev/i2c-1).
// A Bus is not safe for concurrent transfers; callers serialize above it.
type Bus struct {
	f    *os.File
	path string
}

// Open opens the I2C character device at path.
func Open(path string) (*Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

// Close releases the bus file descriptor.
func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the device at a 7-bit address on this bus.
func (b *Bus) Dev(addr uint16) *Dev {
	return &Dev{bus: b, addr: addr}
}

// Dev is a device at a fixed address on a Bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

// Write sends p to the device in a single transaction.
func (d *Dev) Write(p []byte) error {
	return d.tx(p, nil)
}

// Read fills p from the device in a single transaction.
func (d *Dev) Read(p []byte) error {
	return d.tx(nil, p)
}

// WriteRead writes w then reads into r with a repeated start between them.
func (d *Dev) WriteRead(w, r []byte) error {
	return d.tx(w, r)
}

func (d *Dev) tx(w, r []byte) error {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return errors.New("i2c: device not open")
	}
	if d.addr == 0 || d.addr > 0x7F {
		return fmt.Errorf("i2c: invalid address 0x%X", d.addr)
	}

	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: d.addr, flags: i2cMsgRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c: transfer to 0x%X on %s: %w", d.addr, d.bus.path, errno)
	}
	return nil
}
