package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/crandall/incubator/internal/i2c"
)

// SHT30 address and command set (single-shot mode, no clock stretching).
const (
	SHT30DefaultAddr uint16 = 0x44

	// Single-shot measurement, high repeatability.
	cmdMeasureHighMSB = 0x24
	cmdMeasureHighLSB = 0x00

	// Soft reset.
	cmdSoftResetMSB = 0x30
	cmdSoftResetLSB = 0xA2

	// High-repeatability measurement duration per datasheet is 12.5 ms min.
	measureDelay = 15 * time.Millisecond
	resetDelay   = 2 * time.Millisecond
)

// SHT30 reads temperature and humidity from a Sensirion SHT30 over I2C.
type SHT30 struct {
	dev  *i2c.Dev
	bus  *i2c.Bus
	path string
	addr uint16
}

// NewSHT30 opens the I2C bus at path and probes the sensor with a soft reset.
func NewSHT30(path string, addr uint16) (*SHT30, error) {
	bus, err := i2c.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sht30: %w", err)
	}
	s := &SHT30{dev: bus.Dev(addr), bus: bus, path: path, addr: addr}
	if err := s.reset(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("sht30: probe at 0x%X: %w", addr, err)
	}
	return s, nil
}

// Read performs one single-shot measurement. The sensor needs a fixed
// conversion delay between the command and the data fetch; the context can
// cut the wait short.
func (s *SHT30) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	if err := s.dev.Write([]byte{cmdMeasureHighMSB, cmdMeasureHighLSB}); err != nil {
		return Reading{}, fmt.Errorf("sht30: measure command: %w", err)
	}

	t := time.NewTimer(measureDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	case <-t.C:
	}

	// tMSB tLSB tCRC hMSB hLSB hCRC
	buf := make([]byte, 6)
	if err := s.dev.Read(buf); err != nil {
		return Reading{}, fmt.Errorf("sht30: read measurement: %w", err)
	}
	if crc8(buf[0:2]) != buf[2] {
		return Reading{}, fmt.Errorf("sht30: temperature CRC mismatch")
	}
	if crc8(buf[3:5]) != buf[5] {
		return Reading{}, fmt.Errorf("sht30: humidity CRC mismatch")
	}

	rawT := uint16(buf[0])<<8 | uint16(buf[1])
	rawH := uint16(buf[3])<<8 | uint16(buf[4])

	tempC := -45.0 + 175.0*float64(rawT)/65535.0
	return Reading{
		TempC:    tempC,
		TempF:    tempC*9.0/5.0 + 32.0,
		Humidity: 100.0 * float64(rawH) / 65535.0,
	}, nil
}

// Reconnect reopens the bus and soft-resets the sensor. If the bus is
// already open, only the reset is issued.
func (s *SHT30) Reconnect() error {
	if s.bus == nil {
		bus, err := i2c.Open(s.path)
		if err != nil {
			return fmt.Errorf("sht30: reopen bus: %w", err)
		}
		s.bus = bus
		s.dev = bus.Dev(s.addr)
	}
	if err := s.reset(); err != nil {
		return fmt.Errorf("sht30: reset: %w", err)
	}
	return nil
}

// Close releases the bus.
func (s *SHT30) Close() error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus = nil
	return err
}

func (s *SHT30) reset() error {
	if err := s.dev.Write([]byte{cmdSoftResetMSB, cmdSoftResetLSB}); err != nil {
		return err
	}
	time.Sleep(resetDelay)
	return nil
}

// crc8 is the SHT3x checksum: polynomial 0x31, init 0xFF, no final XOR.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
