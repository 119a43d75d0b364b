package sensor

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// MCP9808 register map
const (
	regAmbient      = 0x05
	regManufacturer = 0x06

	mcp9808ManufacturerID = 0x0054
)

// I2C reads an MCP9808-compatible thermometer over I²C.
type I2C struct {
	channel int
	busName string
	addr    uint16
	bus     i2c.BusCloser
	dev     *i2c.Dev
}

// NewI2C creates an unopened handle for a device at addr on busName
// ("1" -> /dev/i2c-1, "" -> first bus found).
func NewI2C(channel int, busName string, addr uint16) *I2C {
	return &I2C{
		channel: channel,
		busName: busName,
		addr:    addr,
	}
}

// Channel returns the channel this handle serves
func (s *I2C) Channel() int {
	return s.channel
}

// Open initialises the host drivers, opens the bus and checks the
// manufacturer ID before accepting the device.
func (s *I2C) Open(timeout time.Duration) error {
	var (
		bus i2c.BusCloser
		dev *i2c.Dev
	)
	err := attachWithin(s.channel, timeout, func() error {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("host init: %w", err)
		}
		b, err := i2creg.Open(s.busName)
		if err != nil {
			return fmt.Errorf("open i2c: %w", err)
		}
		d := &i2c.Dev{Addr: s.addr, Bus: b}

		buf := make([]byte, 2)
		if err := d.Tx([]byte{regManufacturer}, buf); err != nil {
			b.Close()
			return fmt.Errorf("read manufacturer id: %w", err)
		}
		if id := uint16(buf[0])<<8 | uint16(buf[1]); id != mcp9808ManufacturerID {
			b.Close()
			return fmt.Errorf("unexpected manufacturer id 0x%04X at 0x%02X", id, s.addr)
		}
		bus, dev = b, d
		return nil
	}, func(err error) {
		// Attached after Open gave up
		if err == nil {
			bus.Close()
		}
	})
	if err != nil {
		return err
	}

	s.bus, s.dev = bus, dev
	return nil
}

// Temperature reads the ambient temperature register
func (s *I2C) Temperature() (float64, error) {
	if s.dev == nil {
		return 0, ErrNotOpen
	}
	buf := make([]byte, 2)
	if err := s.dev.Tx([]byte{regAmbient}, buf); err != nil {
		return 0, fmt.Errorf("channel %d: read ambient: %w", s.channel, err)
	}
	return decodeAmbient(buf[0], buf[1]), nil
}

// Close releases the bus
func (s *I2C) Close() error {
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus, s.dev = nil, nil
	return err
}

// decodeAmbient converts the 13-bit two's complement ambient register
// (bit 12 sign, 1/16 °C resolution) to degrees Celsius. The three alert
// flag bits above it are ignored.
func decodeAmbient(msb, lsb byte) float64 {
	raw := uint16(msb&0x1F)<<8 | uint16(lsb)
	temp := float64(raw&0x0FFF) / 16.0
	if raw&0x1000 != 0 {
		temp -= 256
	}
	return temp
}
