package walter_arm

import (
	"fmt"

	"tinygo.org/x/drivers"
)

// BusStatus is the state of a sensor bus channel.
type BusStatus int

const (
	BusIdle BusStatus = iota
	BusBusy
	BusError
)

func (s BusStatus) String() string {
	switch s {
	case BusIdle:
		return "idle"
	case BusBusy:
		return "busy"
	case BusError:
		return "error"
	default:
		return "unknown"
	}
}

// AngleSensorBus is the transport to the absolute angle sensors of one bus channel.
// ReadAngle returns the raw angle in [0, 360) degrees or an error if the transaction failed.
type AngleSensorBus interface {
	ReadAngle(addr uint8) (float64, error)
	Status() BusStatus
	Reset() error
}

// I2C is the transaction interface of an I2C master.
type I2C interface {
	Tx(addr uint16, w, r []byte) error
}

var _ I2C = drivers.I2C(nil)

// AS5048B registers
const (
	as5048bRegAngleHigh = 0xFE
	as5048bResolution   = 1 << 14
	// AS5048BDefaultAddress is the address with both address pins low.
	AS5048BDefaultAddress = 0x40
)

// AS5048B reads 14-bit magnetic angle sensors sharing one I2C channel.
// Only one transaction is outstanding at a time.
type AS5048B struct {
	bus    I2C
	reset  func() error
	status BusStatus
	buf    [2]byte
}

// NewAS5048B creates a sensor bus on i2c. reset re-initialises the channel and may be nil.
func NewAS5048B(i2c I2C, reset func() error) *AS5048B {
	return &AS5048B{bus: i2c, reset: reset}
}

// ReadAngle reads the angle registers of the sensor at addr.
func (s *AS5048B) ReadAngle(addr uint8) (float64, error) {
	s.status = BusBusy
	if err := s.bus.Tx(uint16(addr), []byte{as5048bRegAngleHigh}, s.buf[:]); err != nil {
		s.status = BusError
		return 0, fmt.Errorf("failed to read angle from 0x%02x: %w", addr, err)
	}
	s.status = BusIdle

	// 0xFE holds bits 13..6, 0xFF holds bits 5..0
	raw := uint16(s.buf[0])<<6 | uint16(s.buf[1]&0x3F)
	return float64(raw) * 360 / as5048bResolution, nil
}

// Status returns the state left by the last transaction
func (s *AS5048B) Status() BusStatus {
	return s.status
}

// Reset re-initialises the channel and returns it to idle.
func (s *AS5048B) Reset() error {
	if s.reset != nil {
		if err := s.reset(); err != nil {
			s.status = BusError
			return fmt.Errorf("failed to reset sensor bus: %w", err)
		}
	}
	s.status = BusIdle
	return nil
}
