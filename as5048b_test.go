package walter_arm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeI2C struct {
	regs map[uint16][2]byte
	err  error
	addr uint16
	w    []byte
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.addr = addr
	f.w = append([]byte(nil), w...)
	if f.err != nil {
		return f.err
	}
	v := f.regs[addr]
	copy(r, v[:])
	return nil
}

func TestAS5048BReadAngle(t *testing.T) {
	i2c := &fakeI2C{regs: map[uint16][2]byte{
		0x40: {0x00, 0x00},
		// 0x2000 is half of the 14 bit range
		0x41: {0x80, 0x00},
		// all bits set, the upper two bits of the low register are ignored
		0x42: {0xFF, 0xFF},
	}}
	sensors := NewAS5048B(i2c, nil)

	angle, err := sensors.ReadAngle(0x40)
	require.NoError(t, err)
	assert.Zero(t, angle)
	assert.Equal(t, []byte{0xFE}, i2c.w, "reads start at the angle high register")

	angle, err = sensors.ReadAngle(0x41)
	require.NoError(t, err)
	assert.InDelta(t, 180, angle, 1e-9)
	assert.Equal(t, uint16(0x41), i2c.addr)

	angle, err = sensors.ReadAngle(0x42)
	require.NoError(t, err)
	assert.InDelta(t, 360.0*16383/16384, angle, 1e-9)
	assert.Equal(t, BusIdle, sensors.Status())
}

func TestAS5048BFailureAndReset(t *testing.T) {
	i2c := &fakeI2C{err: errors.New("arbitration lost")}
	resets := 0
	sensors := NewAS5048B(i2c, func() error {
		resets++
		return nil
	})

	_, err := sensors.ReadAngle(0x40)
	assert.Error(t, err)
	assert.Equal(t, BusError, sensors.Status())

	require.NoError(t, sensors.Reset())
	assert.Equal(t, 1, resets)
	assert.Equal(t, BusIdle, sensors.Status())

	t.Run("failed reset leaves the bus in error", func(t *testing.T) {
		broken := NewAS5048B(i2c, func() error { return errors.New("device gone") })
		assert.Error(t, broken.Reset())
		assert.Equal(t, BusError, broken.Status())
	})
}

func TestBusStatusString(t *testing.T) {
	assert.Equal(t, "idle", BusIdle.String())
	assert.Equal(t, "busy", BusBusy.String())
	assert.Equal(t, "error", BusError.String())
	assert.Equal(t, "unknown", BusStatus(9).String())
}
