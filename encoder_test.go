package walter_arm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

var errNack = errors.New("nack")

// fakeSensorBus serves angles per address. Addresses listed in failing return errNack
// and leave the bus in error until reset.
type fakeSensorBus struct {
	angles   map[uint8]float64
	failing  map[uint8]bool
	status   BusStatus
	reads    int
	resets   int
	resetErr error
}

func newFakeSensorBus() *fakeSensorBus {
	return &fakeSensorBus{angles: map[uint8]float64{}, failing: map[uint8]bool{}}
}

func (b *fakeSensorBus) ReadAngle(addr uint8) (float64, error) {
	b.reads++
	if b.failing[addr] {
		b.status = BusError
		return 0, errNack
	}
	return b.angles[addr], nil
}

func (b *fakeSensorBus) Status() BusStatus {
	return b.status
}

func (b *fakeSensorBus) Reset() error {
	b.resets++
	if b.resetErr != nil {
		return b.resetErr
	}
	b.status = BusIdle
	return nil
}

func TestNormalizeDegrees(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{190, -170},
		{359, -1},
		{-359, 1},
		{720 + 45, 45},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeDegrees(tt.in), 1e-9, "NormalizeDegrees(%v)", tt.in)
	}
}

func TestNullAngle(t *testing.T) {
	assert.InDelta(t, 10, NullAngle(100, 90), 1e-9)
	assert.InDelta(t, -20, NullAngle(350, 10), 1e-9)
	assert.InDelta(t, 20, NullAngle(10, 350), 1e-9)
}

func TestComplementaryFilter(t *testing.T) {
	t.Run("dt equal to tau moves half way", func(t *testing.T) {
		assert.InDelta(t, 5, ComplementaryFilter(0, 10, 8*time.Millisecond, 8*time.Millisecond), 1e-9)
	})

	t.Run("no elapsed time keeps the previous value", func(t *testing.T) {
		assert.Equal(t, 3.0, ComplementaryFilter(3, 10, 0, EncoderFilterResponseTime))
	})

	t.Run("blends the short way around", func(t *testing.T) {
		got := ComplementaryFilter(170, -170, 8*time.Millisecond, 8*time.Millisecond)
		assert.InDelta(t, 180, got, 1e-9)
	})

	t.Run("converges to a constant input", func(t *testing.T) {
		v := 0.0
		for i := 0; i < 50; i++ {
			v = ComplementaryFilter(v, 42, 10*time.Millisecond, EncoderFilterResponseTime)
		}
		assert.InDelta(t, 42, v, 1e-6)
	})
}

func TestMeanVariance(t *testing.T) {
	mean, variance := MeanVariance([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-9)
	assert.InDelta(t, 1.25, variance, 1e-9)

	mean, variance = MeanVariance(nil)
	assert.Zero(t, mean)
	assert.Zero(t, variance)
}

func TestEncoderRead(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := newFakeSensorBus()
	enc := NewEncoder(EncoderConfig{Joint: Wrist, Address: 0x41, NullAngle: 90, Offset: 2}, bus, logger)
	start := time.Unix(0, 0)

	bus.angles[0x41] = 100
	require.True(t, enc.ReadNewAngle(start))
	assert.InDelta(t, 100, enc.RawAngle(), 1e-9)
	assert.InDelta(t, 10, enc.NulledAngle(), 1e-9)
	assert.InDelta(t, 8, enc.Angle(), 1e-9, "first read is not filtered, offset is subtracted")

	bus.angles[0x41] = 110
	require.True(t, enc.ReadNewAngle(start.Add(8*time.Millisecond)))
	assert.InDelta(t, 20, enc.NulledAngle(), 1e-9)
	assert.InDelta(t, 15-2, enc.Angle(), 1e-9)

	t.Run("failed read keeps the value", func(t *testing.T) {
		before := enc.Angle()
		bus.failing[0x41] = true
		assert.False(t, enc.ReadNewAngle(start.Add(16*time.Millisecond)))
		assert.False(t, enc.ReadNewAngle(start.Add(24*time.Millisecond)))
		assert.Equal(t, 2, enc.FailureCount())
		assert.Equal(t, before, enc.Angle())

		bus.failing[0x41] = false
		assert.True(t, enc.ReadNewAngle(start.Add(32*time.Millisecond)))
		assert.Zero(t, enc.FailureCount())
	})

	t.Run("reverse", func(t *testing.T) {
		rev := NewEncoder(EncoderConfig{Joint: Hip, Address: 0x40, Reverse: true}, bus, logger)
		bus.angles[0x40] = 30
		require.True(t, rev.ReadNewAngle(start))
		assert.InDelta(t, 330, rev.RawAngle(), 1e-9)
		assert.InDelta(t, -30, rev.Angle(), 1e-9)
	})
}

func TestEncoderCheckConnection(t *testing.T) {
	bus := newFakeSensorBus()
	enc := NewEncoder(EncoderConfig{Joint: Elbow, Address: 0x42}, bus, logging.NewTestLogger(t))

	require.NoError(t, enc.CheckConnection())
	assert.True(t, enc.Available())

	bus.failing[0x42] = true
	err := enc.CheckConnection()
	assert.Equal(t, EncoderConnectionFailed, CodeOf(err))
	assert.ErrorIs(t, err, errNack)
	assert.False(t, enc.Available())
}

func TestEncoderCalibration(t *testing.T) {
	bus := newFakeSensorBus()
	enc := NewEncoder(EncoderConfig{Joint: Hand, Address: 0x43}, bus, logging.NewTestLogger(t))

	enc.SetNullAngle(200)
	enc.SetOffset(-1.5)
	assert.Equal(t, 200.0, enc.NullAngle())
	assert.Equal(t, -1.5, enc.Offset())

	bus.angles[0x43] = 210
	require.True(t, enc.ReadNewAngle(time.Unix(0, 0)))
	assert.InDelta(t, 11.5, enc.Angle(), 1e-9)
}

func TestSampleVariance(t *testing.T) {
	ctx := context.Background()
	bus := newFakeSensorBus()
	enc := NewEncoder(EncoderConfig{Joint: Hip, Address: 0x40, NullAngle: 10}, bus, logging.NewTestLogger(t))

	bus.angles[0x40] = 55
	result, err := enc.SampleVariance(ctx, 3)
	require.NoError(t, err)
	assert.InDelta(t, 45, result.Mean, 1e-9)
	assert.Zero(t, result.Variance)
	assert.True(t, result.Stable)
	assert.Equal(t, 3, bus.reads)

	t.Run("failed sample", func(t *testing.T) {
		bus.failing[0x40] = true
		_, err := enc.SampleVariance(ctx, 3)
		assert.Equal(t, EncoderCallFailed, CodeOf(err))
		bus.failing[0x40] = false
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := enc.SampleVariance(cancelled, 3)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
