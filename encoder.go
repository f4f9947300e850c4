package walter_arm

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/stat"
)

const (
	// EncoderFilterResponseTime is the low pass response time; changes shorter than two samples are filtered out.
	EncoderFilterResponseTime = 8 * time.Millisecond
	// EncoderCheckSamples is the default number of samples taken by a variance check.
	EncoderCheckSamples = 5
	// EncoderCheckMaxVariance is the largest variance (deg^2) of a stable sensor.
	EncoderCheckMaxVariance = 0.3
	// EncoderSampleDelay separates two calibration samples.
	EncoderSampleDelay = 10 * time.Millisecond
)

// NormalizeDegrees maps an angle into (-180, 180].
func NormalizeDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	}
	if a <= -180 {
		a += 360
	}
	return a
}

// NullAngle returns raw relative to the null angle, in (-180, 180].
func NullAngle(raw, null float64) float64 {
	return NormalizeDegrees(raw - null)
}

// ComplementaryFilter blends a new sample into prev with alpha = tau/(tau+dt).
// The blend follows the shortest way around the circle, so the result stays in (-180, 180].
func ComplementaryFilter(prev, sample float64, dt, tau time.Duration) float64 {
	if dt <= 0 {
		return prev
	}
	alpha := tau.Seconds() / (tau.Seconds() + dt.Seconds())
	return NormalizeDegrees(prev + (1-alpha)*NormalizeDegrees(sample-prev))
}

// MeanVariance returns the mean and population variance of samples.
func MeanVariance(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	return stat.PopMeanVariance(samples, nil)
}

// VarianceResult is the outcome of a calibration sampling run.
type VarianceResult struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Stable   bool    `json:"stable"`
}

// EncoderConfig describes one angle sensor.
type EncoderConfig struct {
	Joint int `json:"joint"`
	// Bus is the index of the sensor channel in i2c_devices
	Bus       int     `json:"bus,omitempty"`
	Address   uint8   `json:"address"`
	NullAngle float64 `json:"null_angle"`
	Offset    float64 `json:"offset"`
	Reverse   bool    `json:"reverse,omitempty"`
}

// Encoder filters the absolute angle of one joint. Angles are in degrees.
type Encoder struct {
	cfg    EncoderConfig
	bus    AngleSensorBus
	logger logging.Logger

	nullAngle     float64
	offset        float64
	rawAngle      float64
	nulledAngle   float64
	filtered      float64
	lastRead      time.Time
	filterEnabled bool
	failures      int
	available     bool
}

// NewEncoder creates the filter for one joint on the given transport
func NewEncoder(cfg EncoderConfig, bus AngleSensorBus, logger logging.Logger) *Encoder {
	return &Encoder{
		cfg:           cfg,
		bus:           bus,
		logger:        logger,
		nullAngle:     cfg.NullAngle,
		offset:        cfg.Offset,
		filterEnabled: true,
		available:     true,
	}
}

// Joint returns the index of the joint this encoder measures
func (e *Encoder) Joint() int {
	return e.cfg.Joint
}

// Bus returns the transport of the sensor
func (e *Encoder) Bus() AngleSensorBus {
	return e.bus
}

// CheckConnection reads the sensor once and marks it unavailable on failure.
func (e *Encoder) CheckConnection() error {
	if _, err := e.bus.ReadAngle(e.cfg.Address); err != nil {
		e.available = false
		return NewError(EncoderConnectionFailed, JointName(e.cfg.Joint),
			fmt.Errorf("no response from sensor at 0x%02x: %w", e.cfg.Address, err))
	}
	e.available = true
	return nil
}

// Available reports whether the last connection check succeeded
func (e *Encoder) Available() bool {
	return e.available
}

// ReadNewAngle reads the sensor once. On a communication fault the filtered value is left
// unchanged, the failure counter grows and false is returned.
func (e *Encoder) ReadNewAngle(now time.Time) bool {
	raw, err := e.bus.ReadAngle(e.cfg.Address)
	if err != nil {
		e.failures++
		if e.logger != nil {
			e.logger.Debugf("%s: sensor read failed (%d in a row): %v", JointName(e.cfg.Joint), e.failures, err)
		}
		return false
	}
	e.failures = 0

	if e.cfg.Reverse {
		raw = 360 - raw
	}
	e.rawAngle = raw
	e.nulledAngle = NullAngle(raw, e.nullAngle)

	if e.filterEnabled && !e.lastRead.IsZero() {
		e.filtered = ComplementaryFilter(e.filtered, e.nulledAngle, now.Sub(e.lastRead), EncoderFilterResponseTime)
	} else {
		e.filtered = e.nulledAngle
	}
	e.lastRead = now
	return true
}

// Angle returns the filtered angle minus the static offset.
func (e *Encoder) Angle() float64 {
	return e.filtered - e.offset
}

// RawAngle returns the last raw reading in [0, 360).
func (e *Encoder) RawAngle() float64 {
	return e.rawAngle
}

// NulledAngle returns the last unfiltered reading relative to the null angle.
func (e *Encoder) NulledAngle() float64 {
	return e.nulledAngle
}

// FailureCount returns the number of consecutive failed reads
func (e *Encoder) FailureCount() int {
	return e.failures
}

// SetNullAngle sets the raw reading that maps to zero
func (e *Encoder) SetNullAngle(raw float64) {
	e.nullAngle = raw
}

// NullAngle returns the raw reading that maps to zero
func (e *Encoder) NullAngle() float64 {
	return e.nullAngle
}

// SetOffset sets the static mechanical zero offset
func (e *Encoder) SetOffset(offset float64) {
	e.offset = offset
}

// Offset returns the static mechanical zero offset
func (e *Encoder) Offset() float64 {
	return e.offset
}

// SampleVariance takes n unfiltered samples EncoderSampleDelay apart and reports mean and variance
// of the nulled angle. It blocks and must only be used for calibration, never from the control loop.
func (e *Encoder) SampleVariance(ctx context.Context, n int) (VarianceResult, error) {
	if n <= 0 {
		n = EncoderCheckSamples
	}

	e.filterEnabled = false
	defer func() { e.filterEnabled = true }()

	samples := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && !utils.SelectContextOrWait(ctx, EncoderSampleDelay) {
			return VarianceResult{}, ctx.Err()
		}
		if !e.ReadNewAngle(time.Now()) {
			return VarianceResult{}, NewError(EncoderCallFailed, JointName(e.cfg.Joint),
				fmt.Errorf("sample %d of %d failed", i+1, n))
		}
		samples = append(samples, e.nulledAngle)
	}

	mean, variance := MeanVariance(samples)
	result := VarianceResult{
		Mean:     mean,
		Variance: variance,
		Stable:   variance <= EncoderCheckMaxVariance,
	}
	if !result.Stable && e.logger != nil {
		e.logger.Warnf("%s: sensor unstable, variance %.3f exceeds %.3f", JointName(e.cfg.Joint), variance, EncoderCheckMaxVariance)
	}
	return result, nil
}
