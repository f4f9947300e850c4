package walter_arm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.viam.com/rdk/logging"
)

const (
	servoResolution = 4096
	// servoMaxSpeed is the fastest commanded speed in ticks per second.
	servoMaxSpeed           = 3400
	servoCommandTimeout     = 20 * time.Millisecond
	servoPositionReadPeriod = 100 * time.Millisecond
)

// ServoCalibration maps raw servo ticks to joint angles
type ServoCalibration struct {
	ID        int `json:"id"`
	Joint     int `json:"joint"`
	DriveMode int `json:"drive_mode"`
	RangeMin  int `json:"range_min"`
	RangeMax  int `json:"range_max"`
}

// DefaultServoCalibrations returns one calibration per joint, servo IDs 1 to 7, full range.
func DefaultServoCalibrations() []ServoCalibration {
	cals := make([]ServoCalibration, NumberOfActuators)
	for i := range cals {
		cals[i] = ServoCalibration{ID: i + 1, Joint: i, RangeMin: 0, RangeMax: servoResolution - 1}
	}
	return cals
}

// Normalize converts a raw position into radians around the range center
func (c *ServoCalibration) Normalize(raw int) float64 {
	center := float64(c.RangeMin+c.RangeMax) / 2.0
	angle := (float64(raw) - center) * 2 * math.Pi / servoResolution
	if c.DriveMode != 0 {
		angle = -angle
	}
	return angle
}

// Denormalize converts radians back to a raw position, clamped to the servo range
func (c *ServoCalibration) Denormalize(angle float64) int {
	if c.DriveMode != 0 {
		angle = -angle
	}
	center := float64(c.RangeMin+c.RangeMax) / 2.0
	raw := int(math.Round(angle*servoResolution/(2*math.Pi) + center))

	if raw < c.RangeMin {
		raw = c.RangeMin
	}
	if raw > c.RangeMax {
		raw = c.RangeMax
	}
	return raw
}

// Validate checks if the calibration parameters are valid
func (c *ServoCalibration) Validate() error {
	if c.ID < 0 || c.ID > 253 {
		return fmt.Errorf("invalid servo ID: %d", c.ID)
	}

	if c.Joint < 0 || c.Joint >= NumberOfActuators {
		return fmt.Errorf("%w: servo %d drives joint %d", ErrJointIndexOutOfRange, c.ID, c.Joint)
	}

	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}

	if c.RangeMin < 0 || c.RangeMax > servoResolution-1 {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", servoResolution-1, c.RangeMin, c.RangeMax)
	}

	return nil
}

// servoSpeed returns the ticks per second needed to cover the distance in duration
func servoSpeed(fromRaw, toRaw int, duration time.Duration) int {
	if duration <= 0 {
		return servoMaxSpeed
	}
	ticks := math.Abs(float64(toRaw - fromRaw))
	speed := int(math.Ceil(ticks / duration.Seconds()))
	if speed < 1 {
		speed = 1
	}
	if speed > servoMaxSpeed {
		speed = servoMaxSpeed
	}
	return speed
}

// ServoActuator drives a joint with a Feetech STS servo.
// Commands are sent from Loop with a short timeout; a failed command is retried on the next Loop.
type ServoActuator struct {
	servo       *feetech.Servo
	calibration ServoCalibration
	logger      logging.Logger

	target   float64
	current  float64
	duration time.Duration
	pending  bool
	lastRead time.Time
	failures int
}

// NewServoActuator creates the actuator for one servo
func NewServoActuator(servo *feetech.Servo, calibration ServoCalibration, logger logging.Logger) *ServoActuator {
	return &ServoActuator{
		servo:       servo,
		calibration: calibration,
		logger:      logger,
	}
}

// CheckConnection pings the servo and reads its position
func (s *ServoActuator) CheckConnection(ctx context.Context) error {
	if _, err := s.servo.Ping(ctx); err != nil {
		return NewError(ServoCommunicationFailed, JointName(s.calibration.Joint),
			fmt.Errorf("servo %d did not answer: %w", s.calibration.ID, err))
	}
	raw, err := s.servo.Position(ctx)
	if err != nil {
		return NewError(ServoStatusFailed, JointName(s.calibration.Joint),
			fmt.Errorf("failed to read position of servo %d: %w", s.calibration.ID, err))
	}
	s.current = s.calibration.Normalize(raw)
	s.target = s.current
	return nil
}

// MoveToAngle queues a move; it is sent with the next Loop
func (s *ServoActuator) MoveToAngle(angle float64, duration time.Duration) error {
	s.target = angle
	s.duration = duration
	s.pending = true
	return nil
}

// Loop sends a queued move and refreshes the measured position
func (s *ServoActuator) Loop(now time.Time) {
	if s.pending {
		from := s.calibration.Denormalize(s.current)
		to := s.calibration.Denormalize(s.target)
		ctx, cancel := context.WithTimeout(context.Background(), servoCommandTimeout)
		err := s.servo.SetPositionWithSpeed(ctx, to, servoSpeed(from, to, s.duration))
		cancel()
		if err != nil {
			s.failures++
			s.logger.Debugf("%s: failed to command servo %d: %v", JointName(s.calibration.Joint), s.calibration.ID, err)
		} else {
			s.pending = false
			s.failures = 0
		}
	}

	if now.Sub(s.lastRead) < servoPositionReadPeriod {
		return
	}
	s.lastRead = now
	ctx, cancel := context.WithTimeout(context.Background(), servoCommandTimeout)
	raw, err := s.servo.Position(ctx)
	cancel()
	if err != nil {
		s.failures++
		s.logger.Debugf("%s: failed to read servo %d: %v", JointName(s.calibration.Joint), s.calibration.ID, err)
		return
	}
	if !s.pending {
		s.failures = 0
	}
	s.current = s.calibration.Normalize(raw)
}

// CurrentAngle returns the last measured angle
func (s *ServoActuator) CurrentAngle() float64 {
	return s.current
}

// FailureCount returns the number of consecutive failed servo transactions
func (s *ServoActuator) FailureCount() int {
	return s.failures
}

// SetTorqueEnabled switches the servo torque
func (s *ServoActuator) SetTorqueEnabled(ctx context.Context, enable bool) error {
	if enable {
		return s.servo.Enable(ctx)
	}
	return s.servo.Disable(ctx)
}
