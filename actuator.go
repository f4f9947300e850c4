package walter_arm

import (
	"time"
)

// Actuator moves one joint. MoveToAngle requests an angle (radians) to be reached within duration;
// the actuator interpolates on its own when Loop is called.
type Actuator interface {
	MoveToAngle(angle float64, duration time.Duration) error
	Loop(now time.Time)
	CurrentAngle() float64
}

// SimulatedActuator is an ideal actuator following the requested angle linearly.
// A queued move starts from wherever the previous move is when Loop picks it up.
type SimulatedActuator struct {
	current float64

	from     float64
	to       float64
	begin    time.Time
	duration time.Duration

	target         float64
	targetDuration time.Duration
	pending        bool
}

// NewSimulatedActuator creates a simulated actuator resting at angle
func NewSimulatedActuator(angle float64) *SimulatedActuator {
	return &SimulatedActuator{current: angle, from: angle, to: angle, target: angle}
}

// MoveToAngle queues a move that begins with the next Loop call
func (s *SimulatedActuator) MoveToAngle(angle float64, duration time.Duration) error {
	s.target = angle
	s.targetDuration = duration
	s.pending = true
	return nil
}

// Loop advances the simulated position
func (s *SimulatedActuator) Loop(now time.Time) {
	if s.pending {
		s.from = s.positionAt(now)
		s.to = s.target
		s.duration = s.targetDuration
		s.begin = now
		s.pending = false
	}
	s.current = s.positionAt(now)
}

func (s *SimulatedActuator) positionAt(now time.Time) float64 {
	if s.duration <= 0 || s.begin.IsZero() {
		return s.to
	}
	ratio := float64(now.Sub(s.begin)) / float64(s.duration)
	if ratio >= 1 {
		return s.to
	}
	if ratio < 0 {
		ratio = 0
	}
	return s.from + (s.to-s.from)*ratio
}

// CurrentAngle returns the simulated position
func (s *SimulatedActuator) CurrentAngle() float64 {
	return s.current
}

// Target returns the last requested angle
func (s *SimulatedActuator) Target() float64 {
	return s.target
}
