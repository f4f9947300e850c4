package walter_arm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SafeController wraps the controller with thread-safe access for callers outside the loop goroutine
type SafeController struct {
	*Controller
	mu sync.RWMutex
}

// NewSafeController wraps c
func NewSafeController(c *Controller) *SafeController {
	return &SafeController{Controller: c}
}

// Thread-safe controller methods

func (s *SafeController) Setup(ctx context.Context) (SetupReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.Setup(ctx)
}

func (s *SafeController) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Controller.Teardown()
}

func (s *SafeController) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.Tick(ctx, now)
}

// Run ticks the controller at its cadence until ctx is done, holding the lock only during a tick.
func (s *SafeController) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Controller.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				return err
			}
		}
	}
}

func (s *SafeController) Play(trajectory *Trajectory, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.Play(trajectory, now)
}

func (s *SafeController) MoveToAngles(angles JointAngles, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.MoveToAngles(angles, now)
}

func (s *SafeController) MoveThroughAngles(waypoints []JointAngles, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.MoveThroughAngles(waypoints, now)
}

func (s *SafeController) MoveToPose(pose Pose, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.MoveToPose(pose, now)
}

func (s *SafeController) MoveGripper(distance float64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.MoveGripper(distance, now)
}

func (s *SafeController) SetConfiguration(config PoseConfiguration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.SetConfiguration(config, now)
}

func (s *SafeController) SetTorque(ctx context.Context, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controller.SetTorque(ctx, enable)
}

func (s *SafeController) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Controller.Stop()
}

func (s *SafeController) Playing() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Playing()
}

func (s *SafeController) State() ControllerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.State()
}

func (s *SafeController) Angles() JointAngles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Angles()
}

func (s *SafeController) Target() JointAngles {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Target()
}

func (s *SafeController) Pose() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Pose()
}

func (s *SafeController) Configuration() PoseConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Configuration()
}

func (s *SafeController) ReachableSolutions() []KinematicsSolution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.ReachableSolutions()
}

func (s *SafeController) Available(joint int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Controller.Available(joint)
}

// EncoderCalibrations returns null angle and offset of every encoder
func (s *SafeController) EncoderCalibrations() []EncoderCalibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EncoderCalibration
	for j, enc := range s.Controller.encoders {
		if enc == nil {
			continue
		}
		out = append(out, EncoderCalibration{
			Joint:     JointName(j),
			NullAngle: enc.NullAngle(),
			Offset:    enc.Offset(),
		})
	}
	return out
}

// WithEncoder runs fn on the encoder of joint while the loop is held. fn may block, e.g. for
// SampleVariance; the loop skips ticks until it returns.
func (s *SafeController) WithEncoder(joint int, fn func(e *Encoder) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := s.Controller.Encoder(joint)
	if err != nil {
		return err
	}
	if enc == nil {
		return NewError(EncoderConnectionFailed, JointName(joint), errNoEncoder)
	}
	return fn(enc)
}
