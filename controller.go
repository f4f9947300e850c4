package walter_arm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.viam.com/rdk/logging"
)

// ControllerState is the lifecycle state of the control loop
type ControllerState int

const (
	StateUninitialized ControllerState = iota
	StateSetup
	StateRunning
	StateFault
)

func (s ControllerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

var errNoEncoder = errors.New("joint has no encoder")

const (
	// DefaultCadence is the control loop period.
	DefaultCadence = 10 * time.Millisecond
	// DefaultMaxSensorFailures is the failure streak after which a sensor fault is reported.
	DefaultMaxSensorFailures = 10
	// DefaultMaxActuatorFailures is the failure streak after which a servo fault is reported.
	DefaultMaxActuatorFailures = 10
)

// Subsystem is ticked once per loop before the motion subsystem, e.g. lights or host communication.
type Subsystem interface {
	Loop(now time.Time)
}

// ConnectionChecker is implemented by actuators that can check their connection during setup.
type ConnectionChecker interface {
	CheckConnection(ctx context.Context) error
}

// FailureCounter is implemented by actuators that count consecutive failed transactions.
type FailureCounter interface {
	FailureCount() int
}

// TorqueSwitch is implemented by actuators whose holding torque can be switched.
type TorqueSwitch interface {
	SetTorqueEnabled(ctx context.Context, enable bool) error
}

// ControllerConfig wires the parts of the control loop.
type ControllerConfig struct {
	Kinematics          *Kinematics
	Actuators           []Actuator
	Encoders            []*Encoder
	Buses               []AngleSensorBus
	Subsystems          []Subsystem
	Cadence             time.Duration
	MaxSensorFailures   int
	MaxActuatorFailures int
	Logger              logging.Logger
}

// Validate checks actuator and encoder counts. Violations are fatal and never corrected.
func (cfg *ControllerConfig) Validate() error {
	if cfg.Kinematics == nil {
		return NewError(CortexSetupMissing, "controller", errors.New("no kinematics configured"))
	}
	if len(cfg.Actuators) > NumberOfActuators {
		return NewError(MisconfigTooManyServos, "controller",
			fmt.Errorf("%d actuators configured, at most %d supported", len(cfg.Actuators), NumberOfActuators))
	}
	if len(cfg.Actuators) < NumberOfActuators {
		return NewError(MisconfigServo, "controller",
			fmt.Errorf("%d actuators configured, %d required", len(cfg.Actuators), NumberOfActuators))
	}
	for i, a := range cfg.Actuators {
		if a == nil {
			return NewError(MisconfigServo, JointName(i), errors.New("no actuator"))
		}
	}
	if len(cfg.Encoders) > NumberOfActuators {
		return NewError(MisconfigTooManyEncoders, "controller",
			fmt.Errorf("%d encoders configured, at most %d supported", len(cfg.Encoders), NumberOfActuators))
	}

	seen := make(map[int]bool)
	for _, e := range cfg.Encoders {
		j := e.Joint()
		if j < 0 || j >= NumberOfActuators {
			return NewError(MisconfigEncoderWithNoStepper, JointName(j), fmt.Errorf("encoder for unknown joint %d", j))
		}
		if seen[j] {
			return NewError(MisconfigTooManyEncoders, JointName(j), errors.New("more than one encoder"))
		}
		seen[j] = true
		if !containsBus(cfg.Buses, e.Bus()) {
			return NewError(MisconfigEncoderStepperMismatch, JointName(j), errors.New("encoder bus is not a configured bus"))
		}
	}
	return nil
}

func containsBus(buses []AngleSensorBus, bus AngleSensorBus) bool {
	for _, b := range buses {
		if b == bus {
			return true
		}
	}
	return false
}

// SetupReport lists the joints whose sensor or actuator did not answer during setup.
type SetupReport struct {
	Unavailable []int
	Errors      []error
}

// OK reports whether every joint answered
func (r SetupReport) OK() bool {
	return len(r.Unavailable) == 0
}

// Controller runs the fixed cadence control loop. It is not safe for concurrent use;
// wrap it in a SafeController when called from several goroutines.
type Controller struct {
	cfg     ControllerConfig
	kin     *Kinematics
	logger  logging.Logger
	errors  *ErrorLatch
	metrics *loopMetrics

	state     ControllerState
	encoders  [NumberOfActuators]*Encoder
	available [NumberOfActuators]bool
	angles    JointAngles
	target    JointAngles
	config    PoseConfiguration

	player    *Player
	playStart time.Time

	// busFailed marks channels whose last reset failed; their fault is latched once
	busFailed  []bool
	faultSince time.Time
}

// NewController validates the configuration and creates an uninitialized controller
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Errorf("invalid controller configuration: %v", err)
		}
		return nil, err
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultCadence
	}
	if cfg.MaxSensorFailures <= 0 {
		cfg.MaxSensorFailures = DefaultMaxSensorFailures
	}
	if cfg.MaxActuatorFailures <= 0 {
		cfg.MaxActuatorFailures = DefaultMaxActuatorFailures
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("walter-controller")
	}

	metrics, err := newLoopMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create controller metrics: %w", err)
	}

	c := &Controller{
		cfg:     cfg,
		kin:     cfg.Kinematics,
		logger:  cfg.Logger,
		errors:  NewErrorLatch(cfg.Logger),
		metrics: metrics,

		busFailed: make([]bool, len(cfg.Buses)),
	}
	for _, e := range cfg.Encoders {
		c.encoders[e.Joint()] = e
	}
	return c, nil
}

// Setup checks every sensor and actuator and starts the loop. Joints that do not answer are
// marked unavailable and listed in the report; whether to proceed is up to the caller.
func (c *Controller) Setup(ctx context.Context) (SetupReport, error) {
	c.state = StateSetup
	var report SetupReport
	now := time.Now()

	for j := 0; j < NumberOfActuators; j++ {
		if err := ctx.Err(); err != nil {
			c.state = StateUninitialized
			return report, err
		}

		c.available[j] = true
		if p, ok := c.cfg.Actuators[j].(ConnectionChecker); ok {
			if err := p.CheckConnection(ctx); err != nil {
				c.markUnavailable(&report, j, err)
			}
		}
		if ts, ok := c.cfg.Actuators[j].(TorqueSwitch); ok && c.available[j] {
			if err := ts.SetTorqueEnabled(ctx, true); err != nil {
				c.markUnavailable(&report, j, NewError(ServoCommunicationFailed, JointName(j),
					fmt.Errorf("failed to enable torque: %w", err)))
			}
		}

		enc := c.encoders[j]
		if enc == nil {
			c.angles[j] = c.cfg.Actuators[j].CurrentAngle()
			continue
		}
		if err := enc.CheckConnection(); err != nil {
			c.markUnavailable(&report, j, err)
			c.angles[j] = c.cfg.Actuators[j].CurrentAngle()
			continue
		}
		if enc.ReadNewAngle(now) {
			c.angles[j] = Radians(enc.Angle())
		}
	}

	c.target = c.angles
	if config, ok := c.kin.ConfigurationOf(c.kin.ClampToLimits(c.angles)); ok {
		c.config = config
	}
	c.state = StateRunning

	if report.OK() {
		c.logger.Infof("setup complete, arm at %s (%s)", c.kin.Forward(c.angles), c.config)
	} else {
		c.logger.Warnf("setup complete with %d unavailable joints", len(report.Unavailable))
	}
	return report, nil
}

func (c *Controller) markUnavailable(report *SetupReport, joint int, err error) {
	if c.available[joint] {
		report.Unavailable = append(report.Unavailable, joint)
	}
	c.available[joint] = false
	report.Errors = append(report.Errors, err)
	c.errors.Set(err)
}

// Teardown stops any trajectory and returns the controller to the uninitialized state.
func (c *Controller) Teardown() {
	c.player = nil
	c.state = StateUninitialized
}

// Tick runs one loop iteration: subsystems, sensor reads, motion, actuator loops, bus health.
// Sensor reads always happen before the trajectory is sampled for the next tick.
func (c *Controller) Tick(ctx context.Context, now time.Time) error {
	if c.state != StateRunning && c.state != StateFault {
		return NewError(CortexSetupMissing, "controller", fmt.Errorf("tick in state %s", c.state))
	}
	began := time.Now()

	for _, s := range c.cfg.Subsystems {
		s.Loop(now)
	}

	if c.state == StateRunning {
		c.readSensors(ctx, now)
		c.advance(now)
		for _, a := range c.cfg.Actuators {
			a.Loop(now)
		}
		c.checkActuators()
	}

	c.maintainBuses(ctx, now)
	c.metrics.recordTick(ctx, c.state, time.Since(began))
	return nil
}

func (c *Controller) readSensors(ctx context.Context, now time.Time) {
	for j := 0; j < NumberOfActuators; j++ {
		enc := c.encoders[j]
		if enc == nil || !c.available[j] {
			c.angles[j] = c.cfg.Actuators[j].CurrentAngle()
			continue
		}
		// a busy or broken bus is reset at the end of the tick; keep the stale value until then
		if enc.Bus().Status() != BusIdle {
			continue
		}
		if enc.ReadNewAngle(now) {
			c.angles[j] = Radians(enc.Angle())
			continue
		}
		c.metrics.recordSensorFailure(ctx, j)
		if enc.FailureCount() == c.cfg.MaxSensorFailures {
			c.errors.Set(NewError(EncoderCallFailed, JointName(j),
				fmt.Errorf("%d consecutive failed reads", enc.FailureCount())))
		}
	}
}

func (c *Controller) advance(now time.Time) {
	if c.player == nil {
		return
	}

	elapsed := now.Add(c.cfg.Cadence).Sub(c.playStart)
	pose, err := c.player.Sample(elapsed)
	if err != nil {
		c.errors.Set(err)
		c.logger.Warnf("trajectory %s aborted: %v", c.player.Trajectory().ID, err)
		c.player = nil
		return
	}

	c.target = pose.Angles
	for j, a := range c.cfg.Actuators {
		if err := a.MoveToAngle(c.target[j], c.cfg.Cadence); err != nil {
			c.errors.Set(NewError(ServoCommunicationFailed, JointName(j), err))
		}
	}

	if c.player.Done(elapsed) {
		nodes := c.player.Trajectory().Nodes
		c.config = nodes[len(nodes)-1].Config
		c.logger.Debugf("trajectory %s finished", c.player.Trajectory().ID)
		c.player = nil
	}
}

// checkActuators latches a servo fault when an actuator's failure streak reaches the limit.
func (c *Controller) checkActuators() {
	for j, a := range c.cfg.Actuators {
		fc, ok := a.(FailureCounter)
		if !ok {
			continue
		}
		if n := fc.FailureCount(); n == c.cfg.MaxActuatorFailures {
			c.errors.Set(NewError(ServoCommunicationFailed, JointName(j),
				fmt.Errorf("%d consecutive failed servo transactions", n)))
		}
	}
}

// maintainBuses resets every sensor bus as soon as one of them is not idle. The loop stays in
// Fault until all resets succeed.
func (c *Controller) maintainBuses(ctx context.Context, now time.Time) {
	unhealthy := -1
	for i, b := range c.cfg.Buses {
		if b.Status() != BusIdle {
			unhealthy = i
			break
		}
	}
	if unhealthy < 0 {
		c.leaveFault(now)
		return
	}

	if c.state != StateFault {
		c.state = StateFault
		c.faultSince = now
		c.logger.Warnf("sensor bus %d is %s, resetting all buses", unhealthy, c.cfg.Buses[unhealthy].Status())
	}
	c.metrics.recordBusReset(ctx)

	failed := false
	for k, bus := range c.cfg.Buses {
		err := bus.Reset()
		if err == nil {
			if c.busFailed[k] {
				c.logger.Infof("sensor bus %d recovered", k)
			}
			c.busFailed[k] = false
			continue
		}
		failed = true
		if !c.busFailed[k] {
			c.busFailed[k] = true
			c.errors.Set(NewError(EncoderConnectionFailed, fmt.Sprintf("bus %d", k), err))
		}
	}
	if !failed {
		c.leaveFault(now)
	}
}

// leaveFault returns to Running. A playing trajectory resumes where it was interrupted.
func (c *Controller) leaveFault(now time.Time) {
	if c.state != StateFault {
		return
	}
	c.state = StateRunning
	if c.player != nil {
		paused := c.faultSince
		if c.playStart.After(paused) {
			paused = c.playStart
		}
		c.playStart = c.playStart.Add(now.Sub(paused))
	}
}

// Run ticks the controller at its cadence until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := c.Tick(ctx, now); err != nil {
				return err
			}
		}
	}
}

// Play compiles the trajectory from the current configuration and starts it at now.
func (c *Controller) Play(trajectory *Trajectory, now time.Time) error {
	if c.state != StateRunning && c.state != StateFault {
		return NewError(CortexSetupMissing, "controller", fmt.Errorf("cannot play in state %s", c.state))
	}
	if err := trajectory.Compile(c.kin, c.config); err != nil {
		c.errors.Set(err)
		return err
	}
	player, err := NewPlayer(trajectory, c.kin)
	if err != nil {
		return err
	}
	c.player = player
	c.playStart = now
	c.logger.Infof("playing trajectory %s with %d nodes over %s", trajectory.ID, len(trajectory.Nodes), trajectory.Duration())
	return nil
}

// MoveToAngles moves every joint from the current angles to angles, as fast as the joint speeds allow.
func (c *Controller) MoveToAngles(angles JointAngles, now time.Time) error {
	return c.MoveThroughAngles([]JointAngles{angles}, now)
}

// MoveThroughAngles passes through every waypoint without stopping and halts at the last one.
func (c *Controller) MoveThroughAngles(waypoints []JointAngles, now time.Time) error {
	if len(waypoints) == 0 {
		return NewError(InvalidTrajectory, "controller", ErrEmptyTrajectory)
	}
	from := NewNodeFromAngles(c.kin, c.kin.ClampToLimits(c.angles), JointLinear)
	from.Continuously = false
	nodes := []TrajectoryNode{from}
	for _, angles := range waypoints {
		nodes = append(nodes, NewNodeFromAngles(c.kin, angles, JointLinear))
	}
	return c.Play(NewTrajectory(nodes...), now)
}

// MoveGripper opens the gripper to distance mm and keeps the other joints at their target.
func (c *Controller) MoveGripper(distance float64, now time.Time) error {
	mmPerRadian := c.kin.Geometry().GripperMMPerRadian
	if mmPerRadian <= 0 {
		return NewError(MisconfigServo, "gripper", fmt.Errorf("gripper has no mm per radian ratio"))
	}
	angles := c.target
	angles[Gripper] = distance / mmPerRadian
	if l := c.kin.Geometry().Limits[Gripper]; angles[Gripper] < l.Min-FloatPrecision || angles[Gripper] > l.Max+FloatPrecision {
		err := NewError(Unreachable, "gripper", fmt.Errorf("gripper distance %.1fmm out of range", distance))
		c.errors.Set(err)
		return err
	}
	return c.MoveToAngles(angles, now)
}

// MoveToPose solves pose close to the preferred configuration and moves there.
func (c *Controller) MoveToPose(pose Pose, now time.Time) error {
	solution, err := c.kin.Solve(pose, c.config)
	if err != nil {
		c.errors.Set(err)
		return err
	}
	return c.MoveToAngles(solution.Angles, now)
}

// SetConfiguration moves to the solution of the current pose in the given configuration.
func (c *Controller) SetConfiguration(config PoseConfiguration, now time.Time) error {
	for _, s := range c.kin.Inverse(c.Pose()) {
		if s.Config == config {
			return c.MoveToAngles(s.Angles, now)
		}
	}
	err := NewError(Unreachable, "kinematics", fmt.Errorf("%w: configuration %s", ErrNoValidConfiguration, config))
	c.errors.Set(err)
	return err
}

// SetTorque switches the holding torque of every actuator that supports it.
func (c *Controller) SetTorque(ctx context.Context, enable bool) error {
	for j, a := range c.cfg.Actuators {
		ts, ok := a.(TorqueSwitch)
		if !ok {
			continue
		}
		if err := ts.SetTorqueEnabled(ctx, enable); err != nil {
			err = NewError(ServoCommunicationFailed, JointName(j), fmt.Errorf("failed to switch torque: %w", err))
			c.errors.Set(err)
			return err
		}
	}
	c.logger.Infof("torque enabled: %t", enable)
	return nil
}

// Stop aborts the current trajectory; actuators hold their last target.
func (c *Controller) Stop() {
	if c.player != nil {
		c.logger.Infof("trajectory %s stopped", c.player.Trajectory().ID)
	}
	c.player = nil
}

// Playing returns the id of the running trajectory
func (c *Controller) Playing() (uuid.UUID, bool) {
	if c.player == nil {
		return uuid.Nil, false
	}
	return c.player.Trajectory().ID, true
}

// State returns the loop state
func (c *Controller) State() ControllerState {
	return c.state
}

// Angles returns the latest measured joint angles
func (c *Controller) Angles() JointAngles {
	return c.angles
}

// Target returns the latest commanded joint angles
func (c *Controller) Target() JointAngles {
	return c.target
}

// Pose returns the forward kinematics of the measured angles
func (c *Controller) Pose() Pose {
	return c.kin.Forward(c.angles)
}

// Configuration returns the configuration currently preferred
func (c *Controller) Configuration() PoseConfiguration {
	return c.config
}

// ReachableSolutions returns every solution of the current pose
func (c *Controller) ReachableSolutions() []KinematicsSolution {
	return c.kin.Inverse(c.Pose())
}

// Kinematics returns the solver
func (c *Controller) Kinematics() *Kinematics {
	return c.kin
}

// Encoder returns the encoder of a joint, nil if it has none.
func (c *Controller) Encoder(joint int) (*Encoder, error) {
	if joint < 0 || joint >= NumberOfActuators {
		return nil, fmt.Errorf("%w: %d", ErrJointIndexOutOfRange, joint)
	}
	return c.encoders[joint], nil
}

// Available reports whether a joint answered during setup
func (c *Controller) Available(joint int) bool {
	if joint < 0 || joint >= NumberOfActuators {
		return false
	}
	return c.available[joint]
}

// Errors returns the latch holding the latest error
func (c *Controller) Errors() *ErrorLatch {
	return c.errors
}
