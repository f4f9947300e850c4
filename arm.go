// arm.go - Walter arm component running the control loop behind the Viam arm API
package walter_arm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"
)

var (
	WalterArmModel = resource.NewModel("devrel", "walter", "arm")

	servoBuses = NewBusRegistry(logging.NewLogger("walter-servo-bus"))
)

func init() {
	resource.RegisterComponent(arm.API, WalterArmModel,
		resource.Registration[arm.Arm, *WalterArmConfig]{
			Constructor: newWalterArm,
		},
	)
}

// kinematic chain description in the frame system's JSON format
type modelVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type modelLink struct {
	ID          string      `json:"id"`
	Parent      string      `json:"parent"`
	Translation modelVector `json:"translation"`
}

type modelJoint struct {
	ID     string      `json:"id"`
	Type   string      `json:"type"`
	Parent string      `json:"parent"`
	Axis   modelVector `json:"axis"`
	Min    float64     `json:"min"` // degrees
	Max    float64     `json:"max"`
}

type modelFile struct {
	Name         string       `json:"name"`
	KinParamType string       `json:"kinematic_param_type"`
	Links        []modelLink  `json:"links"`
	Joints       []modelJoint `json:"joints"`
}

// walterModelJSON describes the six kinematic joints of geometry. The gripper is not part of the chain.
func walterModelJSON(g ArmGeometry) ([]byte, error) {
	zAxis, yAxis := modelVector{Z: 1}, modelVector{Y: 1}
	joint := func(j int, parent string, axis modelVector) modelJoint {
		return modelJoint{
			ID:     JointName(j),
			Type:   "revolute",
			Parent: parent,
			Axis:   axis,
			Min:    Degrees(g.Limits[j].Min),
			Max:    Degrees(g.Limits[j].Max),
		}
	}
	file := modelFile{
		Name:         "walter",
		KinParamType: "SVA",
		Links: []modelLink{
			{ID: "base_link", Parent: JointName(Hip), Translation: modelVector{Z: g.HipHeight}},
			{ID: "upperarm_link", Parent: JointName(Upperarm), Translation: modelVector{Z: g.UpperarmLength}},
			{ID: "forearm_link", Parent: JointName(Elbow), Translation: modelVector{Z: g.ForearmLength}},
			{ID: "tool", Parent: JointName(Hand), Translation: modelVector{
				X: g.TCPDeviation.X,
				Y: g.TCPDeviation.Y,
				Z: g.HandLength + g.TCPDeviation.Z,
			}},
		},
		Joints: []modelJoint{
			joint(Hip, referenceframe.World, zAxis),
			joint(Upperarm, "base_link", yAxis),
			joint(Forearm, "upperarm_link", yAxis),
			joint(Elbow, JointName(Forearm), zAxis),
			joint(Wrist, "forearm_link", yAxis),
			joint(Hand, JointName(Wrist), zAxis),
		},
	}
	return json.Marshal(file)
}

// createWalterModel builds the frame system model of the arm
func createWalterModel(g ArmGeometry) (referenceframe.Model, error) {
	data, err := walterModelJSON(g)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode kinematic model")
	}
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     data,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal kinematic model")
	}
	return m.ParseConfig("walter")
}

// walterArm runs the control loop in the background and exposes it as an arm component
type walterArm struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	cfg        *WalterArmConfig
	hardware   *Hardware
	controller *SafeController
	model      referenceframe.Model

	moveLock sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newWalterArm(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*WalterArmConfig](rawConf)
	if err != nil {
		return nil, err
	}
	return NewWalterArm(ctx, rawConf.ResourceName(), conf, logger)
}

// NewWalterArm opens the hardware, runs setup and starts the control loop
func NewWalterArm(ctx context.Context, name resource.Name, conf *WalterArmConfig, logger logging.Logger) (arm.Arm, error) {
	if _, _, err := conf.Validate(name.ShortName()); err != nil {
		return nil, err
	}
	conf.Logger = logger

	calibration, fromFile := conf.LoadCalibration(logger)
	if !fromFile {
		logger.Debug("running without calibration file")
	}

	hw, err := BuildHardware(conf, calibration, servoBuses, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build walter arm (%s): %w", describeHardware(conf), err)
	}
	model, err := createWalterModel(hw.Controller.Kinematics().Geometry())
	if err != nil {
		hw.Close()
		return nil, fmt.Errorf("failed to create kinematic model: %w", err)
	}
	controller := NewSafeController(hw.Controller)

	report, err := controller.Setup(ctx)
	if err != nil {
		hw.Close()
		return nil, fmt.Errorf("walter arm setup failed: %w", err)
	}
	for _, joint := range report.Unavailable {
		logger.Warnf("joint %s is unavailable", JointName(joint))
	}

	s := &walterArm{
		name:       name,
		logger:     logger,
		cfg:        conf,
		hardware:   hw,
		controller: controller,
		model:      model,
	}
	s.startLoop()

	logger.Infof("Walter arm initialized (%s)", describeHardware(conf))
	return s, nil
}

func (s *walterArm) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	utils.PanicCapturingGo(func() {
		defer close(s.done)
		if err := s.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Errorf("control loop stopped: %v", err)
		}
	})
}

func (s *walterArm) Name() resource.Name {
	return s.name
}

// waitForMotion blocks until no trajectory is playing. Cancelling ctx stops the arm.
func (s *walterArm) waitForMotion(ctx context.Context) error {
	for {
		if _, playing := s.controller.Playing(); !playing {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, s.cfg.Cadence()) {
			s.controller.Stop()
			return ctx.Err()
		}
	}
}

// spatialPose converts a pose to the frame system's representation
func spatialPose(p Pose) spatialmath.Pose {
	return spatialmath.NewPose(p.Position.vector(), &spatialmath.EulerAngles{
		Roll:  p.Orientation.X,
		Pitch: p.Orientation.Y,
		Yaw:   p.Orientation.Z,
	})
}

// withSpatialPose replaces position and orientation of p, keeping gripper and tool offset
func withSpatialPose(p Pose, sp spatialmath.Pose) Pose {
	ea := sp.Orientation().EulerAngles()
	p.Position = pointOf(sp.Point())
	p.Orientation = Rotation{X: ea.Roll, Y: ea.Pitch, Z: ea.Yaw}
	return p
}

func (s *walterArm) anglesFromInputs(inputs []referenceframe.Input) (JointAngles, error) {
	if len(inputs) != NumberOfKinematicJoints {
		return JointAngles{}, fmt.Errorf("expected %d joint positions, got %d", NumberOfKinematicJoints, len(inputs))
	}
	angles := s.controller.Target()
	for j, input := range inputs {
		angles[j] = input.Value
	}
	return angles, nil
}

func (s *walterArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	return spatialPose(s.controller.Pose()), nil
}

func (s *walterArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	target := withSpatialPose(s.controller.Pose(), pose)
	if err := s.controller.MoveToPose(target, time.Now()); err != nil {
		return fmt.Errorf("failed to move to %s: %w", target, err)
	}
	return s.waitForMotion(ctx)
}

func (s *walterArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	return s.MoveThroughJointPositions(ctx, [][]referenceframe.Input{positions}, nil, extra)
}

func (s *walterArm) MoveThroughJointPositions(
	ctx context.Context,
	positions [][]referenceframe.Input,
	options *arm.MoveOptions,
	extra map[string]interface{},
) error {
	s.moveLock.Lock()
	defer s.moveLock.Unlock()

	waypoints := make([]JointAngles, 0, len(positions))
	for _, inputs := range positions {
		angles, err := s.anglesFromInputs(inputs)
		if err != nil {
			return err
		}
		waypoints = append(waypoints, angles)
	}
	if err := s.controller.MoveThroughAngles(waypoints, time.Now()); err != nil {
		return fmt.Errorf("failed to move to joint positions: %w", err)
	}
	return s.waitForMotion(ctx)
}

func (s *walterArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	angles := s.controller.Angles()
	positions := make([]referenceframe.Input, NumberOfKinematicJoints)
	for j := range positions {
		positions[j] = referenceframe.Input{Value: angles[j]}
	}
	return positions, nil
}

func (s *walterArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.controller.Stop()
	return nil
}

func (s *walterArm) IsMoving(ctx context.Context) (bool, error) {
	_, playing := s.controller.Playing()
	return playing, nil
}

func (s *walterArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return s.model, nil
}

func (s *walterArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return s.JointPositions(ctx, nil)
}

func (s *walterArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return s.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (s *walterArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	inputs, err := s.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := s.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

// Close stops the control loop and releases the hardware
func (s *walterArm) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		<-s.done
	}
	s.controller.Teardown()

	if s.hardware != nil {
		err := s.hardware.Close()
		s.hardware = nil
		return err
	}
	return nil
}
