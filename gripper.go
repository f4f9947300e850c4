package walter_arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	WalterGripperModel = resource.NewModel("devrel", "walter", "gripper")
)

func init() {
	resource.RegisterComponent(gripper.API, WalterGripperModel,
		resource.Registration[gripper.Gripper, *WalterGripperConfig]{
			Constructor: NewWalterGripper,
		},
	)
}

type WalterGripperConfig struct {
	// Name of the walter arm that owns the gripper servo
	Arm string `json:"arm"`

	OpenDistance   float64 `json:"open_distance_mm,omitempty"`
	ClosedDistance float64 `json:"closed_distance_mm,omitempty"`

	// Default 10s
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *WalterGripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "arm")
	}
	if cfg.OpenDistance == 0 {
		cfg.OpenDistance = 60
	}
	if cfg.ClosedDistance < 0 || cfg.ClosedDistance >= cfg.OpenDistance {
		return nil, nil, fmt.Errorf("closed_distance_mm must be between 0 and open_distance_mm (%.1f), got %.1f",
			cfg.OpenDistance, cfg.ClosedDistance)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return []string{cfg.Arm}, nil, nil
}

// walterGripper moves the gripper joint of a walter arm through the arm's DoCommand surface
type walterGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	cfg        *WalterGripperConfig
	arm        resource.Resource
	geometries []spatialmath.Geometry

	mu       sync.Mutex
	isMoving atomic.Bool
}

func NewWalterGripper(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (gripper.Gripper, error) {
	conf, err := resource.NativeConfig[*WalterGripperConfig](rawConf)
	if err != nil {
		return nil, err
	}
	a, err := arm.FromDependencies(deps, conf.Arm)
	if err != nil {
		return nil, fmt.Errorf("walter gripper needs arm %q: %w", conf.Arm, err)
	}
	return newWalterGripper(rawConf.ResourceName(), conf, a, logger)
}

func newWalterGripper(name resource.Name, conf *WalterGripperConfig, a resource.Resource, logger logging.Logger) (*walterGripper, error) {
	box, err := spatialmath.NewBox(
		spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: 40}),
		r3.Vector{X: conf.OpenDistance + 20, Y: 30, Z: 80},
		"gripper-box",
	)
	if err != nil {
		return nil, err
	}
	return &walterGripper{
		name:       name,
		logger:     logger,
		cfg:        conf,
		arm:        a,
		geometries: []spatialmath.Geometry{box},
	}, nil
}

func (g *walterGripper) Name() resource.Name {
	return g.name
}

func (g *walterGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	if err := g.moveTo(ctx, g.cfg.OpenDistance); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return g.waitForArm(ctx)
}

// Grab closes the gripper. The servos report no load, so grabbing is judged by the position the
// gripper settled at: anything short of fully closed means an object is in the way.
func (g *walterGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	if err := g.moveTo(ctx, g.cfg.ClosedDistance); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
	if err := g.waitForArm(ctx); err != nil {
		return false, err
	}

	distance, err := g.distance(ctx)
	if err != nil {
		return false, err
	}
	tolerance := (g.cfg.OpenDistance - g.cfg.ClosedDistance) * 0.05
	grabbed := distance-g.cfg.ClosedDistance > tolerance
	g.logger.Debugf("gripper closed to %.1fmm, grabbed: %t", distance, grabbed)
	return grabbed, nil
}

func (g *walterGripper) moveTo(ctx context.Context, distance float64) error {
	_, err := g.arm.DoCommand(ctx, map[string]interface{}{
		"command":  "set_gripper",
		"distance": distance,
	})
	return err
}

// waitForArm polls until the arm has no trajectory running
func (g *walterGripper) waitForArm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	pollInterval := 20 * time.Millisecond
	for {
		status, err := g.arm.DoCommand(ctx, map[string]interface{}{"command": "status"})
		if err != nil {
			return err
		}
		if playing, _ := status["playing"].(bool); !playing {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gripper did not settle within %s: %w", g.cfg.Timeout, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (g *walterGripper) distance(ctx context.Context) (float64, error) {
	status, err := g.arm.DoCommand(ctx, map[string]interface{}{"command": "status"})
	if err != nil {
		return 0, err
	}
	distance, ok := status["gripper_mm"].(float64)
	if !ok {
		return 0, fmt.Errorf("arm reported no gripper distance")
	}
	return distance, nil
}

func (g *walterGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(false)
	_, err := g.arm.DoCommand(ctx, map[string]interface{}{"command": "stop"})
	return err
}

func (g *walterGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *walterGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *walterGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		distance, err := g.distance(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"distance_mm":        distance,
			"open_distance_mm":   g.cfg.OpenDistance,
			"closed_distance_mm": g.cfg.ClosedDistance,
		}, nil

	case "set_position":
		distance, ok := cmd["distance_mm"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_position command requires 'distance_mm' parameter")
		}
		if distance < g.cfg.ClosedDistance {
			distance = g.cfg.ClosedDistance
		}
		if distance > g.cfg.OpenDistance {
			distance = g.cfg.OpenDistance
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		err := g.moveTo(ctx, distance)
		return map[string]interface{}{"success": err == nil}, err

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *walterGripper) Close(ctx context.Context) error {
	return nil
}

func (g *walterGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *walterGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *walterGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *walterGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}
