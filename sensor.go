// sensor.go - status sensor reporting loop state, pose, joints and the pending error of a walter arm
package walter_arm

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	WalterStatusModel = resource.NewModel("devrel", "walter", "status")
)

func init() {
	resource.RegisterComponent(sensor.API, WalterStatusModel,
		resource.Registration[sensor.Sensor, *WalterStatusConfig]{
			Constructor: NewWalterStatus,
		},
	)
}

type WalterStatusConfig struct {
	// Name of the walter arm to report on
	Arm string `json:"arm"`
}

// Validate ensures all parts of the config are valid
func (cfg *WalterStatusConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "arm")
	}
	return []string{cfg.Arm}, nil, nil
}

type walterStatus struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name   resource.Name
	logger logging.Logger
	arm    resource.Resource
}

func NewWalterStatus(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*WalterStatusConfig](rawConf)
	if err != nil {
		return nil, err
	}
	a, err := arm.FromDependencies(deps, conf.Arm)
	if err != nil {
		return nil, fmt.Errorf("walter status needs arm %q: %w", conf.Arm, err)
	}
	return newWalterStatus(rawConf.ResourceName(), a, logger), nil
}

func newWalterStatus(name resource.Name, a resource.Resource, logger logging.Logger) *walterStatus {
	return &walterStatus{name: name, logger: logger, arm: a}
}

func (s *walterStatus) Name() resource.Name {
	return s.name
}

// Readings returns the arm's status. A latched error stays until the arm's last_error command clears it.
func (s *walterStatus) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	return s.arm.DoCommand(ctx, map[string]any{"command": "readings"})
}

// DoCommand forwards to the arm
func (s *walterStatus) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	return s.arm.DoCommand(ctx, cmd)
}
