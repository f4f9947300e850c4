package walter_arm

import (
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Hardware is a controller together with the resources it holds open.
type Hardware struct {
	Controller *Controller
	closers    []func() error
}

// Close releases the servo bus and sensor devices
func (h *Hardware) Close() error {
	var firstErr error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.closers = nil
	return firstErr
}

// BuildHardware opens the servo bus and angle sensors described by cfg and creates the controller.
// cfg must have been validated.
func BuildHardware(cfg *WalterArmConfig, calibration CalibrationData, registry *BusRegistry, logger logging.Logger) (*Hardware, error) {
	geometry, err := cfg.Geometry.ArmGeometry()
	if err != nil {
		return nil, err
	}
	kin := NewKinematics(geometry)
	hw := &Hardware{}

	actuators, err := hw.openActuators(cfg, calibration, registry, logger)
	if err != nil {
		hw.Close()
		return nil, err
	}

	encoders, buses, err := hw.openEncoders(cfg, calibration, openI2CDevice, logger)
	if err != nil {
		hw.Close()
		return nil, err
	}

	controller, err := NewController(ControllerConfig{
		Kinematics:        kin,
		Actuators:         actuators,
		Encoders:          encoders,
		Buses:             buses,
		Cadence:           cfg.Cadence(),
		MaxSensorFailures: DefaultMaxSensorFailures,
		Logger:            logger,
	})
	if err != nil {
		hw.Close()
		return nil, err
	}
	hw.Controller = controller
	return hw, nil
}

func (hw *Hardware) openActuators(cfg *WalterArmConfig, calibration CalibrationData, registry *BusRegistry, logger logging.Logger) ([]Actuator, error) {
	actuators := make([]Actuator, NumberOfActuators)
	if cfg.Simulated {
		rest := DefaultJointAngles()
		for j := range actuators {
			actuators[j] = NewSimulatedActuator(rest[j])
		}
		return actuators, nil
	}

	servos := cfg.Servos
	if len(calibration.Servos) > 0 {
		servos = calibration.Servos
	}

	bus, err := registry.Acquire(BusConfig{Port: cfg.Port, Baudrate: cfg.Baudrate, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	hw.closers = append(hw.closers, func() error {
		registry.Release(port)
		return nil
	})

	for _, cal := range servos {
		if actuators[cal.Joint] != nil {
			return nil, NewError(MisconfigServo, JointName(cal.Joint), errors.Errorf("servo %d drives a joint that already has a servo", cal.ID))
		}
		servo := feetech.NewServo(bus, cal.ID, &feetech.ModelSTS3215)
		actuators[cal.Joint] = NewServoActuator(servo, cal, logger)
	}
	return actuators, nil
}

// I2CDevice is an open I2C channel.
type I2CDevice interface {
	I2C
	Reset() error
	Close() error
}

func openI2CDevice(path string) (I2CDevice, error) {
	return OpenLinuxI2C(path)
}

// openEncoders opens one AS5048B channel per sensor device and puts every encoder on its channel.
func (hw *Hardware) openEncoders(
	cfg *WalterArmConfig,
	calibration CalibrationData,
	open func(path string) (I2CDevice, error),
	logger logging.Logger,
) ([]*Encoder, []AngleSensorBus, error) {
	if len(cfg.Encoders) == 0 || cfg.Simulated {
		return nil, nil, nil
	}

	devices := cfg.SensorDevices()
	buses := make([]AngleSensorBus, 0, len(devices))
	for _, path := range devices {
		dev, err := open(path)
		if err != nil {
			return nil, nil, NewError(EncoderConnectionFailed, path, err)
		}
		hw.closers = append(hw.closers, dev.Close)
		buses = append(buses, NewAS5048B(dev, dev.Reset))
	}

	var encoders []*Encoder
	for _, ec := range calibration.Apply(cfg.Encoders) {
		if ec.Bus < 0 || ec.Bus >= len(buses) {
			return nil, nil, NewError(MisconfigEncoderStepperMismatch, JointName(ec.Joint),
				errors.Errorf("no sensor bus %d", ec.Bus))
		}
		if ec.Address == 0 {
			ec.Address = AS5048BDefaultAddress
		}
		encoders = append(encoders, NewEncoder(ec, buses[ec.Bus], logger))
		logger.Debugf("%s sensor at 0x%02x on %s", JointName(ec.Joint), ec.Address, devices[ec.Bus])
	}
	return encoders, buses, nil
}

func describeHardware(cfg *WalterArmConfig) string {
	if cfg.Simulated {
		return "simulated"
	}
	return fmt.Sprintf("%s@%d, %d sensors on %d buses", cfg.Port, cfg.Baudrate, len(cfg.Encoders), len(cfg.SensorDevices()))
}
